package devserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"

	"marketlink/pkg/errors"
)

// tokenClaims is the devserver's stand-in for the production identity
// provider's token payload.
type tokenClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	expiry time.Duration
}

func NewAuthenticator(secret string, expiry time.Duration) *Authenticator {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), expiry: expiry}
}

// IssueToken mints a development bearer token for the given identity.
func (a *Authenticator) IssueToken(userID, username string) (string, error) {
	claims := tokenClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(a.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Verify parses a bearer token and returns the user id and username.
func (a *Authenticator) Verify(tokenString string) (string, string, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Unauthorized("unexpected signing method", nil)
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return "", "", errors.Unauthorized("invalid or expired token", err)
	}
	return claims.Subject, claims.Username, nil
}

// Authenticate is the echo middleware guarding the chat REST surface. The
// websocket route also accepts the token as a query parameter because
// browser websocket clients cannot set headers.
func (a *Authenticator) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tokenString := bearerToken(c.Request().Header.Get("Authorization"))
		if tokenString == "" {
			tokenString = c.QueryParam("token")
		}
		if tokenString == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header is required")
		}

		userID, username, err := a.Verify(tokenString)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
		}

		c.Set("uid", userID)
		c.Set("username", username)
		return next(c)
	}
}

func bearerToken(header string) string {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
