package devserver

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"marketlink/internal/domain/entity"
	"marketlink/pkg/config"
	"marketlink/pkg/errors"
	"marketlink/pkg/response"
	"marketlink/pkg/utils"
)

// Server is the development stub for the marketplace chat backend: the REST
// collaborator surface plus the websocket gateway, backed by an in-memory
// store. It exists so the engine can be exercised end to end without the
// production services.
type Server struct {
	echo  *echo.Echo
	store *memoryStore
	hub   *Hub
	auth  *Authenticator
	cfg   *config.Config
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // development only
	},
}

func NewServer(cfg *config.Config) *Server {
	store := newMemoryStore()

	e := echo.New()
	e.HideBanner = true
	e.Validator = &requestValidator{validate: validator.New()}
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:  e,
		store: store,
		hub:   NewHub(store),
		auth:  NewAuthenticator(cfg.JWTSecret, 0),
		cfg:   cfg,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	v1 := s.echo.Group("/v1")
	v1.POST("/dev/token", s.issueToken)

	chats := v1.Group("/chats")
	chats.Use(s.auth.Authenticate)
	chats.GET("", s.listConversations)
	chats.POST("", s.createConversation)
	chats.GET("/unread-count", s.unreadCount)
	chats.GET("/:id/messages", s.listMessages)
	chats.PUT("/:id/read", s.markRead)
	chats.DELETE("/:id", s.archiveConversation)
	chats.DELETE("/:id/messages/:messageId", s.deleteMessage)

	wsGroup := v1.Group("/ws")
	wsGroup.Use(s.auth.Authenticate)
	wsGroup.GET("", s.handleWebsocket)
}

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Handler exposes the underlying handler for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.echo
}

type issueTokenRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	Username string `json:"username" validate:"required"`
}

func (s *Server) issueToken(c echo.Context) error {
	var req issueTokenRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	s.store.RegisterUser(entity.Participant{
		UserID:      req.UserID,
		DisplayName: req.Username,
	})

	token, err := s.auth.IssueToken(req.UserID, req.Username)
	if err != nil {
		return response.Error(c, errors.Internal("failed to issue token", err))
	}
	return response.Success(c, map[string]string{"token": token})
}

func (s *Server) listConversations(c echo.Context) error {
	userID := c.Get("uid").(string)
	params := utils.GetPaginationParams(c)

	conversations, total := s.store.ListConversations(userID, params.Page, params.PageSize)
	return response.Paginated(c, conversations, total, params.Page, params.PageSize)
}

type createConversationRequest struct {
	RecipientID    string `json:"recipient_id" validate:"required"`
	ProductID      string `json:"product_id,omitempty"`
	InitialMessage string `json:"initial_message,omitempty"`
}

func (s *Server) createConversation(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)
	if allowed, wait := s.hub.rateLimiter.Allow(userID, "create_chat"); !allowed {
		return response.Error(c, errors.TooManyRequests("too many new conversations", wait))
	}

	conv, _ := s.store.CreateConversation(userID, req.RecipientID, req.ProductID, req.InitialMessage)
	return response.Created(c, conv)
}

func (s *Server) listMessages(c echo.Context) error {
	userID := c.Get("uid").(string)
	conversationID := c.Param("id")
	if !s.store.IsParticipant(conversationID, userID) {
		return response.Error(c, errors.Forbidden("not a participant of this conversation", nil))
	}

	limit := 20
	offset := 0
	if v := c.QueryParam("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	messages, total := s.store.ListMessages(conversationID, limit, offset)
	page := offset/limit + 1
	return response.Paginated(c, messages, total, page, limit)
}

func (s *Server) markRead(c echo.Context) error {
	userID := c.Get("uid").(string)
	conversationID := c.Param("id")
	if !s.store.IsParticipant(conversationID, userID) {
		return response.Error(c, errors.Forbidden("not a participant of this conversation", nil))
	}

	s.store.MarkRead(conversationID, userID)
	return response.Success(c, map[string]bool{"marked": true})
}

func (s *Server) archiveConversation(c echo.Context) error {
	userID := c.Get("uid").(string)
	conversationID := c.Param("id")
	if !s.store.IsParticipant(conversationID, userID) {
		return response.Error(c, errors.Forbidden("not a participant of this conversation", nil))
	}

	if err := s.store.Archive(conversationID, userID); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]bool{"archived": true})
}

func (s *Server) deleteMessage(c echo.Context) error {
	userID := c.Get("uid").(string)
	conversationID := c.Param("id")
	if !s.store.IsParticipant(conversationID, userID) {
		return response.Error(c, errors.Forbidden("not a participant of this conversation", nil))
	}

	if err := s.store.DeleteMessage(conversationID, c.Param("messageId"), userID); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]bool{"deleted": true})
}

func (s *Server) unreadCount(c echo.Context) error {
	userID := c.Get("uid").(string)
	return response.Success(c, map[string]int{"count": s.store.UnreadConversations(userID)})
}

func (s *Server) handleWebsocket(c echo.Context) error {
	userID, ok := c.Get("uid").(string)
	if !ok || userID == "" {
		return errors.Unauthorized("Authentication required", nil)
	}
	username, _ := c.Get("username").(string)

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return errors.Internal("Failed to upgrade connection", err)
	}

	s.store.RegisterUser(entity.Participant{UserID: userID, DisplayName: username, Online: true})
	s.hub.Attach(userID, username, conn)
	return nil
}
