package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"marketlink/internal/adapter/restapi"
	"marketlink/internal/domain/entity"
	ws "marketlink/internal/infrastructure/websocket"
	"marketlink/internal/usecase"
	"marketlink/pkg/config"
)

// Interactive terminal client for the chat engine. Intended for development
// against cmd/devserver or a real gateway.
func main() {
	userID := flag.String("user", "", "user id")
	username := flag.String("name", "", "display name")
	token := flag.String("token", "", "bearer token (fetched from the dev token endpoint when empty)")
	flag.Parse()

	if *userID == "" {
		log.Fatal("missing -user flag")
	}
	if *username == "" {
		*username = *userID
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	authToken := *token
	if authToken == "" {
		authToken, err = fetchDevToken(cfg.APIBaseURL, *userID, *username)
		if err != nil {
			log.Fatalf("Failed to fetch dev token: %v", err)
		}
	}

	api := restapi.NewChatClient(cfg.APIBaseURL, nil)
	api.SetAuthToken(authToken)

	transport := ws.NewClient(ws.Options{
		URL:                  cfg.WebsocketURL,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		HandshakeTimeout:     cfg.HandshakeTimeout,
	})

	localUser := entity.Participant{UserID: *userID, DisplayName: *username}
	session := usecase.NewChatSession(transport, api, localUser, usecase.SessionOptions{
		PageSize:       cfg.MessagePageSize,
		TypingDebounce: cfg.TypingDebounce,
		TypingExpiry:   cfg.TypingExpiry,
	})

	// Extra listeners for live terminal output; the session keeps its own.
	transport.OnMessage(func(inbound ws.InboundMessage) {
		m := inbound.Message
		if m.SenderID != localUser.UserID {
			fmt.Printf("\n[%s] %s: %s\n> ", m.ConversationID[:8], m.SenderName, m.Content)
		}
	})
	transport.OnTyping(func(signal *entity.TypingSignal) {
		if signal.IsTyping {
			fmt.Printf("\n... %s is typing\n> ", signal.UserName)
		}
	})
	transport.OnConnectionChange(func(state ws.ConnectionState, err error) {
		if err != nil {
			fmt.Printf("\n[connection: %s] %v\n> ", state, err)
		} else {
			fmt.Printf("\n[connection: %s]\n> ", state)
		}
	})

	ctx := context.Background()
	if err := session.Start(ctx, authToken); err != nil {
		log.Fatalf("Failed to start chat session: %v", err)
	}
	defer session.Close()

	fmt.Println("Connected. Commands: /list /open <n> /older /new <user> <message> /delete <id> /archive /badge /quit")
	fmt.Println("Anything else is sent as a message to the open conversation.")

	repl(ctx, session)
}

func repl(ctx context.Context, session *usecase.ChatSession) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":

		case line == "/quit":
			return

		case line == "/list":
			snap := session.Snapshot()
			for i, conv := range snap.Conversations {
				marker := " "
				if conv.ID == snap.ActiveConversationID {
					marker = "*"
				}
				fmt.Printf("%s %2d. %s  unread=%d  %s\n", marker, i+1, conv.ID[:8], conv.UnreadCount, conv.LastMessage)
			}

		case strings.HasPrefix(line, "/open "):
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/open ")))
			snap := session.Snapshot()
			if err != nil || n < 1 || n > len(snap.Conversations) {
				fmt.Println("usage: /open <list number>")
				break
			}
			conv := snap.Conversations[n-1]
			if err := session.SelectConversation(ctx, conv.ID); err != nil {
				fmt.Printf("open failed: %v\n", err)
				break
			}
			for _, m := range session.Snapshot().Messages {
				fmt.Printf("  [%s] %s: %s (%s)\n", m.SentAt.Format(time.Kitchen), m.SenderName, m.Content, m.Status)
			}

		case line == "/older":
			hasMore, err := session.LoadOlderMessages(ctx)
			if err != nil {
				fmt.Printf("load failed: %v\n", err)
				break
			}
			fmt.Printf("loaded older page (more=%v)\n", hasMore)

		case strings.HasPrefix(line, "/new "):
			parts := strings.SplitN(strings.TrimPrefix(line, "/new "), " ", 2)
			if len(parts) != 2 {
				fmt.Println("usage: /new <user id> <message>")
				break
			}
			conv, err := session.CreateConversation(ctx, usecase.CreateConversationInput{
				RecipientID:    parts[0],
				InitialMessage: parts[1],
			})
			if err != nil {
				fmt.Printf("create failed: %v\n", err)
				break
			}
			fmt.Printf("created conversation %s\n", conv.ID[:8])

		case strings.HasPrefix(line, "/delete "):
			if err := session.DeleteMessage(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/delete "))); err != nil {
				fmt.Printf("delete failed: %v\n", err)
			}

		case line == "/archive":
			snap := session.Snapshot()
			if snap.ActiveConversationID == "" {
				fmt.Println("no open conversation")
				break
			}
			if err := session.ArchiveConversation(ctx, snap.ActiveConversationID); err != nil {
				fmt.Printf("archive failed: %v\n", err)
			}

		case line == "/badge":
			fmt.Printf("unread conversations: %d\n", session.UnreadBadge())

		default:
			session.EmitTyping()
			if _, sent := session.SendMessage(usecase.SendMessageInput{Content: line}); !sent {
				fmt.Println("(not connected; message kept as unconfirmed placeholder)")
			}
		}
		fmt.Print("> ")
	}
}

func fetchDevToken(baseURL, userID, username string) (string, error) {
	body, err := json.Marshal(map[string]string{"user_id": userID, "username": username})
	if err != nil {
		return "", err
	}

	resp, err := http.Post(baseURL+"/dev/token", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", err
	}
	if !envelope.Success || envelope.Data.Token == "" {
		return "", fmt.Errorf("token endpoint returned failure (status %d)", resp.StatusCode)
	}
	return envelope.Data.Token, nil
}
