// Package api exposes the bot's HTTP surface: the bridge webhook that
// feeds inbound messages into the pipeline, chat history reads for the
// dashboard, per-phone agent toggles and direct send endpoints.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fleetyard/waybot/internal/store"
	"github.com/fleetyard/waybot/internal/transport"
)

// historySessions caps how many sessions the chat history endpoint walks.
const historySessions = 5

// InboundHandler receives webhook messages from the bridge.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg transport.InboundMessage) error
}

// SessionEnder ends a phone's active session.
type SessionEnder interface {
	End(ctx context.Context, phone, status string) error
}

// Texter sends outbound text messages.
type Texter interface {
	Text(ctx context.Context, chatID, body string) error
}

// queuedMessage is one bulk-send entry.
type queuedMessage struct {
	to    string
	body  string
	delay time.Duration
}

// Server is the HTTP API.
type Server struct {
	store    *store.Store
	inbound  InboundHandler
	sessions SessionEnder
	sender   Texter
	port     int

	queue chan queuedMessage
}

// Opts holds configuration for the API server.
type Opts struct {
	Store    *store.Store
	Inbound  InboundHandler
	Sessions SessionEnder
	Sender   Texter
	Port     int
}

// New creates a Server.
func New(opts Opts) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("api: store is required")
	}
	if opts.Inbound == nil || opts.Sessions == nil || opts.Sender == nil {
		return nil, fmt.Errorf("api: inbound handler, sessions and sender are required")
	}
	port := opts.Port
	if port <= 0 {
		port = 8000
	}
	return &Server{
		store:    opts.Store,
		inbound:  opts.Inbound,
		sessions: opts.Sessions,
		sender:   opts.Sender,
		port:     port,
		queue:    make(chan queuedMessage, 256),
	}, nil
}

// Run launches the server and the bulk-send worker. It blocks until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s.registerRoutes(router)

	go s.messageWorker(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: router,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("api: listening on :%d", s.port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// messageWorker drains the bulk-send queue, one message at a time.
func (s *Server) messageWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.queue:
			if err := s.sender.Text(ctx, msg.to, msg.body); err != nil {
				log.Printf("api: bulk send to %s: %v", msg.to, err)
			}
			if msg.delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(msg.delay):
				}
			}
		}
	}
}
