// Package httpapi exposes the chat entry point and the read-only memory
// endpoints over HTTP and WebSocket.
//
// Identity is taken from the X-Tenant-ID and X-User-ID headers. For chat
// requests the body's context.tenantId and context.userId are accepted as a
// fallback. Requests without identity are rejected with 401 before any task
// is built.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/meshchat/chat"
	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/logging"
	"github.com/hupe1980/meshchat/registry"
	"github.com/hupe1980/meshchat/task"
)

const (
	// HeaderTenantID carries the caller tenant.
	HeaderTenantID = "X-Tenant-ID"
	// HeaderUserID carries the caller user.
	HeaderUserID = "X-User-ID"
	// HeaderRequestID carries the request correlation id.
	HeaderRequestID = "X-Request-ID"

	// DefaultMaxBodyBytes caps chat request bodies.
	DefaultMaxBodyBytes = 64 << 10

	// DefaultPongWait is how long a WebSocket peer may stay silent, pongs
	// included, before the connection is dropped.
	DefaultPongWait = 60 * time.Second
)

// ChatHandler handles one chat message.
type ChatHandler interface {
	Handle(ctx context.Context, owner core.Identity, req task.Request) (*chat.Response, error)
}

// Memory is the memory manager surface served to history-browsing clients.
type Memory interface {
	ListSessions(ctx context.Context, owner core.Identity, limit int) ([]*core.ConversationSession, error)
	GetSession(ctx context.Context, owner core.Identity, sessionID string) (*core.ConversationSession, error)
	GetTimeline(ctx context.Context, owner core.Identity, sessionID string, limit int) ([]core.ConversationMessage, error)
	SearchMessages(ctx context.Context, owner core.Identity, query string, limit int) ([]core.ConversationMessage, error)
	GetRecentHistory(ctx context.Context, owner core.Identity, conversationID string, limit int) ([]core.ConversationMessage, error)
	Restore(ctx context.Context, owner core.Identity, sessionID string) (string, *core.ConversationSession, error)
	Complete(ctx context.Context, owner core.Identity, sessionID string) (*core.ConversationSession, error)
	Archive(ctx context.Context, owner core.Identity, sessionID string) (*core.ConversationSession, error)
	Reopen(ctx context.Context, owner core.Identity, sessionID string) (*core.ConversationSession, error)
}

// AgentSummary reports aggregate agent counts.
type AgentSummary interface {
	Summary() registry.Summary
}

// Options configures a Server.
type Options struct {
	Logger logging.Logger
	// Gatherer enables GET /metrics when set.
	Gatherer prometheus.Gatherer
	// Features is reported verbatim by GET /health.
	Features map[string]bool
	// AllowedOrigins for CORS and WebSocket upgrades; empty allows all.
	AllowedOrigins []string
	MaxBodyBytes   int64
	// DisableWebSocket removes GET /chat/ws.
	DisableWebSocket bool
	// PongWait bounds WebSocket silence; the server pings at 9/10 of it.
	PongWait time.Duration
	Now      func() time.Time
}

// Server serves the HTTP API.
type Server struct {
	chat     ChatHandler
	memory   Memory
	agents   AgentSummary
	opts     Options
	upgrader websocket.Upgrader
	handler  http.Handler
}

// NewServer wires routes and middlewares.
func NewServer(chatHandler ChatHandler, mem Memory, agents AgentSummary, optFns ...func(o *Options)) *Server {
	opts := Options{
		Logger:       logging.NoOpLogger{},
		Features:     map[string]bool{},
		MaxBodyBytes: DefaultMaxBodyBytes,
		Now:          time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.PongWait <= 0 {
		opts.PongWait = DefaultPongWait
	}

	s := &Server{
		chat:   chatHandler,
		memory: mem,
		agents: agents,
		opts:   opts,
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return s.originAllowed(r.Header.Get("Origin")) },
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", s.handleChat)
	if !opts.DisableWebSocket {
		mux.HandleFunc("GET /chat/ws", s.handleChatWS)
	}

	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /sessions/{id}/recent", s.handleRecent)
	mux.HandleFunc("POST /sessions/{id}/restore", s.handleRestore)
	mux.HandleFunc("POST /sessions/{id}/complete", s.handleStatus(mem.Complete))
	mux.HandleFunc("POST /sessions/{id}/archive", s.handleStatus(mem.Archive))
	mux.HandleFunc("POST /sessions/{id}/reopen", s.handleStatus(mem.Reopen))
	mux.HandleFunc("GET /messages/search", s.handleSearch)
	mux.HandleFunc("GET /health", s.handleHealth)

	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	s.handler = chainMiddlewares(mux,
		s.withRecover,
		s.withLogging,
		s.withCORS,
		withRequestID,
	)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.opts.AllowedOrigins) == 0 || origin == "" {
		return true
	}

	for _, o := range s.opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}

	return false
}
