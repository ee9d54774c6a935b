// Package channels exposes the assistant to local clients. The gateway is a
// WebSocket endpoint on loopback: one connection is one dialog session.
// Utterances travel through the message bus, so the gateway never calls the
// orchestrator directly.
package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"deskmate/pkg/bus"
	"deskmate/pkg/config"
	"deskmate/pkg/logger"
)

const (
	writeTimeout   = 10 * time.Second
	replyTimeout   = 90 * time.Second
	maxMessageSize = 64 * 1024
)

// Request is one client utterance with optional per-message overrides.
type Request struct {
	Message      string `json:"message"`
	AutoConfirm  *bool  `json:"auto_confirm,omitempty"`
	ForceConfirm bool   `json:"force_confirm,omitempty"`
	Model        string `json:"model,omitempty"`
}

// Response mirrors the agent's outbound message on the wire.
type Response struct {
	Response             string                 `json:"response"`
	Ok                   bool                   `json:"ok"`
	RequiresConfirmation bool                   `json:"requires_confirmation"`
	Model                string                 `json:"model,omitempty"`
	Items                []string               `json:"items,omitempty"`
	Data                 map[string]interface{} `json:"data,omitempty"`
}

type Gateway struct {
	cfg      config.GatewayConfig
	bus      *bus.MessageBus
	upgrader websocket.Upgrader
	server   *http.Server

	// baseCtx outlives individual requests. Connection loops publish with
	// it because the request context dies as soon as the handler returns.
	baseCtx context.Context

	mu       sync.Mutex
	sessions map[string]chan bus.OutboundMessage
}

func NewGateway(cfg config.GatewayConfig, messageBus *bus.MessageBus) *Gateway {
	return &Gateway{
		cfg:     cfg,
		bus:     messageBus,
		baseCtx: context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The gateway binds to loopback, browser clients on this
			// machine are trusted.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: map[string]chan bus.OutboundMessage{},
	}
}

func (g *Gateway) Addr() string {
	return fmt.Sprintf("%s:%d", g.cfg.Host, g.cfg.Port)
}

// Routes returns the gateway's HTTP handler.
func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/ws", g.handleWS)
	return mux
}

// Start serves until the context is cancelled.
func (g *Gateway) Start(ctx context.Context) error {
	g.baseCtx = ctx
	go g.routeOutbound(ctx)

	g.server = &http.Server{
		Addr:              g.Addr(),
		Handler:           g.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- g.server.ListenAndServe()
	}()

	logger.InfoCF("gateway", "listening", map[string]interface{}{"addr": g.Addr()})

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return g.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// routeOutbound delivers replies from the bus to the connection that owns
// the session. Replies for unknown sessions are dropped.
func (g *Gateway) routeOutbound(ctx context.Context) {
	for {
		out, ok := g.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		g.mu.Lock()
		replyCh := g.sessions[out.SessionID]
		g.mu.Unlock()
		if replyCh == nil {
			continue
		}
		select {
		case replyCh <- out:
		default:
			logger.WarnCF("gateway", "reply dropped, slow client", map[string]interface{}{
				"session": out.SessionID,
			})
		}
	}
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("gateway", "upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	g.serveConn(g.baseCtx, conn)
}

func (g *Gateway) serveConn(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	sessionID := uuid.NewString()
	replyCh := make(chan bus.OutboundMessage, 4)
	g.mu.Lock()
	g.sessions[sessionID] = replyCh
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.sessions, sessionID)
		g.mu.Unlock()
	}()

	logger.DebugCF("gateway", "session opened", map[string]interface{}{"session": sessionID})

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.DebugCF("gateway", "session closed", map[string]interface{}{
					"session": sessionID,
					"error":   err.Error(),
				})
			}
			return
		}

		err := g.bus.PublishInbound(ctx, bus.InboundMessage{
			Channel:      "gateway",
			SessionID:    sessionID,
			Content:      req.Message,
			AutoConfirm:  req.AutoConfirm,
			ForceConfirm: req.ForceConfirm,
			Model:        req.Model,
		})
		if err != nil {
			g.writeResponse(conn, Response{Response: "Сервис перегружен, попробуйте ещё раз.", Ok: false})
			continue
		}

		select {
		case out := <-replyCh:
			if err := g.writeResponse(conn, Response{
				Response:             out.Response,
				Ok:                   out.Ok,
				RequiresConfirmation: out.RequiresConfirmation,
				Model:                out.Model,
				Items:                out.Items,
				Data:                 out.Data,
			}); err != nil {
				return
			}
		case <-time.After(replyTimeout):
			if err := g.writeResponse(conn, Response{Response: "Команда выполняется слишком долго.", Ok: false}); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) writeResponse(conn *websocket.Conn, resp Response) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(resp)
}
