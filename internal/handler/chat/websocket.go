package chat

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/floatchat/backend/internal/gate"
	chatmodel "github.com/floatchat/backend/internal/model/chat"
	"github.com/floatchat/backend/internal/notify"
	"github.com/floatchat/backend/internal/service/auth"
	chatservice "github.com/floatchat/backend/internal/service/chat"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// Frame types sent to the browser.
const (
	frameSnapshot = "snapshot"
	frameTurn     = "turn"
	frameBusy     = "busy"
	frameNotice   = "notice"
	frameError    = "error"
)

type inboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversationId"`
	Data           interface{} `json:"data,omitempty"`
	Timestamp      int64       `json:"timestamp"`
}

// socket serialises writes; gorilla connections allow one concurrent writer.
type socket struct {
	conn           *websocket.Conn
	conversationID string
	logger         *zap.Logger

	mu sync.Mutex
}

func (s *socket) send(frameType string, data interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	msg := outgoingMessage{
		Type:           frameType,
		ConversationID: s.conversationID,
		Data:           data,
		Timestamp:      time.Now().Unix(),
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Debug("websocket write failed", zap.String("frame", frameType), zap.Error(err))
	}
}

func (s *socket) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *socket) close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = s.conn.Close()
}

// Notify emits a notice frame.
func (s *socket) Notify(text string, d time.Duration) {
	s.send(frameNotice, notify.Message{Text: text, DurationMs: d.Milliseconds()})
}

// handleWebSocket is a live chat view. It lives as long as the connection;
// closing it cancels any outstanding request so its late reply is dropped.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sid, session, _ := gate.FromContext(r.Context())
	ownerID, id := owner(r), chi.URLParam(r, "id")

	exchange, err := h.chatSvc.Exchange(r.Context(), ownerID, id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	logger := h.logger.With(zap.String("conversation", id))
	sock := &socket{conn: conn, conversationID: id, logger: logger}
	defer conn.Close()

	logger.Info("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if h.subscribe != nil && session != nil {
		g := gate.New(sid)
		g.Resolve(ctx, func(context.Context) (*auth.Session, error) { return session, nil })
		stop := g.Watch(h.subscribe, func() {
			logger.Info("session signed out, closing view")
			sock.Notify("You have been signed out.", 2*time.Second)
			cancel()
			sock.close(websocket.ClosePolicyViolation, "signed out")
		})
		defer stop()
	}

	conn.SetReadLimit(maxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var inflight sync.WaitGroup
	defer inflight.Wait()

	go h.pingLoop(ctx, sock)

	sock.send(frameSnapshot, map[string]interface{}{
		"turns": exchange.Turns(),
		"busy":  exchange.Busy(),
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				logger.Info("websocket read error", zap.Error(err))
			}
			cancel()
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case "message":
			if strings.TrimSpace(msg.Text) == "" {
				continue
			}
			// Claimed here so back-to-back messages keep their order.
			reservation, ok := exchange.Reserve(msg.Text)
			if !ok {
				sock.send(frameBusy, map[string]bool{"busy": true})
				sock.Notify(busyNotice, 2*time.Second)
				continue
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				h.submit(ctx, sock, reservation)
			}()
		default:
			sock.send(frameError, map[string]string{"message": "unsupported message type"})
		}
	}
}

func (h *Handler) submit(ctx context.Context, sock *socket, reservation *chatservice.Reservation) {
	res := reservation.Run(ctx, func(turn chatmodel.Turn) {
		sock.send(frameTurn, turn)
		if turn.Role == chatmodel.RoleUser {
			sock.send(frameBusy, map[string]bool{"busy": true})
		}
	})
	if res.Cancelled {
		return
	}
	sock.send(frameBusy, map[string]bool{"busy": false})
}

func (h *Handler) pingLoop(ctx context.Context, sock *socket) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sock.ping(); err != nil {
				return
			}
		}
	}
}
