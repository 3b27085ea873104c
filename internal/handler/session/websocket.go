package session

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	sessionService "github.com/zhouzirui/z-tavern/companion/internal/service/session"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// WebSocketHandler 推送会话事件并接收播放、建议等命令
type WebSocketHandler struct {
	registry *sessionService.Registry
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(registry *sessionService.Registry) *WebSocketHandler {
	return &WebSocketHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type indexPayload struct {
	Index int `json:"index"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// wsConn 串行化写操作，gorilla 连接不支持并发写
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s, err := h.registry.Get(sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new connection for session: %s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := &wsConn{conn: conn}
	events, unsubscribe := s.Events().Subscribe()
	defer unsubscribe()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go h.pingLoop(ctx, out)
	go h.forwardEvents(ctx, cancel, out, events)

	if err := out.writeJSON(outgoingMessage{
		Type:      "snapshot",
		SessionID: sessionID,
		Data:      s.View(),
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		log.Printf("[websocket] write snapshot failed: %v", err)
		return
	}

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(pongWait))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			h.sendError(out, "session mismatch")
			continue
		}

		h.handleMessage(ctx, out, s, &msg)
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, out *wsConn, s *sessionService.Session, msg *inboundMessage) {
	switch msg.Type {
	case "play":
		var payload indexPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			h.sendError(out, "invalid play payload")
			return
		}
		// 播放可能要等待后端生成音频，避免阻塞读循环
		go func() {
			if _, err := s.PlayTurn(ctx, payload.Index); err != nil {
				h.sendError(out, err.Error())
			}
		}()
	case "stop":
		s.StopPlayback()
	case "refresh_suggestions":
		go func() {
			if _, err := s.RefreshSuggestions(ctx); err != nil {
				h.sendError(out, err.Error())
			}
		}()
	default:
		h.sendError(out, "unsupported message type: "+msg.Type)
	}
}

// forwardEvents 将会话事件转发给客户端，会话关闭后断开连接
func (h *WebSocketHandler) forwardEvents(ctx context.Context, cancel context.CancelFunc, out *wsConn, events <-chan sessionService.Event) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				out.mu.Lock()
				_ = out.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(writeWait))
				out.mu.Unlock()
				// 让读循环立即返回
				out.conn.Close()
				return
			}
			if err := out.writeJSON(outgoingMessage{
				Type:      string(evt.Type),
				SessionID: evt.SessionID,
				Data:      evt.Data,
				Timestamp: evt.Timestamp,
			}); err != nil {
				log.Printf("[websocket] write event failed: %v", err)
				return
			}
		}
	}
}

func (h *WebSocketHandler) sendError(out *wsConn, message string) {
	msg := outgoingMessage{
		Type:      "error",
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().UnixMilli(),
	}
	if err := out.writeJSON(msg); err != nil {
		log.Printf("[websocket] write error failed: %v", err)
	}
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, out *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := out.ping(); err != nil {
				return
			}
		}
	}
}
