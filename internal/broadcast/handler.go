package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tower-feed/internal/domain"
)

var (
	errViewerClosed = errors.New("viewer closed")
	errQueueFull    = errors.New("send queue full")
)

// CommandSink accepts BUY/SELL commands from viewers.
type CommandSink interface {
	Submit(ctx context.Context, signal domain.Signal) error
}

// HandlerOptions contains configuration for creating a Handler.
type HandlerOptions struct {
	Hub      *Hub
	Commands CommandSink

	SendQueue    int           // Default: 64 messages per viewer
	WriteWait    time.Duration // Default: 10s
	PongWait     time.Duration // Default: 60s
	PingInterval time.Duration // Default: 9/10 of PongWait
	MaxMessage   int64         // Default: 4096 bytes

	// CheckOrigin overrides the upgrader origin check. Default: allow all.
	CheckOrigin func(r *http.Request) bool
	Logger      *log.Logger
}

// Handler upgrades HTTP requests to viewer websockets.
type Handler struct {
	hub      *Hub
	commands CommandSink
	upgrader websocket.Upgrader

	sendQueue    int
	writeWait    time.Duration
	pongWait     time.Duration
	pingInterval time.Duration
	maxMessage   int64
	logger       *log.Logger
}

// NewHandler creates a new viewer websocket handler.
func NewHandler(opts HandlerOptions) *Handler {
	sendQueue := opts.SendQueue
	if sendQueue <= 0 {
		sendQueue = 64
	}
	writeWait := opts.WriteWait
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	pongWait := opts.PongWait
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}
	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = pongWait * 9 / 10
	}
	maxMessage := opts.MaxMessage
	if maxMessage <= 0 {
		maxMessage = 4096
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		hub:      opts.Hub,
		commands: opts.Commands,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		sendQueue:    sendQueue,
		writeWait:    writeWait,
		pongWait:     pongWait,
		pingInterval: pingInterval,
		maxMessage:   maxMessage,
		logger:       logger,
	}
}

// ServeHTTP upgrades the connection, registers the viewer and reads its
// commands until it disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("WARN: upgrade failed: %v", err)
		return
	}

	v := newWSViewer(conn, h.sendQueue)
	go v.writePump(h.writeWait, h.pingInterval)

	if err := h.hub.AddViewer(v); err != nil {
		h.logger.Printf("WARN: %v", err)
		_ = v.Close()
		return
	}
	defer func() {
		h.hub.RemoveViewer(v)
		_ = v.Close()
	}()

	h.readPump(r.Context(), v)
}

// readPump forwards inbound commands until the connection fails.
func (h *Handler) readPump(ctx context.Context, v *wsViewer) {
	conn := v.conn
	conn.SetReadLimit(h.maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Printf("Viewer %s read error: %v", v.id, err)
			}
			return
		}

		var msg domain.InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Printf("Ignoring malformed message from %s: %v", v.id, err)
			continue
		}
		signal, ok := domain.SignalForMessage(msg.Type)
		if !ok {
			h.logger.Printf("Ignoring unknown message type %q from %s", msg.Type, v.id)
			continue
		}
		if h.commands == nil {
			continue
		}
		if err := h.commands.Submit(ctx, signal); err != nil {
			h.logger.Printf("WARN: %s from %s not applied: %v", signal, v.id, err)
		}
	}
}

// wsViewer is a Viewer backed by a websocket connection. Sends are queued
// and written in order by a single write pump.
type wsViewer struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newWSViewer(conn *websocket.Conn, queue int) *wsViewer {
	return &wsViewer{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, queue),
		done: make(chan struct{}),
	}
}

func (v *wsViewer) ID() string {
	return v.id
}

// Send queues msg. A viewer too slow to drain its queue gets an error and
// is dropped by the hub.
func (v *wsViewer) Send(msg []byte) error {
	select {
	case <-v.done:
		return errViewerClosed
	default:
	}

	select {
	case v.send <- msg:
		return nil
	default:
		return errQueueFull
	}
}

// Close stops the write pump and closes the connection. It is safe to call
// more than once.
func (v *wsViewer) Close() error {
	var err error
	v.closeOnce.Do(func() {
		close(v.done)
		err = v.conn.Close()
	})
	return err
}

// writePump is the only writer on the connection.
func (v *wsViewer) writePump(writeWait, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-v.done:
			return

		case msg := <-v.send:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = v.Close()
				return
			}

		case <-ticker.C:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = v.Close()
				return
			}
		}
	}
}
