package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages. Pongs extend it.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// RequestTimeout bounds waiting for a subscribe/unsubscribe reply.
	RequestTimeout time.Duration
	// Commitment is used when a filter does not set one.
	Commitment string
	// Logger receives connection diagnostics. Defaults to log.Default().
	Logger *log.Logger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		RequestTimeout:    30 * time.Second,
		Commitment:        CommitmentConfirmed,
	}
}

// subscription is the client-side record of one logsSubscribe stream.
type subscription struct {
	key      uint64
	filter   LogsFilter
	serverID int64
	ch       chan LogNotification

	// stop unblocks a pending send; mu guards closing ch against it.
	stop     chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
	stopped  bool
}

func (s *subscription) shutdown() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.mu.Lock()
		s.stopped = true
		close(s.ch)
		s.mu.Unlock()
	})
}

func (s *subscription) deliver(n LogNotification, done <-chan struct{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	// Block until we can send - never drop events
	select {
	case s.ch <- n:
	case <-s.stop:
	case <-done:
	}
}

// WSClientImpl implements WSClient using gorilla/websocket.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	logger   *log.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64
	nextKey   atomic.Uint64

	// subs is keyed by the stable client key, byServer by the current server id.
	subs     map[uint64]*subscription
	byServer map[int64]*subscription
	subsMu   sync.RWMutex

	// pending maps request ID to channel waiting for the reply
	pending   map[uint64]chan wsReply
	pendingMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Commitment == "" {
		cfg.Commitment = CommitmentConfirmed
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	c := &WSClientImpl{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		subs:     make(map[uint64]*subscription),
		byServer: make(map[int64]*subscription),
		pending:  make(map[uint64]chan wsReply),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// connect establishes WebSocket connection.
func (c *WSClientImpl) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

// SubscribeLogs subscribes to logs mentioning the filter's accounts.
func (c *WSClientImpl) SubscribeLogs(ctx context.Context, filter LogsFilter) (*LogSubscription, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	serverID, err := c.subscribeLogs(ctx, filter)
	if err != nil {
		return nil, err
	}

	// Large buffer absorbs bursts; delivery blocks rather than drops.
	sub := &subscription{
		key:      c.nextKey.Add(1),
		filter:   filter,
		serverID: serverID,
		ch:       make(chan LogNotification, 10000),
		stop:     make(chan struct{}),
	}

	c.subsMu.Lock()
	c.subs[sub.key] = sub
	c.byServer[serverID] = sub
	c.subsMu.Unlock()

	return &LogSubscription{Key: sub.key, Notifications: sub.ch}, nil
}

// UnsubscribeLogs removes the subscription locally, closes its channel and
// tells the server. Unknown subscriptions are a no-op.
func (c *WSClientImpl) UnsubscribeLogs(ctx context.Context, handle *LogSubscription) error {
	if handle == nil {
		return nil
	}

	c.subsMu.Lock()
	sub, ok := c.subs[handle.Key]
	if ok {
		delete(c.subs, sub.key)
		delete(c.byServer, sub.serverID)
	}
	c.subsMu.Unlock()

	if !ok {
		return nil
	}
	sub.shutdown()

	if c.closed.Load() {
		return nil
	}

	result, err := c.request(ctx, "logsUnsubscribe", []interface{}{sub.serverID})
	if err != nil {
		return fmt.Errorf("logsUnsubscribe %d: %w", sub.serverID, err)
	}
	var accepted bool
	if err := json.Unmarshal(result, &accepted); err != nil || !accepted {
		return fmt.Errorf("logsUnsubscribe %d rejected: %s", sub.serverID, string(result))
	}
	return nil
}

// Close closes the WebSocket connection.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.subsMu.Lock()
	for key, sub := range c.subs {
		sub.shutdown()
		delete(c.subs, key)
	}
	c.byServer = make(map[int64]*subscription)
	c.subsMu.Unlock()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	c.wg.Wait()
	return nil
}

// subscribeLogs sends logsSubscribe and returns the server subscription id.
func (c *WSClientImpl) subscribeLogs(ctx context.Context, filter LogsFilter) (int64, error) {
	mentionsFilter := make(map[string]interface{})
	if len(filter.Mentions) > 0 {
		mentionsFilter["mentions"] = filter.Mentions
	} else {
		mentionsFilter["all"] = nil
	}

	commitment := filter.Commitment
	if commitment == "" {
		commitment = c.config.Commitment
	}

	result, err := c.request(ctx, "logsSubscribe", []interface{}{
		mentionsFilter,
		map[string]string{"commitment": commitment},
	})
	if err != nil {
		return 0, err
	}

	var subID int64
	if err := json.Unmarshal(result, &subID); err != nil {
		return 0, fmt.Errorf("decode subscription id: %w", err)
	}
	return subID, nil
}

// request writes a JSON-RPC request and waits for the matching reply.
func (c *WSClientImpl) request(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	replyCh := make(chan wsReply, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = replyCh
	c.pendingMu.Unlock()

	forget := func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		forget()
		return nil, fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		forget()
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()

	select {
	case reply, ok := <-replyCh:
		if !ok {
			return nil, ErrClientClosed
		}
		if reply.err != nil {
			return nil, reply.err
		}
		return reply.result, nil
	case <-timer.C:
		forget()
		return nil, fmt.Errorf("%s timeout after %v", method, c.config.RequestTimeout)
	case <-c.done:
		return nil, ErrClientClosed
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	}
}

// readLoop reads messages from WebSocket and dispatches them. It is the only
// reader of the connection.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if !c.reconnect(&reconnectDelay) {
				return
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Printf("[ws] read error, reconnecting: %v", err)
			if !c.reconnect(&reconnectDelay) {
				return
			}
			continue
		}

		// Reset delay on successful read
		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// reconnect replaces the connection, retrying with exponential backoff until
// it succeeds or the client is closed. Resubscription runs in the background
// because its replies arrive through readLoop.
func (c *WSClientImpl) reconnect(delay *time.Duration) bool {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	for {
		select {
		case <-c.done:
			return false
		case <-time.After(*delay):
		}

		*delay *= 2
		if *delay > c.config.MaxReconnectDelay {
			*delay = c.config.MaxReconnectDelay
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.connect(ctx)
		cancel()
		if err == nil {
			break
		}
		c.logger.Printf("[ws] reconnect failed: %v", err)
	}

	// Replies on the old connection will never arrive.
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	c.logger.Println("[ws] reconnected")
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.resubscribeAll()
	}()
	return true
}

// resubscribeAll resubscribes every active subscription after reconnect.
func (c *WSClientImpl) resubscribeAll() {
	c.subsMu.RLock()
	subs := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subsMu.RUnlock()

	for _, sub := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
		newID, err := c.subscribeLogs(ctx, sub.filter)
		cancel()

		if err != nil {
			c.logger.Printf("[ws] resubscribe %v failed: %v", sub.filter.Mentions, err)
			continue
		}

		c.subsMu.Lock()
		if _, live := c.subs[sub.key]; live {
			delete(c.byServer, sub.serverID)
			sub.serverID = newID
			c.byServer[newID] = sub
		}
		c.subsMu.Unlock()
	}
}

// handleMessage routes a frame to a pending request or a subscription.
func (c *WSClientImpl) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Printf("[ws] undecodable message: %v", err)
		return
	}

	if msg.Method == "logsNotification" {
		c.handleLogsNotification(msg.Params)
		return
	}

	if msg.ID == 0 {
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		if msg.Error != nil {
			c.logger.Printf("[ws] error response: code=%d msg=%s", msg.Error.Code, msg.Error.Message)
		}
		return
	}

	reply := wsReply{result: msg.Result}
	if msg.Error != nil {
		reply.err = msg.Error
	}
	ch <- reply
}

// handleLogsNotification dispatches log notification to subscriber.
func (c *WSClientImpl) handleLogsNotification(params *wsNotificationParams) {
	if params == nil {
		return
	}

	value := params.Result.Value
	notif := LogNotification{
		Signature: value.Signature,
		Logs:      value.Logs,
		Err:       value.Err,
	}
	if params.Result.Context != nil {
		notif.Slot = params.Result.Context.Slot
	}

	c.subsMu.RLock()
	sub, ok := c.byServer[params.Subscription]
	c.subsMu.RUnlock()

	if ok {
		sub.deliver(notif, c.done)
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				// A dead connection surfaces as a read error in readLoop.
				c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout))
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsReply struct {
	result json.RawMessage
	err    error
}

// wsMessage is any inbound frame: a reply (ID set) or a notification (Method set).
type wsMessage struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      uint64                `json:"id"`
	Result  json.RawMessage       `json:"result"`
	Error   *rpcError             `json:"error"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext  `json:"context"`
	Value   wsLogsValue `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string      `json:"signature"`
	Logs      []string    `json:"logs"`
	Err       interface{} `json:"err"`
}
