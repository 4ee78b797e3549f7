package transport

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"chatcore/internal/constants"
	"chatcore/internal/errors"
	"chatcore/internal/metrics"
	"chatcore/internal/privacy"
	"chatcore/internal/retry"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// State is the connectivity of a Session
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

var (
	ErrNotConnected = stderrors.New("socket is not connected")
	ErrClosed       = stderrors.New("session closed")
)

// Conn is the subset of *websocket.Conn the session uses
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a socket to url with the given handshake headers
type Dialer func(ctx context.Context, url string, header http.Header) (Conn, error)

// WebsocketDialer dials with coder/websocket
func WebsocketDialer(readLimit int64) Dialer {
	if readLimit <= 0 {
		readLimit = constants.DefaultSocketReadLimit
	}
	return func(ctx context.Context, url string, header http.Header) (Conn, error) {
		conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
			HTTPHeader: header,
		})
		if err != nil {
			return nil, err
		}
		conn.SetReadLimit(readLimit)
		return conn, nil
	}
}

// Credentials authenticate the socket handshake
type Credentials struct {
	UserID string
	Token  string
}

// Envelope is the frame format in both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives the raw payload of one event
type Handler func(payload json.RawMessage)

type Config struct {
	URL               string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	WriteTimeout      time.Duration
}

type handlerEntry struct {
	id uint64
	fn Handler
}

// Session owns one authenticated socket. Handlers run sequentially on the
// reader goroutine in the order frames arrive.
type Session struct {
	config  Config
	dial    Dialer
	metrics *metrics.Metrics
	logger  *logrus.Logger

	mu       sync.Mutex
	state    State
	conn     Conn
	creds    Credentials
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
	nextID   uint64
	handlers map[string][]handlerEntry
	stateFns map[uint64]func(State)
	online   map[string]struct{}
}

func NewSession(config Config, dial Dialer, m *metrics.Metrics) *Session {
	return NewSessionWithLogger(config, dial, m, nil)
}

func NewSessionWithLogger(config Config, dial Dialer, m *metrics.Metrics, logger *logrus.Logger) *Session {
	if dial == nil {
		dial = WebsocketDialer(constants.DefaultSocketReadLimit)
	}
	if config.ReconnectAttempts <= 0 {
		config.ReconnectAttempts = constants.DefaultReconnectAttempts
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = time.Duration(constants.DefaultReconnectDelayMs) * time.Millisecond
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = time.Duration(constants.DefaultWriteTimeoutSec) * time.Second
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &Session{
		config:   config,
		dial:     dial,
		metrics:  m,
		logger:   logger,
		state:    StateDisconnected,
		handlers: make(map[string][]handlerEntry),
		stateFns: make(map[uint64]func(State)),
		online:   make(map[string]struct{}),
	}
}

// Connect dials the socket once and starts the reader. Later drops are
// handled by the reconnect loop.
func (s *Session) Connect(ctx context.Context, creds Credentials) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.NewTransportError("connect", ErrClosed)
	}
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.creds = creds
	s.mu.Unlock()

	s.setState(StateConnecting)
	conn, err := s.dial(ctx, s.config.URL, s.header(creds))
	if err != nil {
		s.setState(StateDisconnected)
		return errors.NewTransportError("connect", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "closed")
		return errors.NewTransportError("connect", ErrClosed)
	}
	s.conn = conn
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.setState(StateConnected)
	s.logger.WithFields(logrus.Fields{
		"url":     privacy.MaskURL(s.config.URL),
		"user_id": privacy.MaskUserID(creds.UserID),
	}).Info("Socket connected")

	go s.run(runCtx, conn, done)
	return nil
}

func (s *Session) header(creds Credentials) http.Header {
	h := http.Header{}
	if creds.Token != "" {
		h.Set("Authorization", "Bearer "+creds.Token)
	}
	if creds.UserID != "" {
		h.Set("X-User-ID", creds.UserID)
	}
	return h
}

func (s *Session) run(ctx context.Context, conn Conn, done chan struct{}) {
	defer close(done)

	for {
		err := s.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}

		errors.Entry(s.logger, err).Warn("Socket dropped, reconnecting")
		_ = conn.Close(websocket.StatusGoingAway, "reconnecting")
		s.setState(StateReconnecting)
		s.clearPresence()

		conn = s.reconnect(ctx)
		if conn == nil {
			if ctx.Err() == nil {
				s.setState(StateDisconnected)
			}
			return
		}
	}
}

func (s *Session) readLoop(ctx context.Context, conn Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			s.logger.WithField("bytes", len(data)).Warn("Dropping malformed socket frame")
			continue
		}
		s.dispatch(env.Event, env.Data)
	}
}

func (s *Session) reconnect(ctx context.Context) Conn {
	s.mu.Lock()
	creds := s.creds
	s.mu.Unlock()

	backoff := retry.NewBackoff(retry.FixedBackoffConfig(s.config.ReconnectDelay, s.config.ReconnectAttempts)).
		OnRetry(func(attempt int, delay time.Duration, err error) {
			errors.Entry(s.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   delay,
			}), err).Debug("Socket reconnect attempt failed")
		})

	var conn Conn
	err := backoff.Retry(ctx, func(attempt int) error {
		// The backoff sleeps between attempts; the first one waits here
		if attempt == 1 {
			timer := time.NewTimer(s.config.ReconnectDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		c, err := s.dial(ctx, s.config.URL, s.header(creds))
		s.metrics.ReconnectAttempt(err == nil)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		if ctx.Err() == nil {
			errors.Entry(s.logger.WithField("attempts", backoff.MaxAttempts()), err).
				Error("Socket reconnect attempts exhausted")
		}
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "closed")
		return nil
	}
	s.conn = conn
	s.mu.Unlock()

	s.setState(StateConnected)
	s.logger.Info("Socket reconnected")
	return conn
}

// clearPresence drops every online flag after a disconnect. The server
// re-pushes user:online for peers that are still online once we reconnect.
func (s *Session) clearPresence() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.online))
	for id := range s.online {
		ids = append(ids, id)
	}
	s.online = make(map[string]struct{})
	s.mu.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		payload, _ := json.Marshal(map[string]string{"userId": id})
		s.dispatch(EventUserOffline, payload)
	}
}

func (s *Session) dispatch(event string, payload json.RawMessage) {
	s.metrics.PushEvent(event)

	if event == EventUserOnline || event == EventUserOffline {
		var p struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(payload, &p); err == nil && p.UserID != "" {
			s.mu.Lock()
			if event == EventUserOnline {
				s.online[p.UserID] = struct{}{}
			} else {
				delete(s.online, p.UserID)
			}
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	entries := append([]handlerEntry(nil), s.handlers[event]...)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"event":    event,
		"handlers": len(entries),
	}).Debug("Dispatching socket event")

	for _, e := range entries {
		s.invoke(event, e.fn, payload)
	}
}

func (s *Session) invoke(event string, fn Handler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"event": event,
				"panic": fmt.Sprint(r),
			}).Error("Socket handler panicked")
		}
	}()
	fn(payload)
}

// On registers handler for event and returns a func that removes it
func (s *Session) On(event string, handler Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.handlers[event] = append(s.handlers[event], handlerEntry{id: id, fn: handler})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			entries := s.handlers[event]
			for i, e := range entries {
				if e.id == id {
					s.handlers[event] = append(entries[:i:i], entries[i+1:]...)
					break
				}
			}
			if len(s.handlers[event]) == 0 {
				delete(s.handlers, event)
			}
		})
	}
}

// OnStateChange registers fn to be called on every state transition
func (s *Session) OnStateChange(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.stateFns[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.stateFns, id)
		s.mu.Unlock()
	}
}

// Emit sends one event. It fails fast when the socket is not connected.
func (s *Session) Emit(ctx context.Context, event string, payload interface{}) error {
	s.mu.Lock()
	conn := s.conn
	state := s.state
	s.mu.Unlock()

	if conn == nil || state != StateConnected {
		return errors.NewTransportError("emit", ErrNotConnected).WithContext("event", event)
	}

	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternalError, "failed to marshal socket payload")
		}
		data = raw
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to marshal socket frame")
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.config.WriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, frame); err != nil {
		return errors.NewTransportError("emit", err).WithContext("event", event)
	}
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

func (s *Session) IsOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.online[userID]
	return ok
}

// OnlineUsers returns a sorted snapshot of the online set
func (s *Session) OnlineUsers() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.online))
	for id := range s.online {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	fns := make([]func(State), 0, len(s.stateFns))
	ids := make([]uint64, 0, len(s.stateFns))
	for id := range s.stateFns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fns = append(fns, s.stateFns[id])
	}
	s.mu.Unlock()

	s.metrics.SocketConnected(state == StateConnected)
	for _, fn := range fns {
		fn(state)
	}
}

// Close tears the session down. Handlers are dropped and no background work
// continues once Close returns.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	done := s.done
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "bye")
	}
	if done != nil {
		<-done
	}

	s.mu.Lock()
	s.handlers = make(map[string][]handlerEntry)
	s.online = make(map[string]struct{})
	s.mu.Unlock()

	s.setState(StateDisconnected)
	return err
}
