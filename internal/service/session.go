package service

import (
	"context"
	"net/http"
	"sync"
	"time"

	"chatcore/internal/acceptance"
	"chatcore/internal/attachment"
	"chatcore/internal/clock"
	"chatcore/internal/conversation"
	"chatcore/internal/errors"
	"chatcore/internal/interaction"
	"chatcore/internal/message"
	"chatcore/internal/metrics"
	"chatcore/internal/models"
	"chatcore/internal/tracing"
	"chatcore/internal/transport"
	"chatcore/internal/typing"
	"chatcore/pkg/chatapi"
	"chatcore/pkg/circuitbreaker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Options are the collaborators a Session is built from. Only Config is required.
type Options struct {
	Config     models.Config
	HTTPClient *http.Client
	Dialer     transport.Dialer
	Registerer prometheus.Registerer
	Clock      clock.Clock
	// DownloadDir receives documents opened through the attachment resolver
	DownloadDir string
	Haptic      func()
	// OnTyping reports who is typing in a conversation whenever it changes
	OnTyping        func(conversationID string, users []string)
	RefreshInterval time.Duration
	Verbose         bool
	Logger          *logrus.Logger
}

// Session is the authenticated session boundary. It builds every store on
// one socket and one REST client, routes socket events into them, and tears
// all of it down on Close.
type Session struct {
	API           *chatapi.Client
	Socket        *transport.Session
	Conversations *conversation.Store
	Messages      *message.Store
	Attachments   *attachment.Resolver
	Typing        *typing.Emitter
	Typists       *typing.Tracker
	Interaction   *interaction.Controller
	Metrics       *metrics.Metrics

	config    models.Config
	logger    *logrus.Logger
	tracer    *tracing.Manager
	scheduler *Scheduler

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe []func()
	started     bool
	closed      bool
}

func New(opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg.Auth.UserID == "" {
		return nil, errors.NewConfigError("auth.user_id", "user id is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled || opts.Registerer != nil {
		m = metrics.New(cfg.Metrics.Namespace, opts.Registerer)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(cfg.API.TimeoutSec) * time.Second}
	}

	breaker := circuitbreaker.New("chat-api", circuitbreaker.Config{
		MaxFailures: uint32(cfg.API.BreakerMaxFailures),
		Cooldown:    time.Duration(cfg.API.BreakerCooldownSec) * time.Second,
		Trips:       errors.IsRetryable,
	}, logger)
	api := chatapi.NewClientWithLogger(cfg.API.BaseURL, cfg.Auth.Token, httpClient, breaker, logger)

	socket := transport.NewSessionWithLogger(transport.Config{
		URL:               cfg.Socket.URL,
		ReconnectAttempts: cfg.Socket.ReconnectAttempts,
		ReconnectDelay:    time.Duration(cfg.Socket.ReconnectDelayMs) * time.Millisecond,
		WriteTimeout:      time.Duration(cfg.Socket.WriteTimeoutSec) * time.Second,
	}, opts.Dialer, m, logger)

	convs := conversation.NewStoreWithLogger(api, socket, conversation.Config{
		UserID:   cfg.Auth.UserID,
		PageSize: cfg.Chat.PageSize,
		Policy:   acceptance.NewPolicy(cfg.Chat.PendingMessageLimit),
	}, m, logger)

	msgs := message.NewStoreWithLogger(api, socket, convs, message.Config{
		UserID:   cfg.Auth.UserID,
		PageSize: cfg.Chat.PageSize,
	}, m, logger)

	resolver := attachment.NewResolverWithLogger(api, attachment.NewFileOpener(httpClient, opts.DownloadDir), httpClient, attachment.Config{
		CacheSize:    cfg.Attachments.CacheSize,
		CacheTTL:     time.Duration(cfg.Attachments.CacheTTLMinutes) * time.Minute,
		CheckTimeout: time.Duration(cfg.Attachments.CheckTimeoutSec) * time.Second,
	}, m, logger)

	window := time.Duration(cfg.Chat.TypingWindowMs) * time.Millisecond
	controller := interaction.NewControllerWithLogger(msgs, api, msgs, interaction.Config{
		Gesture: interaction.GestureConfig{
			LongPress:      time.Duration(cfg.Interaction.LongPressMs) * time.Millisecond,
			SwipeThreshold: cfg.Interaction.SwipeThreshold,
		},
		Haptic: opts.Haptic,
	}, opts.Clock, logger)

	ctx, cancel := context.WithCancel(WithVerbose(context.Background(), opts.Verbose))

	s := &Session{
		API:           api,
		Socket:        socket,
		Conversations: convs,
		Messages:      msgs,
		Attachments:   resolver,
		Typing:        typing.NewEmitterWithLogger(socket, window, opts.Clock, logger),
		Typists:       typing.NewTracker(window, opts.Clock, opts.OnTyping),
		Interaction:   controller,
		Metrics:       m,
		config:        cfg,
		logger:        logger,
		tracer:        tracing.NewManager(cfg.Tracing, logger),
		ctx:           ctx,
		cancel:        cancel,
	}
	s.scheduler = NewScheduler(s, socket.Connected, opts.RefreshInterval, logger)
	return s, nil
}

// Start loads the user's profile and first conversation page, then connects
// the socket. A failed socket connect is not fatal: REST operations keep
// working and the scheduler polls until the socket is back.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.tracer.Initialize(ctx); err != nil {
		errors.Entry(s.logger, err).Warn("Tracing disabled")
	}

	userID := s.config.Auth.UserID
	if profile, err := s.API.GetUserProfile(ctx, userID); err == nil {
		s.Messages.SetSender(models.Sender{ID: profile.ID, DisplayName: profile.DisplayName, AvatarURL: profile.AvatarURL})
	} else {
		errors.Entry(s.logger.WithFields(idFields(s.ctx, "", "", userID)), err).Debug("Profile unavailable, using bare sender")
	}

	if _, err := s.Conversations.LoadPage(ctx, 1); err != nil {
		return err
	}

	s.route()

	if err := s.Socket.Connect(ctx, transport.Credentials{UserID: userID, Token: s.config.Auth.Token}); err != nil {
		errors.Entry(s.logger, err).Warn("Socket unavailable, continuing with REST only")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.scheduler.Start(s.ctx)
	}()
	return nil
}

// Refresh reloads the first conversation page and the first message page of
// every open conversation
func (s *Session) Refresh(ctx context.Context) error {
	if _, err := s.Conversations.LoadPage(ctx, 1); err != nil {
		return err
	}
	for _, cid := range s.Messages.OpenConversations() {
		if _, err := s.Messages.LoadPage(ctx, cid, 1); err != nil {
			return err
		}
	}
	return nil
}

// UserID is the authenticated user
func (s *Session) UserID() string {
	return s.config.Auth.UserID
}

// OpenConversation makes a conversation the active one. Any other open
// conversation is left first.
func (s *Session) OpenConversation(ctx context.Context, conversationID string) error {
	for _, cid := range s.Messages.OpenConversations() {
		if cid != conversationID {
			s.Messages.Close(ctx, cid)
			s.Typing.Stop(cid)
		}
	}
	s.Interaction.ExitSelection()
	s.Interaction.ClearReply()
	return s.Messages.Open(ctx, conversationID)
}

// StartConversation gets or creates the direct conversation with a peer and opens it
func (s *Session) StartConversation(ctx context.Context, peerID string) (*models.Conversation, error) {
	conv, err := s.Conversations.Open(ctx, peerID)
	if err != nil {
		return nil, err
	}
	if err := s.OpenConversation(ctx, conv.ID); err != nil {
		return conv, err
	}
	return conv, nil
}

// Send sends text as a reply to the current reply target, if any. The typing
// indicator stops and the reply target clears once the message is accepted.
func (s *Session) Send(ctx context.Context, conversationID, content string) (*models.Message, error) {
	s.Typing.Stop(conversationID)

	replyTo := ""
	if target := s.Interaction.ReplyTarget(); target != nil {
		replyTo = target.ID
	}
	msg, err := s.Messages.SendText(ctx, conversationID, content, replyTo)
	if err != nil {
		return nil, err
	}
	s.Interaction.ClearReply()
	return msg, nil
}

// Close unsubscribes every handler, cancels timers and background work, and
// closes the socket. The session cannot be restarted.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	started := s.started
	s.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	s.cancel()
	if started {
		s.scheduler.Stop()
	}

	s.Typing.Close()
	s.Typists.Close()
	s.Interaction.Close()
	err := s.Socket.Close()
	s.wg.Wait()

	if shutdownErr := s.tracer.Shutdown(context.Background()); shutdownErr != nil {
		errors.Entry(s.logger, shutdownErr).Warn("Failed to flush traces")
	}
	s.logger.Debug("Chat session closed")
	return err
}
