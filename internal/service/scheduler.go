package service

import (
	"context"
	"time"

	"chatcore/internal/constants"
	"chatcore/internal/errors"

	"github.com/sirupsen/logrus"
)

// Refresher reloads the REST-backed state of the session
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Scheduler keeps the stores current while live push is unavailable. It
// refreshes on every tick the socket is not connected, and once right away
// whenever Trigger is called, which the session does after a reconnect.
type Scheduler struct {
	target    Refresher
	connected func() bool
	interval  time.Duration
	logger    *logrus.Logger
	trigger   chan struct{}
	stopCh    chan struct{}
}

func NewScheduler(target Refresher, connected func() bool, interval time.Duration, logger *logrus.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Duration(constants.DefaultRefreshIntervalSec) * time.Second
	}
	return &Scheduler{
		target:    target,
		connected: connected,
		interval:  interval,
		logger:    logger,
		trigger:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval).Debug("Starting refresh scheduler")

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Debug("Scheduler stop signal received, stopping")
			return
		case <-s.trigger:
			s.runRefresh(ctx, "resync")
		case <-ticker.C:
			if s.connected != nil && s.connected() {
				continue
			}
			s.runRefresh(ctx, "poll")
		}
	}
}

// Trigger requests one refresh without waiting for the next tick
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runRefresh(ctx context.Context, reason string) {
	if err := s.target.Refresh(ctx); err != nil {
		errors.Entry(s.logger.WithField("reason", reason), err).Warn("Failed to refresh chat state")
		return
	}
	s.logger.WithField("reason", reason).Debug("Refreshed chat state")
}
