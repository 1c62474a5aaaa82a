package services

import (
	"context"
	"sync"
	"time"

	"example.com/smartpos/services/pos/internal/events"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

// SyncScheduler drives the periodic push of pending operations. The timer
// exists only while the device is online: an offline transition tears it
// down, the next online transition re-arms it and kicks off an immediate
// full cycle to drain the backlog.
type SyncScheduler struct {
	service  *SyncService
	interval time.Duration

	mu        sync.Mutex
	scheduler gocron.Scheduler
}

// NewSyncScheduler creates a scheduler in the disarmed state.
func NewSyncScheduler(service *SyncService, interval time.Duration) *SyncScheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SyncScheduler{
		service:  service,
		interval: interval,
	}
}

// Armed reports whether the periodic job is currently scheduled.
func (s *SyncScheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduler != nil
}

// Arm starts the periodic push job. Arming an armed scheduler is a no-op.
func (s *SyncScheduler) Arm(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler != nil {
		return nil
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			result := s.service.SyncPending(ctx)
			if result.Reason == events.ReasonOfflineOrBusy {
				log.Debug().Msg("Periodic sync skipped, offline or busy")
			}
		}),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return err
	}

	scheduler.Start()
	s.scheduler = scheduler
	log.Info().Dur("interval", s.interval).Msg("Periodic sync armed")
	return nil
}

// Disarm stops the periodic push job. Disarming a disarmed scheduler is a
// no-op.
func (s *SyncScheduler) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Failed to shut down sync scheduler")
	}
	s.scheduler = nil
	log.Info().Msg("Periodic sync disarmed")
}

// OnEvent reacts to connectivity transitions. Subscribe it to the event bus.
func (s *SyncScheduler) OnEvent(ctx context.Context) func(events.Event) {
	return func(e events.Event) {
		switch e.Kind() {
		case events.KindOnline:
			go s.service.SyncAll(ctx)
			if err := s.Arm(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to arm sync scheduler")
			}
		case events.KindOffline:
			s.Disarm()
		}
	}
}
