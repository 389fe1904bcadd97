package checker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pytheus/watchdog/internal/config"
	"github.com/pytheus/watchdog/internal/deadman"
	"github.com/pytheus/watchdog/internal/models"
	"github.com/pytheus/watchdog/internal/notifications"
)

const deadmanSweepInterval = 60 * time.Second

// StatusSource reads back recorded outcomes for the daily digest.
type StatusSource interface {
	FindLatest(targetName string) (models.CheckOutcome, error)
	Count(targetName string, since time.Time, statusFilter string) (int, error)
}

// Scheduler drives the periodic work: one timer per target at its configured
// interval, one sweep timer for the dead man's switches, and one daily timer
// for the digest. Every target runs in its own goroutine so a slow or hung
// check never delays another target's timer.
type Scheduler struct {
	prober     *Prober
	monitor    *deadman.Monitor
	dispatcher *notifications.Dispatcher
	statuses   StatusSource
	targets    []models.Target
	digest     config.Digest
	log        zerolog.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewScheduler(prober *Prober, monitor *deadman.Monitor, dispatcher *notifications.Dispatcher,
	statuses StatusSource, targets []models.Target, digest config.Digest, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		prober:     prober,
		monitor:    monitor,
		dispatcher: dispatcher,
		statuses:   statuses,
		targets:    targets,
		digest:     digest,
		log:        log,
		stopChan:   make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	for _, target := range s.targets {
		s.wg.Add(1)
		go s.runTargetLoop(target)
	}

	s.wg.Add(1)
	go s.runDeadmanLoop()

	s.wg.Add(1)
	go s.runDigestLoop()

	s.log.Info().Int("targets", len(s.targets)).Msg("scheduler started")
}

// Stop signals all loops and waits for in-flight checks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runTargetLoop(target models.Target) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(target.IntervalSecs) * time.Second)
	defer ticker.Stop()

	// First check right away rather than one interval in.
	s.checkTarget(target)

	for {
		select {
		case <-ticker.C:
			s.checkTarget(target)
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) checkTarget(target models.Target) {
	ctx := context.Background()
	if _, err := s.prober.Probe(ctx, target); err != nil {
		s.log.Error().Err(err).Str("target", target.Name).Msg("check cycle failed")
	}
}

func (s *Scheduler) runDeadmanLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(deadmanSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.monitor.Sweep(context.Background()); err != nil {
				s.log.Error().Err(err).Msg("deadman sweep failed")
			}
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) runDigestLoop() {
	defer s.wg.Done()

	loc, err := time.LoadLocation(s.digest.Timezone)
	if err != nil {
		s.log.Error().Err(err).Str("timezone", s.digest.Timezone).Msg("invalid digest timezone, using UTC")
		loc = time.UTC
	}

	for {
		timer := time.NewTimer(time.Until(nextDigestTime(time.Now().In(loc), s.digest.Hour, s.digest.Minute)))
		select {
		case <-timer.C:
			s.sendDigest(loc)
		case <-s.stopChan:
			timer.Stop()
			return
		}
	}
}

// nextDigestTime returns the next occurrence of hour:minute after now, in
// now's location.
func nextDigestTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s *Scheduler) sendDigest(loc *time.Location) {
	s.log.Info().Msg("generating daily status digest")

	since := time.Now().UTC().Add(-24 * time.Hour)

	targetDigests := make([]notifications.TargetDigest, 0, len(s.targets))
	for _, target := range s.targets {
		status := "unknown"
		if latest, err := s.statuses.FindLatest(target.Name); err == nil {
			status = latest.Status
		}

		uptime := 100.0
		total, err := s.statuses.Count(target.Name, since, "")
		if err != nil {
			s.log.Error().Err(err).Str("target", target.Name).Msg("could not count outcomes")
		} else if total > 0 {
			up, err := s.statuses.Count(target.Name, since, models.StatusUp)
			if err == nil {
				uptime = float64(up) / float64(total) * 100.0
			}
		}

		targetDigests = append(targetDigests, notifications.TargetDigest{
			Name:      target.Name,
			Type:      target.Type,
			Status:    status,
			Uptime24h: uptime,
		})
	}

	switchStatuses, err := s.monitor.EvaluateAll()
	if err != nil {
		s.log.Error().Err(err).Msg("could not evaluate switches for digest")
	}

	switchDigests := make([]notifications.SwitchDigest, 0, len(switchStatuses))
	for _, st := range switchStatuses {
		switchDigests = append(switchDigests, notifications.SwitchDigest{
			Name:   st.Switch.Name,
			Status: st.Status,
		})
	}

	s.dispatcher.SendDigest(context.Background(), time.Now().In(loc), targetDigests, switchDigests)
	s.log.Info().Msg("daily digest sent")
}
