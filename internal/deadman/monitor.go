// Package deadman evaluates heartbeat contracts: a switch that misses its
// expected pings for long enough opens an incident, and the next ping
// resolves it.
package deadman

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pytheus/watchdog/internal/config"
	"github.com/pytheus/watchdog/internal/incidents"
	"github.com/pytheus/watchdog/internal/models"
	"github.com/pytheus/watchdog/internal/storage"
)

var ErrSwitchDisabled = errors.New("deadman switch is disabled")

// criticalFactor is how far past the expected interval a switch may run
// before an incident opens. Between 1x and this factor the switch only
// reports overdue.
const criticalFactor = 1.5

// alertChannels are the channels heartbeat incidents notify; switches have
// no per-switch channel configuration.
var alertChannels = []string{"slack", "telegram"}

// Store is the persistence collaborator for switches and pings.
type Store interface {
	FindByName(name string) (models.DeadManSwitch, error)
	FindByToken(token string) (models.DeadManSwitch, error)
	Upsert(sw models.DeadManSwitch) (models.DeadManSwitch, error)
	ListEnabled() ([]models.DeadManSwitch, error)
	RecordPing(sw models.DeadManSwitch, pingedAt time.Time, payload string) error
}

// SwitchStatus pairs a switch with its evaluated sweep status.
type SwitchStatus struct {
	Switch models.DeadManSwitch
	Status string
}

type Monitor struct {
	store  Store
	ledger *incidents.Ledger
	log    zerolog.Logger
	now    func() time.Time
}

func NewMonitor(store Store, ledger *incidents.Ledger, log zerolog.Logger) *Monitor {
	return &Monitor{
		store:  store,
		ledger: ledger,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Seed inserts configured switches that do not exist yet, generating a
// unique ping token for each. Existing switches are left untouched so their
// tokens and last-ping times survive restarts.
func (m *Monitor) Seed(configured []config.DeadmanSwitch) error {
	for _, sc := range configured {
		_, err := m.store.FindByName(sc.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrSwitchNotFound) {
			return fmt.Errorf("look up switch %q: %w", sc.Name, err)
		}

		_, err = m.store.Upsert(models.DeadManSwitch{
			Name:             sc.Name,
			Token:            uuid.NewString(),
			ExpectedInterval: sc.ExpectedInterval,
			Severity:         sc.Severity,
			Enabled:          true,
		})
		if err != nil {
			return fmt.Errorf("seed switch %q: %w", sc.Name, err)
		}
		m.log.Info().Str("switch", sc.Name).Msg("initialized dead man's switch")
	}
	return nil
}

// Status evaluates one switch against now. Switches that have never pinged
// are in a grace period and report unknown.
func Status(sw models.DeadManSwitch, now time.Time) string {
	if sw.LastPing == nil {
		return models.SwitchUnknown
	}

	elapsed := now.Sub(*sw.LastPing).Seconds()
	expected := float64(sw.ExpectedInterval)

	switch {
	case elapsed <= expected:
		return models.SwitchOK
	case elapsed < expected*criticalFactor:
		return models.SwitchOverdue
	default:
		return models.SwitchCritical
	}
}

// Sweep evaluates every enabled switch once. Critical switches open (or
// refresh) an incident under the synthetic deadman key; overdue switches
// only log.
func (m *Monitor) Sweep(ctx context.Context) error {
	switches, err := m.store.ListEnabled()
	if err != nil {
		return fmt.Errorf("list switches: %w", err)
	}

	now := m.now()
	for _, sw := range switches {
		if sw.LastPing == nil {
			// Grace period until the first ping arrives.
			continue
		}

		status := Status(sw, now)
		if status == models.SwitchOK {
			continue
		}

		elapsed := int(now.Sub(*sw.LastPing).Seconds())
		overdueMinutes := (elapsed - sw.ExpectedInterval) / 60
		m.log.Warn().Str("switch", sw.Name).Str("status", status).Int("overdue_minutes", overdueMinutes).
			Msg("dead man's switch is overdue")

		if status != models.SwitchCritical {
			continue
		}

		_, err := m.ledger.OpenOrRefresh(ctx, incidents.Opening{
			Key:        models.DeadmanKey(sw.Name),
			TargetName: sw.Name,
			Severity:   sw.Severity,
			Title:      fmt.Sprintf("Dead Man's Switch Missed: %s", sw.Name),
			Description: fmt.Sprintf("Expected ping within %ds, but it's been %ds since last ping (overdue by %d minutes).",
				sw.ExpectedInterval, elapsed, overdueMinutes),
			Channels:   alertChannels,
			AlertTitle: fmt.Sprintf("⏰ Dead Man's Switch Missed: %s", sw.Name),
			AlertBody: fmt.Sprintf("Expected ping within %ds, but it's been %ds since last ping.\n\n**Overdue by:** %d minutes",
				sw.ExpectedInterval, elapsed, overdueMinutes),
		})
		if err != nil {
			m.log.Error().Err(err).Str("switch", sw.Name).Msg("could not open incident")
		}
	}

	return nil
}

// Ping handles one received heartbeat: unknown tokens and disabled switches
// are client errors; otherwise the last-ping time advances, the ping is
// recorded, and any open incident for the switch resolves.
func (m *Monitor) Ping(ctx context.Context, token, payload string) (models.DeadManSwitch, error) {
	sw, err := m.store.FindByToken(token)
	if err != nil {
		return models.DeadManSwitch{}, err
	}
	if !sw.Enabled {
		return models.DeadManSwitch{}, ErrSwitchDisabled
	}

	pingedAt := m.now()
	if err := m.store.RecordPing(sw, pingedAt, payload); err != nil {
		return models.DeadManSwitch{}, fmt.Errorf("record ping: %w", err)
	}
	sw.LastPing = &pingedAt

	if _, err := m.ledger.Resolve(ctx, models.DeadmanKey(sw.Name), alertChannels); err != nil {
		m.log.Error().Err(err).Str("switch", sw.Name).Msg("could not resolve incident")
	}

	m.log.Debug().Str("switch", sw.Name).Msg("heartbeat received")
	return sw, nil
}

// EvaluateAll returns the current status of every enabled switch; used by
// the dashboard and the daily digest.
func (m *Monitor) EvaluateAll() ([]SwitchStatus, error) {
	switches, err := m.store.ListEnabled()
	if err != nil {
		return nil, err
	}

	now := m.now()
	statuses := make([]SwitchStatus, 0, len(switches))
	for _, sw := range switches {
		statuses = append(statuses, SwitchStatus{Switch: sw, Status: Status(sw, now)})
	}
	return statuses, nil
}
