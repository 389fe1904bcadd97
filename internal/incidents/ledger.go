// Package incidents owns the open-incident index and the lifecycle rules:
// no-incident -> open -> (acknowledged) -> resolved. The index is a cache
// over persisted incidents and is rebuilt from storage at startup.
package incidents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pytheus/watchdog/internal/models"
	"github.com/pytheus/watchdog/internal/storage"
)

var ErrAlreadyResolved = errors.New("incident already resolved")

// Store is the persistence collaborator. All operations are atomic with
// respect to a single incident write.
type Store interface {
	Create(inc models.Incident) (int64, error)
	Update(inc models.Incident) error
	FindByID(id int64) (models.Incident, error)
	List(limit int, statuses ...string) ([]models.Incident, error)
}

// Notifier delivers alerts on state transitions. Delivery failures are the
// notifier's problem; the ledger never fails a transition over them.
type Notifier interface {
	SendAlert(ctx context.Context, title, message, severity, targetName string, channels []string)
	SendRecovery(ctx context.Context, targetName, downtime string, channels []string)
}

// Opening describes a problem the caller wants tracked.
type Opening struct {
	Key         string // target name, or deadman_<switch>
	TargetName  string
	Severity    string
	Title       string
	Description string
	RetryCount  int
	Channels    []string
	AlertTitle  string // title used for the notification; falls back to Title
	AlertBody   string // body used for the notification; falls back to Description
}

// Ledger enforces at most one non-resolved incident per key. Transitions on
// the same key are serialized; unrelated keys proceed concurrently. No lock
// is held across a notification delivery.
type Ledger struct {
	store    Store
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	open     map[string]int64
	keyLocks map[string]*sync.Mutex
}

func NewLedger(store Store, notifier Notifier, log zerolog.Logger) *Ledger {
	return &Ledger{
		store:    store,
		notifier: notifier,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		open:     make(map[string]int64),
		keyLocks: make(map[string]*sync.Mutex),
	}
}

// Rebuild reconstructs the open-index by scanning storage for non-resolved
// incidents. Called once before the scheduler starts.
func (l *Ledger) Rebuild() error {
	active, err := l.store.List(0, models.IncidentOpen, models.IncidentAcknowledged)
	if err != nil {
		return fmt.Errorf("list active incidents: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, inc := range active {
		// Newest first; keep the most recent incident per key.
		if _, exists := l.open[inc.TargetName]; !exists {
			l.open[inc.TargetName] = inc.ID
		}
	}

	l.log.Info().Int("active", len(l.open)).Msg("incident index rebuilt")
	return nil
}

// HasOpen reports whether a non-resolved incident is tracked for key.
func (l *Ledger) HasOpen(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.open[key]
	return ok
}

// OpenOrRefresh creates an incident for key if none is active, requesting a
// notification; if one is already active, it only bumps the occurrence count
// so persistent failures do not renotify. Returns true when a new incident
// was created.
func (l *Ledger) OpenOrRefresh(ctx context.Context, op Opening) (bool, error) {
	unlock := l.lockKey(op.Key)

	l.mu.Lock()
	id, exists := l.open[op.Key]
	l.mu.Unlock()

	if exists {
		defer unlock()

		inc, err := l.store.FindByID(id)
		if err != nil {
			// Same stale-index handling as Resolve: a vanished incident must
			// not wedge the key forever.
			if errors.Is(err, storage.ErrIncidentNotFound) {
				l.dropKey(op.Key)
			}
			return false, fmt.Errorf("find incident %d: %w", id, err)
		}
		inc.RetryCount++
		if err := l.store.Update(inc); err != nil {
			return false, fmt.Errorf("update incident %d: %w", id, err)
		}
		l.log.Info().Int64("incident", id).Str("key", op.Key).Int("retry_count", inc.RetryCount).
			Msg("refreshed active incident")
		return false, nil
	}

	// The key is what gets persisted, so Rebuild lands on the same index
	// entry. For regular targets the key and target name are identical.
	inc := models.Incident{
		TargetName:  op.Key,
		Severity:    op.Severity,
		Status:      models.IncidentOpen,
		Title:       op.Title,
		Description: op.Description,
		StartedAt:   l.now(),
		RetryCount:  op.RetryCount,
	}

	newID, err := l.store.Create(inc)
	if err != nil {
		unlock()
		return false, fmt.Errorf("create incident: %w", err)
	}
	inc.ID = newID

	// Index only after the write landed, so the index never points at an
	// incident that does not exist.
	l.mu.Lock()
	l.open[op.Key] = newID
	l.mu.Unlock()
	unlock()

	l.log.Info().Int64("incident", newID).Str("key", op.Key).Str("severity", op.Severity).
		Msg("opened incident")

	title := op.AlertTitle
	if title == "" {
		title = op.Title
	}
	body := op.AlertBody
	if body == "" {
		body = op.Description
	}
	l.notifier.SendAlert(ctx, title, body, op.Severity, op.TargetName, op.Channels)

	inc.NotificationSent = true
	if err := l.store.Update(inc); err != nil {
		l.log.Error().Err(err).Int64("incident", newID).Msg("could not record notification flag")
	}

	return true, nil
}

// Acknowledge moves an open incident to acknowledged. Resolved or unknown
// incidents are an error.
func (l *Ledger) Acknowledge(id int64) error {
	inc, err := l.store.FindByID(id)
	if err != nil {
		return err
	}
	if inc.Status == models.IncidentResolved {
		return ErrAlreadyResolved
	}

	inc.Status = models.IncidentAcknowledged
	if err := l.store.Update(inc); err != nil {
		return fmt.Errorf("update incident %d: %w", id, err)
	}

	l.log.Info().Int64("incident", id).Msg("incident acknowledged")
	return nil
}

// Resolve closes the active incident for key, if any, and sends a recovery
// notification. Resolving a key with no active incident is a no-op.
func (l *Ledger) Resolve(ctx context.Context, key string, channels []string) (bool, error) {
	unlock := l.lockKey(key)

	l.mu.Lock()
	id, exists := l.open[key]
	l.mu.Unlock()

	if !exists {
		unlock()
		return false, nil
	}

	inc, err := l.store.FindByID(id)
	if err != nil {
		unlock()
		// The index pointed at an incident storage no longer returns; drop
		// the stale entry rather than wedging the key forever.
		if errors.Is(err, storage.ErrIncidentNotFound) {
			l.dropKey(key)
		}
		return false, fmt.Errorf("find incident %d: %w", id, err)
	}

	resolvedAt := l.now()
	inc.Status = models.IncidentResolved
	inc.ResolvedAt = &resolvedAt

	if err := l.store.Update(inc); err != nil {
		unlock()
		return false, fmt.Errorf("update incident %d: %w", id, err)
	}

	l.dropKey(key)
	unlock()

	downtime := resolvedAt.Sub(inc.StartedAt).Round(time.Second)
	l.log.Info().Int64("incident", id).Str("key", key).Dur("downtime", downtime).
		Msg("incident resolved")

	l.notifier.SendRecovery(ctx, inc.TargetName, downtime.String(), channels)
	return true, nil
}

func (l *Ledger) dropKey(key string) {
	l.mu.Lock()
	delete(l.open, key)
	l.mu.Unlock()
}

func (l *Ledger) lockKey(key string) func() {
	l.mu.Lock()
	km, ok := l.keyLocks[key]
	if !ok {
		km = &sync.Mutex{}
		l.keyLocks[key] = km
	}
	l.mu.Unlock()

	km.Lock()
	return km.Unlock
}
