package checker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/pytheus/watchdog/internal/config"
	"github.com/pytheus/watchdog/internal/incidents"
	"github.com/pytheus/watchdog/internal/models"
	"github.com/pytheus/watchdog/internal/storage"
	"github.com/pytheus/watchdog/internal/triage"
)

type memOutcomes struct {
	mu       sync.Mutex
	recorded []models.CheckOutcome
}

func (m *memOutcomes) Record(o models.CheckOutcome) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, o)
	return int64(len(m.recorded)), nil
}

type memIncidents struct {
	mu        sync.Mutex
	nextID    int64
	incidents map[int64]models.Incident
}

func newMemIncidents() *memIncidents {
	return &memIncidents{incidents: make(map[int64]models.Incident)}
}

func (m *memIncidents) Create(inc models.Incident) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	inc.ID = m.nextID
	m.incidents[inc.ID] = inc
	return inc.ID, nil
}

func (m *memIncidents) Update(inc models.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.incidents[inc.ID]; !ok {
		return storage.ErrIncidentNotFound
	}
	m.incidents[inc.ID] = inc
	return nil
}

func (m *memIncidents) FindByID(id int64) (models.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return models.Incident{}, storage.ErrIncidentNotFound
	}
	return inc, nil
}

func (m *memIncidents) List(limit int, statuses ...string) ([]models.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Incident
	for _, inc := range m.incidents {
		for _, st := range statuses {
			if inc.Status == st {
				out = append(out, inc)
				break
			}
		}
	}
	return out, nil
}

type memNotifier struct {
	mu         sync.Mutex
	alerts     []string
	recoveries []string
}

func (n *memNotifier) SendAlert(_ context.Context, title, _, _, _ string, _ []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, title)
}

func (n *memNotifier) SendRecovery(_ context.Context, targetName, _ string, _ []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recoveries = append(n.recoveries, targetName)
}

type stubConfirmer struct {
	verdict triage.Confirmation
	calls   int
}

func (s *stubConfirmer) Confirm(_ context.Context, _ triage.Request) triage.Confirmation {
	s.calls++
	return s.verdict
}

type testHarness struct {
	prober    *Prober
	outcomes  *memOutcomes
	incidents *memIncidents
	notifier  *memNotifier
	sleeps    []time.Duration
}

func newHarness(t *testing.T, confirmer triage.Confirmer) *testHarness {
	t.Helper()
	h := &testHarness{
		outcomes:  &memOutcomes{},
		incidents: newMemIncidents(),
		notifier:  &memNotifier{},
	}
	ledger := incidents.NewLedger(h.incidents, h.notifier, zerolog.Nop())
	retry := config.Retry{MaxAttempts: 3, DelaySeconds: 10, BackoffMultiplier: 1.5}
	h.prober = NewProber(h.outcomes, ledger, confirmer, retry, zerolog.Nop())
	h.prober.sleep = func(d time.Duration) { h.sleeps = append(h.sleeps, d) }
	return h
}

func httpTarget(url string) models.Target {
	return models.Target{
		Name:           "api",
		Type:           "http",
		URL:            url,
		TimeoutSeconds: 5,
		ExpectedStatus: 200,
		Severity:       models.SeverityCritical,
		Alerts:         []string{"slack"},
	}
}

func TestProbeFailureRetriesWithBackoff(t *testing.T) {
	is := is.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := newHarness(t, &stubConfirmer{})
	outcome, err := h.prober.Probe(context.Background(), httpTarget(srv.URL))
	is.NoErr(err)
	is.Equal(outcome.Status, models.StatusDown)

	// Two sleeps between three attempts: 10s, then 10s * 1.5.
	is.Equal(h.sleeps, []time.Duration{10 * time.Second, 15 * time.Second})

	is.Equal(len(h.outcomes.recorded), 1)
	is.Equal(h.outcomes.recorded[0].Status, models.StatusDown)
	is.True(h.outcomes.recorded[0].ErrorMessage != "")

	is.Equal(len(h.incidents.incidents), 1)
	inc := h.incidents.incidents[1]
	is.Equal(inc.Status, models.IncidentOpen)
	is.Equal(inc.Severity, models.SeverityCritical)
	is.Equal(inc.RetryCount, 3)
	is.Equal(h.notifier.alerts, []string{"🚨 Alert: api is DOWN"})
}

func TestProbeRepeatFailureDoesNotRenotify(t *testing.T) {
	is := is.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h := newHarness(t, &stubConfirmer{})
	target := httpTarget(srv.URL)

	_, err := h.prober.Probe(context.Background(), target)
	is.NoErr(err)
	_, err = h.prober.Probe(context.Background(), target)
	is.NoErr(err)

	is.Equal(len(h.incidents.incidents), 1)
	is.Equal(h.incidents.incidents[1].RetryCount, 4) // 3 first cycle, +1 refresh
	is.Equal(len(h.notifier.alerts), 1)
}

func TestProbeSuccessResolvesActiveIncident(t *testing.T) {
	is := is.New(t)
	var failing atomic.Bool
	failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	h := newHarness(t, &stubConfirmer{})
	target := httpTarget(srv.URL)

	_, err := h.prober.Probe(context.Background(), target)
	is.NoErr(err)

	failing.Store(false)
	outcome, err := h.prober.Probe(context.Background(), target)
	is.NoErr(err)
	is.Equal(outcome.Status, models.StatusUp)
	is.True(outcome.ResponseTimeMS != nil)

	inc := h.incidents.incidents[1]
	is.Equal(inc.Status, models.IncidentResolved)
	is.True(inc.ResolvedAt != nil)
	is.Equal(h.notifier.recoveries, []string{"api"})
}

func TestProbeContentMatchFailure(t *testing.T) {
	is := is.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>maintenance page</html>"))
	}))
	defer srv.Close()

	h := newHarness(t, &stubConfirmer{})
	target := httpTarget(srv.URL)
	target.ContentMatch = "Welcome back"

	outcome, err := h.prober.Probe(context.Background(), target)
	is.NoErr(err)
	is.Equal(outcome.Status, models.StatusDown)
	is.Equal(len(h.incidents.incidents), 1)
}

const degradedPage = `<html><body>
<h1>Service Status</h1>
<div class="component-status">Degraded Performance</div>
<p>Some users are experiencing elevated error rates.</p>
</body></html>`

func TestStatusPageConfirmedIssueGoesDegraded(t *testing.T) {
	is := is.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(degradedPage))
	}))
	defer srv.Close()

	confirmer := &stubConfirmer{verdict: triage.Confirmation{
		Confirmed: true,
		Severity:  models.SeverityWarning,
		Summary:   "Elevated error rates on the API tier",
	}}
	h := newHarness(t, confirmer)

	target := httpTarget(srv.URL)
	target.Name = "provider-status"
	target.ParseStatus = true

	outcome, err := h.prober.Probe(context.Background(), target)
	is.NoErr(err)
	is.Equal(outcome.Status, models.StatusDegraded)
	is.Equal(outcome.AISummary, "AI Confirmed: Elevated error rates on the API tier")
	is.Equal(confirmer.calls, 1)

	is.Equal(len(h.incidents.incidents), 1)
	is.Equal(h.incidents.incidents[1].Severity, models.SeverityWarning)
	is.Equal(h.notifier.alerts, []string{"⚠️ Platform Issue: provider-status"})
}

func TestStatusPageUnconfirmedIssueStaysUp(t *testing.T) {
	is := is.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(degradedPage))
	}))
	defer srv.Close()

	confirmer := &stubConfirmer{verdict: triage.Confirmation{
		Confirmed: false,
		Summary:   "Historical incident notice, currently operational",
	}}
	h := newHarness(t, confirmer)

	target := httpTarget(srv.URL)
	target.ParseStatus = true

	outcome, err := h.prober.Probe(context.Background(), target)
	is.NoErr(err)
	is.Equal(outcome.Status, models.StatusUp)
	is.Equal(outcome.AISummary, "AI Analysis: Historical incident notice, currently operational")
	is.Equal(len(h.incidents.incidents), 0)
	is.Equal(len(h.notifier.alerts), 0)
}

func TestStatusPageTrackedIncidentSkipsTriage(t *testing.T) {
	is := is.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(degradedPage))
	}))
	defer srv.Close()

	confirmer := &stubConfirmer{verdict: triage.Confirmation{Confirmed: true}}
	h := newHarness(t, confirmer)

	target := httpTarget(srv.URL)
	target.ParseStatus = true

	_, err := h.prober.Probe(context.Background(), target)
	is.NoErr(err)
	is.Equal(confirmer.calls, 1)

	outcome, err := h.prober.Probe(context.Background(), target)
	is.NoErr(err)
	is.Equal(confirmer.calls, 1) // not consulted again
	is.Equal(outcome.Status, models.StatusDegraded)
	is.Equal(outcome.AISummary, "Active incident already being tracked")
	is.Equal(len(h.incidents.incidents), 1)
}

func TestIsStatusPageDetection(t *testing.T) {
	is := is.New(t)

	is.True(isStatusPage(models.Target{Name: "api", ParseStatus: true}))
	is.True(isStatusPage(models.Target{Name: "provider-status", URL: "https://example.com"}))
	is.True(isStatusPage(models.Target{Name: "api", URL: "https://status.example.com"}))
	is.True(!isStatusPage(models.Target{Name: "api", URL: "https://example.com"}))
}
