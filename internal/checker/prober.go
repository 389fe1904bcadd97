// Package checker probes monitored targets and drives incident transitions
// from the results.
package checker

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pytheus/watchdog/internal/config"
	"github.com/pytheus/watchdog/internal/incidents"
	"github.com/pytheus/watchdog/internal/models"
	"github.com/pytheus/watchdog/internal/statuspage"
	"github.com/pytheus/watchdog/internal/triage"
)

// OutcomeStore persists completed probe cycles.
type OutcomeStore interface {
	Record(o models.CheckOutcome) (int64, error)
}

// Prober runs one check cycle per scheduled tick: up to the configured
// number of attempts with exponential backoff between them, then incident
// bookkeeping based on where the loop ended.
type Prober struct {
	outcomes  OutcomeStore
	ledger    *incidents.Ledger
	confirmer triage.Confirmer
	log       zerolog.Logger

	maxAttempts int
	delay       time.Duration
	backoff     float64

	// Injected so the retry loop is testable without real elapsed time.
	sleep func(time.Duration)
	now   func() time.Time
}

func NewProber(outcomes OutcomeStore, ledger *incidents.Ledger, confirmer triage.Confirmer, retry config.Retry, log zerolog.Logger) *Prober {
	return &Prober{
		outcomes:    outcomes,
		ledger:      ledger,
		confirmer:   confirmer,
		log:         log,
		maxAttempts: retry.MaxAttempts,
		delay:       time.Duration(retry.DelaySeconds * float64(time.Second)),
		backoff:     retry.BackoffMultiplier,
		sleep:       time.Sleep,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// isStatusPage reports whether the target's body needs semantic
// classification. Besides the explicit flag, targets are auto-detected by a
// "status" substring in the name or a "status." substring in the URL; a
// target that merely has "status" in its name will be misclassified, which
// matches the long-standing behavior downstream dashboards depend on.
func isStatusPage(target models.Target) bool {
	name := strings.ToLower(target.Name)
	url := strings.ToLower(target.URL)
	return target.ParseStatus || strings.Contains(name, "status") || strings.Contains(url, "status.")
}

// Probe executes one full check cycle for a target and records its outcome.
func (p *Prober) Probe(ctx context.Context, target models.Target) (models.CheckOutcome, error) {
	statusPage := isStatusPage(target) && target.Type == "http"

	p.log.Info().Str("target", target.Name).Str("url", target.URL).Bool("status_page", statusPage).
		Msg("checking target")

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		res, err := p.runAttempt(ctx, target)
		if err == nil {
			return p.finishSuccess(ctx, target, res, statusPage)
		}

		lastErr = err
		p.log.Warn().Str("target", target.Name).Int("attempt", attempt).Int("max_attempts", p.maxAttempts).
			Err(err).Msg("attempt failed")

		if attempt < p.maxAttempts {
			p.sleep(p.backoffDelay(attempt))
		}
	}

	return p.finishFailure(ctx, target, lastErr)
}

// backoffDelay is delay * multiplier^(attempt-1).
func (p *Prober) backoffDelay(attempt int) time.Duration {
	return time.Duration(float64(p.delay) * math.Pow(p.backoff, float64(attempt-1)))
}

func (p *Prober) runAttempt(ctx context.Context, target models.Target) (attemptResult, error) {
	switch target.Type {
	case "ping":
		return runPingAttempt(ctx, target)
	default:
		return runHTTPAttempt(ctx, target)
	}
}

func (p *Prober) finishSuccess(ctx context.Context, target models.Target, res attemptResult, statusPage bool) (models.CheckOutcome, error) {
	outcome := models.CheckOutcome{
		TargetName:     target.Name,
		Status:         models.StatusUp,
		ResponseTimeMS: &res.responseTimeMS,
		StatusCode:     res.statusCode,
		CheckedAt:      p.now(),
	}

	if statusPage {
		cls := statuspage.Classify(res.body, target.URL)
		if !cls.IsHealthy {
			parserDesc := "Platform issue: " + cls.Status
			if cls.Description != "" {
				desc := cls.Description
				if len(desc) > 200 {
					desc = desc[:200]
				}
				parserDesc += " - " + desc
			}
			p.log.Warn().Str("target", target.Name).Str("detected", parserDesc).
				Msg("status page shows issues")

			confirmed, aiSummary := p.handleDegraded(ctx, target, cls, parserDesc, res.body)
			outcome.AISummary = aiSummary

			if confirmed {
				outcome.Status = models.StatusDegraded
				outcome.ErrorMessage = parserDesc

				if _, err := p.outcomes.Record(outcome); err != nil {
					return outcome, fmt.Errorf("record outcome: %w", err)
				}
				p.log.Warn().Str("target", target.Name).Float64("response_ms", res.responseTimeMS).
					Msg("target is DEGRADED")
				return outcome, nil
			}
			// Unconfirmed finding: surfaces only as a latent note on an up
			// outcome, never as a degraded verdict or an incident.
		}
	}

	if _, err := p.outcomes.Record(outcome); err != nil {
		return outcome, fmt.Errorf("record outcome: %w", err)
	}

	if _, err := p.ledger.Resolve(ctx, target.Name, target.Alerts); err != nil {
		p.log.Error().Err(err).Str("target", target.Name).Msg("could not resolve incident")
	}

	p.log.Info().Str("target", target.Name).Float64("response_ms", res.responseTimeMS).
		Msg("target is UP")
	return outcome, nil
}

func (p *Prober) finishFailure(ctx context.Context, target models.Target, lastErr error) (models.CheckOutcome, error) {
	outcome := models.CheckOutcome{
		TargetName:   target.Name,
		Status:       models.StatusDown,
		ErrorMessage: lastErr.Error(),
		CheckedAt:    p.now(),
	}

	if _, err := p.outcomes.Record(outcome); err != nil {
		// Abandon the cycle; the next scheduled tick retries. The incident
		// index is left untouched so it keeps agreeing with storage.
		return outcome, fmt.Errorf("record outcome: %w", err)
	}

	_, err := p.ledger.OpenOrRefresh(ctx, incidents.Opening{
		Key:        target.Name,
		TargetName: target.Name,
		Severity:   target.Severity,
		Title:      fmt.Sprintf("%s is DOWN", target.Name),
		Description: fmt.Sprintf("Service check failed after %d attempts.\n\nError: %s",
			p.maxAttempts, lastErr),
		RetryCount: p.maxAttempts,
		Channels:   target.Alerts,
		AlertTitle: fmt.Sprintf("🚨 Alert: %s is DOWN", target.Name),
		AlertBody: fmt.Sprintf("Service check failed after %d attempts.\n\n**Error:** %s",
			p.maxAttempts, lastErr),
	})
	if err != nil {
		p.log.Error().Err(err).Str("target", target.Name).Msg("could not open incident")
	}

	p.log.Error().Str("target", target.Name).Err(lastErr).Msg("target is DOWN")
	return outcome, nil
}

// handleDegraded decides whether a classifier finding becomes a degraded
// incident. An already-tracked key confirms immediately without consulting
// the adapter. Severity can differ between repeat detections; an existing
// incident's severity is deliberately left as it was first recorded.
func (p *Prober) handleDegraded(ctx context.Context, target models.Target, cls statuspage.Result, parserDesc, body string) (bool, string) {
	if p.ledger.HasOpen(target.Name) {
		if _, err := p.ledger.OpenOrRefresh(ctx, incidents.Opening{
			Key:        target.Name,
			TargetName: target.Name,
		}); err != nil {
			p.log.Error().Err(err).Str("target", target.Name).Msg("could not refresh incident")
		}
		return true, "Active incident already being tracked"
	}

	verdict := p.confirmer.Confirm(ctx, triage.Request{
		PlatformName: target.Name,
		SourceURL:    target.URL,
		Markup:       body,
		ParserStatus: cls.Status,
		ParserDesc:   cls.Description,
	})

	if !verdict.Confirmed {
		p.log.Info().Str("target", target.Name).Str("summary", verdict.Summary).
			Msg("triage did not confirm issue")
		return false, "AI Analysis: " + verdict.Summary
	}

	severity := verdict.Severity
	if severity == "" {
		severity = models.SeverityWarning
	}
	summary := verdict.Summary
	if summary == "" {
		summary = parserDesc
	}
	recommendation := verdict.Recommendation
	if recommendation == "" {
		recommendation = "Monitor the situation"
	}

	_, err := p.ledger.OpenOrRefresh(ctx, incidents.Opening{
		Key:         target.Name,
		TargetName:  target.Name,
		Severity:    severity,
		Title:       fmt.Sprintf("%s - Platform Issues Detected", target.Name),
		Description: fmt.Sprintf("%s\n\nRecommendation: %s", summary, recommendation),
		Channels:    target.Alerts,
		AlertTitle:  fmt.Sprintf("⚠️ Platform Issue: %s", target.Name),
		AlertBody: fmt.Sprintf("**AI-Confirmed Issue:**\n\n%s\n\n**Recommendation:** %s\n\n_This is a platform issue, not your code._",
			summary, recommendation),
	})
	if err != nil {
		p.log.Error().Err(err).Str("target", target.Name).Msg("could not open degraded incident")
	}

	return true, "AI Confirmed: " + summary
}
