package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pytheus/watchdog/internal/deadman"
	"github.com/pytheus/watchdog/internal/incidents"
	"github.com/pytheus/watchdog/internal/models"
	"github.com/pytheus/watchdog/internal/storage"
)

// OutcomeReader reads back recorded check outcomes.
type OutcomeReader interface {
	FindLatest(targetName string) (models.CheckOutcome, error)
	Count(targetName string, since time.Time, statusFilter string) (int, error)
	ListSince(targetName string, since time.Time, limit int) ([]models.CheckOutcome, error)
}

// IncidentReader lists persisted incidents.
type IncidentReader interface {
	List(limit int, statuses ...string) ([]models.Incident, error)
}

// SwitchReader reads dead man's switches.
type SwitchReader interface {
	FindByName(name string) (models.DeadManSwitch, error)
	ListAll() ([]models.DeadManSwitch, error)
}

type Server struct {
	Outcomes  OutcomeReader
	Incidents IncidentReader
	Switches  SwitchReader
	Monitor   *deadman.Monitor
	Ledger    *incidents.Ledger
	Targets   []models.Target
	BaseURL   string
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	http.Error(w, msg, status)
}

func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type targetStatus struct {
	Name         string     `json:"name"`
	Type         string     `json:"type"`
	URL          string     `json:"url,omitempty"`
	Status       string     `json:"status"`
	LastCheck    *time.Time `json:"last_check,omitempty"`
	ResponseTime *float64   `json:"response_time,omitempty"`
	Uptime24h    float64    `json:"uptime_24h"`
	Uptime7d     float64    `json:"uptime_7d"`
	Uptime30d    float64    `json:"uptime_30d"`
	AISummary    string     `json:"ai_summary,omitempty"`
}

type incidentResponse struct {
	ID              int64      `json:"id"`
	TargetName      string     `json:"target_name"`
	Severity        string     `json:"severity"`
	Status          string     `json:"status"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	StartedAt       time.Time  `json:"started_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
}

type switchResponse struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	Token            string     `json:"token"`
	ExpectedInterval int        `json:"expected_interval"`
	LastPing         *time.Time `json:"last_ping,omitempty"`
	Status           string     `json:"status"`
	Enabled          bool       `json:"enabled"`
}

type dashboardResponse struct {
	Targets          []targetStatus     `json:"targets"`
	ActiveIncidents  []incidentResponse `json:"active_incidents"`
	TotalChecks24h   int                `json:"total_checks_24h"`
	UptimePercentage float64            `json:"uptime_percentage"`
	DeadmanSwitches  []switchResponse   `json:"deadman_switches"`
}

func (s *Server) Dashboard(w http.ResponseWriter, _ *http.Request) {
	now := time.Now().UTC()

	targets := make([]targetStatus, 0, len(s.Targets))
	totalChecks24h := 0
	upChecks24h := 0

	for _, target := range s.Targets {
		ts := targetStatus{
			Name:   target.Name,
			Type:   target.Type,
			URL:    target.URL,
			Status: "unknown",
		}

		if latest, err := s.Outcomes.FindLatest(target.Name); err == nil {
			ts.Status = latest.Status
			checkedAt := latest.CheckedAt
			ts.LastCheck = &checkedAt
			ts.ResponseTime = latest.ResponseTimeMS
			ts.AISummary = latest.AISummary
		}

		ts.Uptime24h = s.uptimePercent(target.Name, now.Add(-24*time.Hour))
		ts.Uptime7d = s.uptimePercent(target.Name, now.Add(-24*7*time.Hour))
		ts.Uptime30d = s.uptimePercent(target.Name, now.Add(-24*30*time.Hour))

		total, _ := s.Outcomes.Count(target.Name, now.Add(-24*time.Hour), "")
		up, _ := s.Outcomes.Count(target.Name, now.Add(-24*time.Hour), models.StatusUp)
		totalChecks24h += total
		upChecks24h += up

		targets = append(targets, ts)
	}

	overallUptime := 100.0
	if totalChecks24h > 0 {
		overallUptime = float64(upChecks24h) / float64(totalChecks24h) * 100.0
	}

	active, err := s.Incidents.List(0, models.IncidentOpen, models.IncidentAcknowledged)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list incidents")
		return
	}

	allSwitches, err := s.Switches.ListAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list switches")
		return
	}

	switches := make([]switchResponse, 0, len(allSwitches))
	for _, sw := range allSwitches {
		switches = append(switches, switchResponse{
			ID:               sw.ID,
			Name:             sw.Name,
			Token:            sw.Token,
			ExpectedInterval: sw.ExpectedInterval,
			LastPing:         sw.LastPing,
			Status:           deadman.Status(sw, now),
			Enabled:          sw.Enabled,
		})
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		Targets:          targets,
		ActiveIncidents:  toIncidentResponses(active, now),
		TotalChecks24h:   totalChecks24h,
		UptimePercentage: overallUptime,
		DeadmanSwitches:  switches,
	})
}

func (s *Server) uptimePercent(targetName string, since time.Time) float64 {
	total, err := s.Outcomes.Count(targetName, since, "")
	if err != nil || total == 0 {
		return 100.0
	}
	up, err := s.Outcomes.Count(targetName, since, models.StatusUp)
	if err != nil {
		return 100.0
	}
	return float64(up) / float64(total) * 100.0
}

func (s *Server) TargetHistory(w http.ResponseWriter, r *http.Request) {
	targetName := chi.URLParam(r, "name")

	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid hours")
			return
		}
		hours = parsed
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	outcomes, err := s.Outcomes.ListSince(targetName, since, 1000)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if outcomes == nil {
		outcomes = []models.CheckOutcome{}
	}
	writeJSON(w, http.StatusOK, outcomes)
}

func (s *Server) GetIncidents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	var statuses []string
	if status := r.URL.Query().Get("status"); status != "" {
		statuses = append(statuses, status)
	}

	list, err := s.Incidents.List(limit, statuses...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list incidents")
		return
	}

	writeJSON(w, http.StatusOK, toIncidentResponses(list, time.Now().UTC()))
}

func (s *Server) AcknowledgeIncident(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid incident id")
		return
	}

	switch err := s.Ledger.Acknowledge(id); {
	case errors.Is(err, storage.ErrIncidentNotFound):
		writeError(w, http.StatusNotFound, "incident not found")
	case errors.Is(err, incidents.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, "incident already resolved")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to acknowledge incident")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "incident_id": id})
	}
}

type pingRequest struct {
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func (s *Server) DeadmanPing(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var payload string
	var body pingRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && len(body.Metadata) > 0 {
		payload = string(body.Metadata)
	}

	sw, err := s.Monitor.Ping(r.Context(), token, payload)
	switch {
	case errors.Is(err, storage.ErrSwitchNotFound):
		writeError(w, http.StatusNotFound, "invalid token")
		return
	case errors.Is(err, deadman.ErrSwitchDisabled):
		writeError(w, http.StatusForbidden, "switch is disabled")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to record ping")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"switch":    sw.Name,
		"timestamp": sw.LastPing.UTC().Format(time.RFC3339),
	})
}

func (s *Server) WebhookURL(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	sw, err := s.Switches.FindByName(name)
	if errors.Is(err, storage.ErrSwitchNotFound) {
		writeError(w, http.StatusNotFound, "switch not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load switch")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"switch":      sw.Name,
		"webhook_url": fmt.Sprintf("%s/api/ping/%s", s.BaseURL, sw.Token),
		"token":       sw.Token,
	})
}

func toIncidentResponses(list []models.Incident, now time.Time) []incidentResponse {
	out := make([]incidentResponse, 0, len(list))
	for _, inc := range list {
		resp := incidentResponse{
			ID:          inc.ID,
			TargetName:  inc.TargetName,
			Severity:    inc.Severity,
			Status:      inc.Status,
			Title:       inc.Title,
			Description: inc.Description,
			StartedAt:   inc.StartedAt,
			ResolvedAt:  inc.ResolvedAt,
		}

		var duration int
		if inc.ResolvedAt != nil {
			duration = int(inc.ResolvedAt.Sub(inc.StartedAt).Minutes())
			resp.DurationMinutes = &duration
		} else if inc.Status == models.IncidentOpen {
			duration = int(now.Sub(inc.StartedAt).Minutes())
			resp.DurationMinutes = &duration
		}

		out = append(out, resp)
	}
	return out
}
