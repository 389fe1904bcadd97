package storage

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/pytheus/watchdog/internal/models"
)

var ErrIncidentNotFound = errors.New("incident not found")

type IncidentRepo struct {
	db *sql.DB
}

func NewIncidentRepo(db *sql.DB) *IncidentRepo { return &IncidentRepo{db: db} }

func (r *IncidentRepo) Create(inc models.Incident) (int64, error) {
	res, err := r.db.Exec(`
		INSERT INTO incidents(target_name, severity, status, title, description, started_at, resolved_at, notification_sent, retry_count)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inc.TargetName, inc.Severity, inc.Status, inc.Title, inc.Description, inc.StartedAt, inc.ResolvedAt, boolToInt(inc.NotificationSent), inc.RetryCount)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *IncidentRepo) Update(inc models.Incident) error {
	res, err := r.db.Exec(`
		UPDATE incidents
		SET severity = ?, status = ?, title = ?, description = ?, resolved_at = ?, notification_sent = ?, retry_count = ?
		WHERE id = ?
	`, inc.Severity, inc.Status, inc.Title, inc.Description, inc.ResolvedAt, boolToInt(inc.NotificationSent), inc.RetryCount, inc.ID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrIncidentNotFound
	}
	return nil
}

func (r *IncidentRepo) FindByID(id int64) (models.Incident, error) {
	row := r.db.QueryRow(`
		SELECT id, target_name, severity, status, title, description, started_at, resolved_at, notification_sent, retry_count
		FROM incidents WHERE id = ?
	`, id)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Incident{}, ErrIncidentNotFound
	}
	return inc, err
}

// List returns incidents newest first, restricted to the given lifecycle
// states when any are passed. A non-positive limit returns every match; the
// index rebuild depends on that.
func (r *IncidentRepo) List(limit int, statuses ...string) ([]models.Incident, error) {
	query := `
		SELECT id, target_name, severity, status, title, description, started_at, resolved_at, notification_sent, retry_count
		FROM incidents`
	args := make([]any, 0, len(statuses)+1)

	if len(statuses) > 0 {
		query += " WHERE status IN (?" + strings.Repeat(",?", len(statuses)-1) + ")"
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query += " ORDER BY started_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var incidents []models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

func scanIncident(row rowScanner) (models.Incident, error) {
	var (
		inc     models.Incident
		sentInt int
	)
	err := row.Scan(&inc.ID, &inc.TargetName, &inc.Severity, &inc.Status, &inc.Title, &inc.Description,
		&inc.StartedAt, &inc.ResolvedAt, &sentInt, &inc.RetryCount)
	if err != nil {
		return models.Incident{}, err
	}
	inc.NotificationSent = sentInt == 1
	return inc, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
