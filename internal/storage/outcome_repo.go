package storage

import (
	"database/sql"
	"time"

	"github.com/pytheus/watchdog/internal/models"
)

type OutcomeRepo struct {
	db *sql.DB
}

func NewOutcomeRepo(db *sql.DB) *OutcomeRepo { return &OutcomeRepo{db: db} }

func (r *OutcomeRepo) Record(o models.CheckOutcome) (int64, error) {
	checkedAt := o.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = time.Now().UTC()
	}

	res, err := r.db.Exec(`
		INSERT INTO check_outcomes(target_name, status, response_time_ms, status_code, error_message, ai_summary, checked_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, o.TargetName, o.Status, o.ResponseTimeMS, o.StatusCode, nullIfEmpty(o.ErrorMessage), nullIfEmpty(o.AISummary), checkedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FindLatest returns the newest outcome for a target, or sql.ErrNoRows.
func (r *OutcomeRepo) FindLatest(targetName string) (models.CheckOutcome, error) {
	row := r.db.QueryRow(`
		SELECT id, target_name, status, response_time_ms, status_code, error_message, ai_summary, checked_at
		FROM check_outcomes
		WHERE target_name = ?
		ORDER BY checked_at DESC, id DESC
		LIMIT 1
	`, targetName)
	return scanOutcome(row)
}

// Count counts outcomes for a target since a point in time. An empty status
// filter counts all outcomes.
func (r *OutcomeRepo) Count(targetName string, since time.Time, statusFilter string) (int, error) {
	var (
		count int
		err   error
	)
	if statusFilter == "" {
		err = r.db.QueryRow(`
			SELECT COUNT(id) FROM check_outcomes
			WHERE target_name = ? AND checked_at >= ?
		`, targetName, since).Scan(&count)
	} else {
		err = r.db.QueryRow(`
			SELECT COUNT(id) FROM check_outcomes
			WHERE target_name = ? AND checked_at >= ? AND status = ?
		`, targetName, since, statusFilter).Scan(&count)
	}
	return count, err
}

// ListSince returns outcomes for a target newer than since, newest first.
func (r *OutcomeRepo) ListSince(targetName string, since time.Time, limit int) ([]models.CheckOutcome, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := r.db.Query(`
		SELECT id, target_name, status, response_time_ms, status_code, error_message, ai_summary, checked_at
		FROM check_outcomes
		WHERE target_name = ? AND checked_at >= ?
		ORDER BY checked_at DESC, id DESC
		LIMIT ?
	`, targetName, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []models.CheckOutcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutcome(row rowScanner) (models.CheckOutcome, error) {
	var (
		o        models.CheckOutcome
		errMsg   sql.NullString
		aiSummry sql.NullString
	)
	err := row.Scan(&o.ID, &o.TargetName, &o.Status, &o.ResponseTimeMS, &o.StatusCode, &errMsg, &aiSummry, &o.CheckedAt)
	if err != nil {
		return models.CheckOutcome{}, err
	}
	o.ErrorMessage = errMsg.String
	o.AISummary = aiSummry.String
	return o, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
