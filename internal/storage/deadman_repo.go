package storage

import (
	"database/sql"
	"errors"
	"time"

	"github.com/pytheus/watchdog/internal/models"
)

var ErrSwitchNotFound = errors.New("deadman switch not found")

type DeadmanRepo struct {
	db *sql.DB
}

func NewDeadmanRepo(db *sql.DB) *DeadmanRepo { return &DeadmanRepo{db: db} }

// Upsert inserts the switch if no switch with its name exists, otherwise
// updates the mutable fields. The generated token of an existing switch is
// never replaced.
func (r *DeadmanRepo) Upsert(sw models.DeadManSwitch) (models.DeadManSwitch, error) {
	existing, err := r.FindByName(sw.Name)
	if err != nil && !errors.Is(err, ErrSwitchNotFound) {
		return models.DeadManSwitch{}, err
	}

	if errors.Is(err, ErrSwitchNotFound) {
		createdAt := sw.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		res, err := r.db.Exec(`
			INSERT INTO deadman_switches(name, token, expected_interval, severity, last_ping, enabled, created_at)
			VALUES(?, ?, ?, ?, ?, ?, ?)
		`, sw.Name, sw.Token, sw.ExpectedInterval, sw.Severity, sw.LastPing, boolToInt(sw.Enabled), createdAt)
		if err != nil {
			return models.DeadManSwitch{}, err
		}
		sw.ID, _ = res.LastInsertId()
		sw.CreatedAt = createdAt
		return sw, nil
	}

	_, err = r.db.Exec(`
		UPDATE deadman_switches
		SET expected_interval = ?, severity = ?, last_ping = ?, enabled = ?
		WHERE name = ?
	`, sw.ExpectedInterval, sw.Severity, sw.LastPing, boolToInt(sw.Enabled), sw.Name)
	if err != nil {
		return models.DeadManSwitch{}, err
	}

	existing.ExpectedInterval = sw.ExpectedInterval
	existing.Severity = sw.Severity
	existing.LastPing = sw.LastPing
	existing.Enabled = sw.Enabled
	return existing, nil
}

func (r *DeadmanRepo) FindByName(name string) (models.DeadManSwitch, error) {
	row := r.db.QueryRow(`
		SELECT id, name, token, expected_interval, severity, last_ping, enabled, created_at
		FROM deadman_switches WHERE name = ?
	`, name)
	return scanSwitch(row)
}

func (r *DeadmanRepo) FindByToken(token string) (models.DeadManSwitch, error) {
	row := r.db.QueryRow(`
		SELECT id, name, token, expected_interval, severity, last_ping, enabled, created_at
		FROM deadman_switches WHERE token = ?
	`, token)
	return scanSwitch(row)
}

func (r *DeadmanRepo) ListEnabled() ([]models.DeadManSwitch, error) {
	return r.list("WHERE enabled = 1")
}

func (r *DeadmanRepo) ListAll() ([]models.DeadManSwitch, error) {
	return r.list("")
}

func (r *DeadmanRepo) list(where string) ([]models.DeadManSwitch, error) {
	rows, err := r.db.Query(`
		SELECT id, name, token, expected_interval, severity, last_ping, enabled, created_at
		FROM deadman_switches ` + where + ` ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var switches []models.DeadManSwitch
	for rows.Next() {
		sw, err := scanSwitch(rows)
		if err != nil {
			return nil, err
		}
		switches = append(switches, sw)
	}
	return switches, rows.Err()
}

// RecordPing stores one received heartbeat and advances the switch's
// last-ping time in the same transaction.
func (r *DeadmanRepo) RecordPing(sw models.DeadManSwitch, pingedAt time.Time, payload string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`UPDATE deadman_switches SET last_ping = ? WHERE id = ?`, pingedAt, sw.ID)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO deadman_pings(switch_id, switch_name, pinged_at, payload)
		VALUES(?, ?, ?, ?)
	`, sw.ID, sw.Name, pingedAt, nullIfEmpty(payload))
	if err != nil {
		return err
	}

	return tx.Commit()
}

func scanSwitch(row rowScanner) (models.DeadManSwitch, error) {
	var (
		sw         models.DeadManSwitch
		enabledInt int
	)
	err := row.Scan(&sw.ID, &sw.Name, &sw.Token, &sw.ExpectedInterval, &sw.Severity, &sw.LastPing, &enabledInt, &sw.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DeadManSwitch{}, ErrSwitchNotFound
	}
	if err != nil {
		return models.DeadManSwitch{}, err
	}
	sw.Enabled = enabledInt == 1
	return sw, nil
}
