package store

import (
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Event represents one motion event: the span between motion starting and
// motion ending on a source.
type Event struct {
	ID                string
	Source            string
	StartedAt         time.Time
	EndedAt           *time.Time
	Frames            int
	PeakChangedPixels int
	CreatedAt         time.Time
}

// Active reports whether the event is still open.
func (e *Event) Active() bool {
	return e.EndedAt == nil
}

// EventRepository provides CRUD operations for motion events.
type EventRepository struct {
	db *sql.DB
}

// Events returns the event repository for this store.
func (s *Store) Events() *EventRepository {
	return &EventRepository{db: s.db}
}

// Create inserts a new open event into the database.
func (r *EventRepository) Create(e *Event) error {
	e.CreatedAt = time.Now()

	_, err := r.db.Exec(
		`INSERT INTO events (id, source, started_at, frames, peak_changed_pixels, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Source, e.StartedAt, e.Frames, e.PeakChangedPixels, e.CreatedAt,
	)
	if err != nil {
		return err
	}

	return nil
}

// Finish closes an open event with its end time and final counters.
// Returns ErrNotFound if the event does not exist.
func (r *EventRepository) Finish(id string, endedAt time.Time, frames, peakChangedPixels int) error {
	res, err := r.db.Exec(
		`UPDATE events SET ended_at = ?, frames = ?, peak_changed_pixels = ?
		 WHERE id = ?`,
		endedAt, frames, peakChangedPixels, id,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetByID retrieves an event by its ID.
func (r *EventRepository) GetByID(id string) (*Event, error) {
	e := &Event{}
	var endedAt sql.NullTime

	err := r.db.QueryRow(
		`SELECT id, source, started_at, ended_at, frames, peak_changed_pixels, created_at
		 FROM events WHERE id = ?`,
		id,
	).Scan(&e.ID, &e.Source, &e.StartedAt, &endedAt, &e.Frames, &e.PeakChangedPixels, &e.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if endedAt.Valid {
		e.EndedAt = &endedAt.Time
	}
	return e, nil
}

// List retrieves the most recent events, newest first. A limit of 0 returns
// every event.
func (r *EventRepository) List(limit int) ([]*Event, error) {
	query := `SELECT id, source, started_at, ended_at, frames, peak_changed_pixels, created_at
		 FROM events ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var endedAt sql.NullTime

		if err := rows.Scan(&e.ID, &e.Source, &e.StartedAt, &endedAt, &e.Frames, &e.PeakChangedPixels, &e.CreatedAt); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			e.EndedAt = &endedAt.Time
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// Delete removes an event by its ID.
// Returns ErrNotFound if the event does not exist.
func (r *EventRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}
