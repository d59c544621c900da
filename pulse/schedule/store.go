package schedule

import (
	"context"
	"database/sql"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/dispatchd/db"
	"github.com/teranos/dispatchd/errors"
	"github.com/teranos/dispatchd/logger"
)

const (
	tableSchedule    = "schedule"
	tableJob         = "job"
	tableRunTemplate = "runtemplate"

	// optional column some deployments carry
	typeColumn = "type"
)

// typeWarned makes the missing-type-column warning fire once per process.
var typeWarned atomic.Bool

// Store persists schedule entries on one connection owned by the caller.
type Store struct {
	conn   *db.Conn
	logger *zap.SugaredLogger

	suppressTypeWarning bool
}

// Option configures a Store.
type Option func(*Store)

// WithSuppressedTypeWarning silences the missing-type-column warning.
func WithSuppressedTypeWarning(suppress bool) Option {
	return func(s *Store) { s.suppressTypeWarning = suppress }
}

// NewStore creates a schedule store on conn.
func NewStore(conn *db.Conn, log *zap.SugaredLogger, opts ...Option) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Store{conn: conn, logger: logger.AddDBSymbol(log)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the store's connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) q(ident string) string {
	return s.conn.Dialect().Quote(ident)
}

// Add schedules jobRef to run once after has passed and returns the entry id.
// The owning run template's last_schedule is updated first; the two writes
// are not transactional and a failed insert leaves that update in place.
func (s *Store) Add(ctx context.Context, jobRef int64, after time.Time) (int64, error) {
	var runTemplateID sql.NullInt64
	err := s.conn.QueryRowContext(ctx,
		"SELECT "+s.q("runtemplate_id")+" FROM "+s.q(tableJob)+" WHERE "+s.q("id")+" = ?",
		jobRef).Scan(&runTemplateID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.NewJobNotFoundError(jobRef)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to look up job %d", jobRef)
	}

	when := s.conn.Dialect().Timestamp(after)

	if runTemplateID.Valid {
		if _, err := s.conn.ExecContext(ctx,
			"UPDATE "+s.q(tableRunTemplate)+" SET "+s.q("last_schedule")+" = ? WHERE "+s.q("id")+" = ?",
			when, runTemplateID.Int64); err != nil {
			return 0, errors.Wrapf(err, "failed to update last_schedule of runtemplate %d", runTemplateID.Int64)
		}
	}

	id, err := s.conn.Insert(ctx, tableSchedule, []string{"after", "job"}, when, jobRef)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to schedule job %d", jobRef)
	}

	s.logger.Debugw("Job scheduled",
		logger.FieldEntryID, id,
		logger.FieldJobID, jobRef,
		logger.FieldAfter, after.UTC().Format(time.RFC3339))

	return id, nil
}

// Due returns every entry whose after timestamp has passed by the engine's
// own clock, oldest first. Entries not yet removed are returned again on
// the next call.
func (s *Store) Due(ctx context.Context) ([]Entry, error) {
	if err := s.CheckSchema(ctx); err != nil {
		return nil, err
	}

	d := s.conn.Dialect()
	query := "SELECT " + s.q("id") + ", " + s.q("job") + ", " + s.q("after") +
		" FROM " + s.q(tableSchedule) +
		" WHERE " + d.DuePredicate(s.q("after")) +
		" ORDER BY " + s.q("after") + " ASC, " + s.q("id") + " ASC"

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query due entries")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var after interface{}
		if err := rows.Scan(&e.ID, &e.JobRef, &after); err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule entry")
		}
		e.After, err = parseAfter(after)
		if err != nil {
			return nil, errors.Wrapf(err, "schedule entry %d", e.ID)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate due entries")
	}

	return entries, nil
}

// Remove deletes an entry. Removing an entry that is already gone is not an error.
func (s *Store) Remove(ctx context.Context, id int64) error {
	_, err := s.conn.ExecContext(ctx,
		"DELETE FROM "+s.q(tableSchedule)+" WHERE "+s.q("id")+" = ?", id)
	if err != nil {
		return errors.Wrapf(err, "failed to remove schedule entry %d", id)
	}
	return nil
}

// Get returns one entry by id, or an error wrapping errors.ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (Entry, error) {
	var e Entry
	var after interface{}
	err := s.conn.QueryRowContext(ctx,
		"SELECT "+s.q("id")+", "+s.q("job")+", "+s.q("after")+" FROM "+s.q(tableSchedule)+" WHERE "+s.q("id")+" = ?",
		id).Scan(&e.ID, &e.JobRef, &after)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, errors.Wrapf(errors.ErrNotFound, "schedule entry %d", id)
	}
	if err != nil {
		return Entry{}, errors.Wrapf(err, "failed to get schedule entry %d", id)
	}
	e.After, err = parseAfter(after)
	return e, err
}

// CheckSchema inspects the schedule table's columns. A missing optional
// type column is logged once per process. Introspection failures are
// logged and swallowed unless they are permanent, e.g. authentication.
func (s *Store) CheckSchema(ctx context.Context) error {
	columns, err := s.columns(ctx, tableSchedule)
	if err != nil {
		if db.IsPermanent(err) {
			return errors.Wrap(err, "schema verification")
		}
		s.logger.Warnw("Schema verification failed", logger.FieldError, err)
		return nil
	}

	for _, c := range columns {
		if strings.EqualFold(c, typeColumn) {
			return nil
		}
	}

	if !s.suppressTypeWarning && typeWarned.CompareAndSwap(false, true) {
		s.logger.Warnw(`Schedule table has no "type" column; code will avoid its usage.`)
	}
	return nil
}

func (s *Store) columns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, s.conn.Dialect().ColumnsQuery(), table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

var afterLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

// parseAfter normalises the driver's representation of the after column.
// Textual values carry no zone and are read as UTC.
func parseAfter(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case []byte:
		return parseAfterString(string(t))
	case string:
		return parseAfterString(t)
	case nil:
		return time.Time{}, errors.New("after is NULL")
	default:
		return time.Time{}, errors.Newf("unsupported after type %T", v)
	}
}

func parseAfterString(s string) (time.Time, error) {
	for _, layout := range afterLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Newf("cannot parse after %q", s)
}
