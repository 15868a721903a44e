// Package rowsource pages rows out of the users table through a
// forward-only, server-side cursor so that an export pipeline never has to
// materialize the full result set in memory.
package rowsource

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/TUI/internal/core"
)

// DefaultBatchSize is the number of rows fetched per round trip when a job
// does not specify one.
const DefaultBatchSize = 1000

// Record is one row, keyed by the requested column name. Values are
// rendered as their canonical textual representation before the encoder
// ever sees them, so rowsource is the single place NULL-handling and
// numeric/timestamp formatting happen.
type Record map[string]string

// Source pages rows from the users table for one export job. A Source is
// not safe for concurrent use; each job owns exactly one.
type Source struct {
	pool    *pgxpool.Pool
	columns []string
	filters core.Filters
	batch   int
	cursor  string

	tx     pgx.Tx
	opened bool
}

// New returns a Source bound to the given pool, filters, columns, and
// batch size. The cursor name is derived from jobID so it is unique per
// job even if two jobs run concurrently against the same pool.
func New(pool *pgxpool.Pool, jobID string, filters core.Filters, columns []string, batchSize int) *Source {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Source{
		pool:    pool,
		columns: columns,
		filters: filters,
		batch:   batchSize,
		cursor:  "export_" + strings.ReplaceAll(jobID, "-", "_"),
	}
}

func (s *Source) whereClause() (string, []any) {
	var clauses []string
	var args []any
	i := 1

	if s.filters.CountryCode != "" {
		clauses = append(clauses, fmt.Sprintf("country_code = $%d", i))
		args = append(args, s.filters.CountryCode)
		i++
	}
	if s.filters.SubscriptionTier != "" {
		clauses = append(clauses, fmt.Sprintf("subscription_tier = $%d", i))
		args = append(args, s.filters.SubscriptionTier)
		i++
	}
	if s.filters.MinLTV != nil {
		clauses = append(clauses, fmt.Sprintf("lifetime_value >= $%d", i))
		args = append(args, *s.filters.MinLTV)
		i++
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// Count runs a COUNT(*) matching the job's filters, outside of any cursor,
// so the pipeline can publish totalRows before opening the row stream.
func (s *Source) Count(ctx context.Context) (int64, error) {
	where, args := s.whereClause()
	query := "SELECT COUNT(*) FROM users" + where

	var total int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("%w: count users: %v", core.ErrTransient, err)
	}
	return total, nil
}

// Open acquires a connection, begins a transaction (a server-side cursor
// in Postgres must live inside one), and declares the cursor. Must be
// called before Next and paired with Close on every exit path.
func (s *Source) Open(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", core.ErrTransient, err)
	}
	s.tx = tx

	where, args := s.whereClause()
	quotedCols := make([]string, len(s.columns))
	for i, c := range s.columns {
		quotedCols[i] = `"` + c + `"`
	}

	declare := fmt.Sprintf(
		"DECLARE %s CURSOR FOR SELECT %s FROM users%s",
		s.cursor, strings.Join(quotedCols, ", "), where,
	)
	if _, err := tx.Exec(ctx, declare, args...); err != nil {
		tx.Rollback(ctx)
		return fmt.Errorf("%w: declare cursor: %v", core.ErrTransient, err)
	}

	s.opened = true
	return nil
}

// Next fetches up to the configured batch size of rows. It returns an
// empty, non-error result when the cursor is exhausted; callers should
// treat len(batch) == 0 as the terminal condition.
func (s *Source) Next(ctx context.Context) ([]Record, error) {
	if !s.opened {
		return nil, fmt.Errorf("%w: rowsource.Next called before Open", core.ErrProgrammer)
	}

	fetch := fmt.Sprintf("FETCH FORWARD %d FROM %s", s.batch, s.cursor)
	rows, err := s.tx.Query(ctx, fetch)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch batch: %v", core.ErrTransient, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("%w: read row values: %v", core.ErrTransient, err)
		}
		rec := make(Record, len(s.columns))
		for i, col := range s.columns {
			rec[col] = formatValue(values[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate batch: %v", core.ErrTransient, err)
	}

	return out, nil
}

// Close releases the cursor and the transaction's connection. Safe to
// call multiple times and safe to call even if Open failed partway.
func (s *Source) Close(ctx context.Context) error {
	if !s.opened || s.tx == nil {
		return nil
	}
	s.opened = false

	_, closeErr := s.tx.Exec(ctx, fmt.Sprintf("CLOSE %s", s.cursor))
	rbErr := s.tx.Rollback(ctx)

	if closeErr != nil {
		return fmt.Errorf("%w: close cursor: %v", core.ErrTransient, closeErr)
	}
	if rbErr != nil && rbErr != pgx.ErrTxClosed {
		return fmt.Errorf("%w: release transaction: %v", core.ErrTransient, rbErr)
	}
	return nil
}

// formatValue renders a scanned column value as its canonical textual
// representation: no locale-specific number formatting, ISO-8601 UTC for
// timestamps, empty string for NULL.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		if t.Nanosecond() == 0 {
			return t.UTC().Format("2006-01-02T15:04:05Z")
		}
		return t.UTC().Format("2006-01-02T15:04:05.999999999Z")
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
