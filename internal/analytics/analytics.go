// Package analytics reads the daily fee summary database written by the
// node's accounting job. The database is opened read-only.
package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/benbjohnson/clock"
	_ "github.com/mattn/go-sqlite3"

	"nodestatus/internal/model"
)

// ErrUnavailable is returned when the database file is missing or unreadable.
var ErrUnavailable = errors.New("analytics store unavailable")

const DefaultMonths = 6

type Store struct {
	db    *sql.DB
	clock clock.Clock
}

type Option func(*Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Open connects to the SQLite file at path without creating it.
func Open(path string, opts ...Option) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	dsn, err := readOnlyDSN(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	s := &Store{db: db, clock: clock.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// readOnlyDSN builds a read-only SQLite URI for path. Each path segment is
// escaped so a '?' or '#' in a directory name stays part of the path.
func readOnlyDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	segments := strings.Split(filepath.ToSlash(abs), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	u := url.URL{Scheme: "file", Opaque: strings.Join(segments, "/"), RawQuery: "mode=ro"}
	return u.String(), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LatestDaily returns the row with the greatest date, or nil when the table
// is empty.
func (s *Store) LatestDaily(ctx context.Context) (*model.DailyFees, error) {
	var d model.DailyFees
	err := s.db.QueryRowContext(ctx, `
		SELECT date, forward_fees_sat, rebalance_fees_sat, net_profit_sat
		FROM daily_fees
		ORDER BY date DESC
		LIMIT 1`).
		Scan(&d.Date, &d.ForwardFeesSat, &d.RebalanceFeesSat, &d.NetProfitSat)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest daily: %w", err)
	}
	return &d, nil
}

// MonthlySummary sums rows per YYYY-MM, newest month first, keeping at most
// months entries.
func (s *Store) MonthlySummary(ctx context.Context, months int) ([]model.MonthlyFees, error) {
	if months < 1 {
		months = DefaultMonths
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT substr(date, 1, 7) AS month,
		       COALESCE(SUM(forward_fees_sat), 0),
		       COALESCE(SUM(rebalance_fees_sat), 0),
		       COALESCE(SUM(net_profit_sat), 0)
		FROM daily_fees
		GROUP BY month
		ORDER BY month DESC
		LIMIT ?`, months)
	if err != nil {
		return nil, fmt.Errorf("monthly summary: %w", err)
	}
	defer rows.Close()

	out := []model.MonthlyFees{}
	for rows.Next() {
		var m model.MonthlyFees
		if err := rows.Scan(&m.Month, &m.ForwardFeesSat, &m.RebalanceFeesSat, &m.NetProfitSat); err != nil {
			return nil, fmt.Errorf("monthly summary: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// YearToDate sums every row dated in year. A year without rows is all zeros.
func (s *Store) YearToDate(ctx context.Context, year int) (model.FeeTotals, error) {
	var t model.FeeTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(forward_fees_sat), 0),
		       COALESCE(SUM(rebalance_fees_sat), 0),
		       COALESCE(SUM(net_profit_sat), 0)
		FROM daily_fees
		WHERE date LIKE ?`, strconv.Itoa(year)+"-%").
		Scan(&t.ForwardFeesSat, &t.RebalanceFeesSat, &t.NetProfitSat)
	if err != nil {
		return model.FeeTotals{}, fmt.Errorf("year to date: %w", err)
	}
	return t, nil
}

// Summary runs the three queries for the current UTC year.
func (s *Store) Summary(ctx context.Context, months int) (model.ProfitSummary, error) {
	latest, err := s.LatestDaily(ctx)
	if err != nil {
		return model.ProfitSummary{}, err
	}
	monthly, err := s.MonthlySummary(ctx, months)
	if err != nil {
		return model.ProfitSummary{}, err
	}
	year := s.clock.Now().UTC().Year()
	ytd, err := s.YearToDate(ctx, year)
	if err != nil {
		return model.ProfitSummary{}, err
	}
	return model.ProfitSummary{
		Latest:     latest,
		Months:     monthly,
		Year:       year,
		YearToDate: ytd,
	}, nil
}

// Source opens the database for every call, so a file created after the
// server started is picked up without a restart.
type Source struct {
	path   string
	months int
	opts   []Option
}

func NewSource(path string, months int, opts ...Option) *Source {
	return &Source{path: path, months: months, opts: opts}
}

func (s *Source) Summary(ctx context.Context) (model.ProfitSummary, error) {
	store, err := Open(s.path, s.opts...)
	if err != nil {
		return model.ProfitSummary{}, err
	}
	defer store.Close()
	return store.Summary(ctx, s.months)
}
