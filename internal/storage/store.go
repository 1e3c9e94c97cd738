// Package storage persists completed simulation runs to SQLite. One store
// holds three kinds of rows: compact run summaries for listing and
// comparison, the per-loan book, and the monthly cashflow ledger. When
// snapshot persistence is enabled the full result artifacts are additionally
// written as a msgpack blob so a run can be reloaded without re-simulating.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/engine"
	"github.com/aristath/fundsim/internal/pipeline"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Profile selects the durability PRAGMAs for a store.
type Profile string

const (
	// ProfileResults is the default: WAL with checkpoint-time fsync.
	ProfileResults Profile = "results"
	// ProfileArchive fsyncs every write. Use for long-lived result
	// archives where a crash must not lose the last run.
	ProfileArchive Profile = "archive"
)

// Config describes where and how to open a store.
type Config struct {
	// Path is the database file. "file:" URIs pass through untouched so
	// tests can use in-memory databases.
	Path    string
	Profile Profile
}

// Store wraps the SQLite handle.
type Store struct {
	conn *sql.DB
	path string
	log  zerolog.Logger
}

// Open creates or opens the results database and ensures the schema exists.
func Open(cfg Config, logger zerolog.Logger) (*Store, error) {
	if cfg.Profile == "" {
		cfg.Profile = ProfileResults
	}

	path := cfg.Path
	if !strings.HasPrefix(path, "file:") {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path %s: %w", path, err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		path = abs
	}

	conn, err := sql.Open("sqlite", connectionString(path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("failed to open results database: %w", err)
	}
	// The driver is in-process; a single writer avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping results database: %w", err)
	}

	s := &Store{
		conn: conn,
		path: path,
		log:  logger.With().Str("component", "storage").Logger(),
	}
	if err := s.ensureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// connectionString builds the DSN with profile-specific PRAGMAs. A path
// that already carries a query string ("file:x?mode=memory") is joined
// with "&" so the PRAGMAs extend it instead of forming a second query.
func connectionString(path string, profile Profile) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	connStr := path + sep + "_pragma=journal_mode(WAL)"
	switch profile {
	case ProfileArchive:
		connStr += "&_pragma=synchronous(FULL)"
	default:
		connStr += "&_pragma=synchronous(NORMAL)"
		connStr += "&_pragma=temp_store(MEMORY)"
	}
	connStr += "&_pragma=foreign_keys(1)"
	connStr += "&_pragma=cache_size(-64000)"
	return connStr
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id          TEXT NOT NULL,
	path_id         INTEGER NOT NULL,
	status          TEXT NOT NULL,
	irr             REAL,
	tvpi            REAL NOT NULL,
	equity_multiple REAL NOT NULL,
	num_loans       INTEGER NOT NULL,
	guardrail_worst TEXT NOT NULL,
	num_breaches    INTEGER NOT NULL,
	created_at      TEXT NOT NULL,
	PRIMARY KEY (run_id, path_id)
);

CREATE TABLE IF NOT EXISTS loans (
	run_id            TEXT NOT NULL,
	path_id           INTEGER NOT NULL,
	loan_id           TEXT NOT NULL,
	zone              TEXT NOT NULL,
	suburb_id         TEXT NOT NULL,
	origination_month INTEGER NOT NULL,
	principal         REAL NOT NULL,
	ltv               REAL NOT NULL,
	reinvestment      INTEGER NOT NULL,
	exit_month        INTEGER NOT NULL,
	exit_kind         TEXT NOT NULL,
	exit_value        REAL NOT NULL,
	PRIMARY KEY (run_id, path_id, loan_id)
);

CREATE TABLE IF NOT EXISTS cashflow_rows (
	run_id       TEXT NOT NULL,
	path_id      INTEGER NOT NULL,
	month        INTEGER NOT NULL,
	capital_call REAL NOT NULL,
	distribution REAL NOT NULL,
	net          REAL NOT NULL,
	cumulative   REAL NOT NULL,
	PRIMARY KEY (run_id, path_id, month)
);

CREATE TABLE IF NOT EXISTS snapshots (
	run_id  TEXT NOT NULL,
	path_id INTEGER NOT NULL,
	payload BLOB NOT NULL,
	PRIMARY KEY (run_id, path_id)
);
`

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Snapshot is the msgpack-persisted form of a completed path. It carries
// the result artifacts only, not the shared config or catalogue.
type Snapshot struct {
	RunID       string                    `msgpack:"run_id"`
	PathID      int                       `msgpack:"path_id"`
	Seed        uint64                    `msgpack:"seed"`
	Loans       []domain.Loan             `msgpack:"loans"`
	Exits       []domain.ExitEvent        `msgpack:"exits"`
	Cashflows   *domain.CashflowLedger    `msgpack:"cashflows"`
	Waterfall   *domain.WaterfallResult   `msgpack:"waterfall"`
	RiskMetrics *domain.RiskMetrics       `msgpack:"risk_metrics"`
	Guardrails  *domain.GuardrailReport   `msgpack:"guardrails"`
	Report      *domain.PerformanceReport `msgpack:"report"`
}

// SaveResult persists one completed path: summary row, loan book and
// ledger, plus the msgpack snapshot when the feature is enabled. Failed or
// cancelled runs store only the summary row.
func (s *Store) SaveResult(ctx context.Context, res *engine.Result) error {
	sim := res.Context
	sum := pipeline.Summarize(res)

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var irr any
	if sum.IRR != nil {
		irr = *sum.IRR
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
		(run_id, path_id, status, irr, tvpi, equity_multiple, num_loans, guardrail_worst, num_breaches, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.RunID, sum.PathID, string(sum.Status), irr, sum.TVPI, sum.EquityMultiple,
		sum.NumLoans, sum.GuardrailWorst, sum.NumBreaches, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert run summary: %w", err)
	}

	if res.Succeeded() {
		if err := insertLoans(ctx, tx, sim); err != nil {
			return err
		}
		if err := insertLedger(ctx, tx, sim); err != nil {
			return err
		}
		if sim.Config.Features.PersistSnapshots {
			if err := insertSnapshot(ctx, tx, sim); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", sum.RunID, err)
	}
	s.log.Debug().Str("run_id", sum.RunID).Int("path_id", sum.PathID).
		Str("status", string(sum.Status)).Msg("run persisted")
	return nil
}

func insertLoans(ctx context.Context, tx *sql.Tx, sim *engine.SimulationContext) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO loans
		(run_id, path_id, loan_id, zone, suburb_id, origination_month, principal, ltv, reinvestment, exit_month, exit_kind, exit_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare loan insert: %w", err)
	}
	defer stmt.Close()

	for _, ln := range sim.Loans {
		reinv := 0
		if ln.Reinvestment {
			reinv = 1
		}
		_, err := stmt.ExecContext(ctx, sim.RunID, sim.PathID, ln.ID, string(ln.Zone),
			ln.SuburbID, ln.OriginationMonth, ln.Principal, ln.LTV, reinv,
			ln.ExitMonth, string(ln.ExitKind), ln.ExitValue)
		if err != nil {
			return fmt.Errorf("failed to insert loan %s: %w", ln.ID, err)
		}
	}
	return nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, sim *engine.SimulationContext) error {
	if sim.Cashflows == nil {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO cashflow_rows
		(run_id, path_id, month, capital_call, distribution, net, cumulative)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare ledger insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range sim.Cashflows.Rows {
		_, err := stmt.ExecContext(ctx, sim.RunID, sim.PathID, row.Month,
			row.CapitalCall, row.Distribution, row.Net, row.Cumulative)
		if err != nil {
			return fmt.Errorf("failed to insert ledger month %d: %w", row.Month, err)
		}
	}
	return nil
}

func insertSnapshot(ctx context.Context, tx *sql.Tx, sim *engine.SimulationContext) error {
	snap := Snapshot{
		RunID:       sim.RunID,
		PathID:      sim.PathID,
		Seed:        sim.Seed,
		Loans:       sim.Loans,
		Exits:       sim.Exits,
		Cashflows:   sim.Cashflows,
		Waterfall:   sim.Waterfall,
		RiskMetrics: sim.RiskMetrics,
		Guardrails:  sim.GuardrailReport,
		Report:      sim.Report,
	}
	payload, err := msgpack.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots (run_id, path_id, payload) VALUES (?, ?, ?)`,
		sim.RunID, sim.PathID, payload)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// RunRow is one listing entry from the runs table.
type RunRow struct {
	RunID          string
	PathID         int
	Status         string
	IRR            *float64
	TVPI           float64
	EquityMultiple float64
	NumLoans       int
	GuardrailWorst string
	NumBreaches    int
	CreatedAt      string
}

// ListRuns returns the most recent run summaries, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT run_id, path_id, status, irr, tvpi, equity_multiple, num_loans, guardrail_worst, num_breaches, created_at
		FROM runs ORDER BY created_at DESC, run_id, path_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		var irr sql.NullFloat64
		if err := rows.Scan(&r.RunID, &r.PathID, &r.Status, &irr, &r.TVPI,
			&r.EquityMultiple, &r.NumLoans, &r.GuardrailWorst, &r.NumBreaches, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		if irr.Valid {
			v := irr.Float64
			r.IRR = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadSnapshot reloads the persisted artifacts of one path. Returns
// sql.ErrNoRows when no snapshot was stored.
func (s *Store) LoadSnapshot(ctx context.Context, runID string, pathID int) (*Snapshot, error) {
	var payload []byte
	err := s.conn.QueryRowContext(ctx, `
		SELECT payload FROM snapshots WHERE run_id = ? AND path_id = ?`,
		runID, pathID).Scan(&payload)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := msgpack.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s/%d: %w", runID, pathID, err)
	}
	return &snap, nil
}

// LoanCount returns the number of persisted loans for a path.
func (s *Store) LoanCount(ctx context.Context, runID string, pathID int) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM loans WHERE run_id = ? AND path_id = ?`,
		runID, pathID).Scan(&n)
	return n, err
}
