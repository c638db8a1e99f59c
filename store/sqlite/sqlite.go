/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements effort.TxStore (reference data, project registry, effort
  ledger, liquidations, run log) using SQLite. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  dedications, affiliation_assignments, affiliation_hours, leaves,
  holidays, timesheet_entries:   master data the calculator reads
  projects, work_packages,
  project_members, assignments:  the project registry
  ceilings, effort_shares,
  project_locks, person_rates:   the effort ledger
  liquidations,
  daily_allocations:             travel declarations and their expansion
  runs:                          batch execution log

VALUE ENCODING:
  Days are stored as YYYY-MM-DD text, months as YYYY-MM text, and all
  decimal values as their exact string form. Lexicographic order on the
  encoded columns matches calendar order, so range queries are plain
  string comparisons.

UNIQUENESS:
  - effort_shares:  UNIQUE(assignment_id, month) backs the SaveShare
    upsert
  - work_packages:  UNIQUE(project_id, name) guards the TRAVELS
    get-or-create against concurrent allocation runs

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  readers don't block, a single writer at a time, better crash recovery.
  WithTx additionally serializes writers through a mutex.

USAGE:
  store, err := sqlite.New("./data/effort.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - effort/store.go: interface definitions
  - effort/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/meridian/effort-engine/effort"
)

// dbtx abstracts *sql.DB and *sql.Tx so every query is written once and
// runs either directly or inside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements effort.Store against a dbtx.
type queries struct {
	db dbtx
}

// Store implements effort.TxStore using SQLite.
type Store struct {
	queries
	sqlDB *sql.DB
	txMu  sync.Mutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{queries: queries{db: db}, sqlDB: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// WithTx executes fn within a database transaction. The effort.Store
// handed to fn runs every statement inside the transaction; an error
// rolls everything back.
func (s *Store) WithTx(ctx context.Context, fn func(effort.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{db: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Persons the batch jobs iterate over
	CREATE TABLE IF NOT EXISTS persons (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT ''
	);

	-- Dedication segments; deactivation is logical (exists_flag = 0)
	CREATE TABLE IF NOT EXISTS dedications (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		reduction TEXT NOT NULL,
		dedication_type INTEGER NOT NULL DEFAULT 0,
		annual_cost TEXT NOT NULL DEFAULT '0',
		exists_flag BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_dedications_person
		ON dedications(person_id);

	CREATE TABLE IF NOT EXISTS affiliation_assignments (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		line_id TEXT NOT NULL DEFAULT '',
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		affiliation_id TEXT NOT NULL,
		responsible_id TEXT NOT NULL DEFAULT '',
		exists_flag BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_affiliation_assignments_person
		ON affiliation_assignments(person_id);

	CREATE TABLE IF NOT EXISTS affiliation_hours (
		affiliation_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		hours_per_day TEXT NOT NULL,
		UNIQUE(affiliation_id, start_date)
	);

	-- One row per absent person-day and leave type
	CREATE TABLE IF NOT EXISTS leaves (
		person_id TEXT NOT NULL,
		day TEXT NOT NULL,
		leave_type INTEGER NOT NULL,
		reduction TEXT NOT NULL DEFAULT '0',
		hours TEXT NOT NULL DEFAULT '0',
		legacy BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE(person_id, day, leave_type)
	);

	CREATE INDEX IF NOT EXISTS idx_leaves_person_day
		ON leaves(person_id, day);

	CREATE TABLE IF NOT EXISTS holidays (
		date TEXT PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS timesheet_entries (
		person_id TEXT NOT NULL,
		day TEXT NOT NULL,
		hours TEXT NOT NULL,
		UNIQUE(person_id, day)
	);

	-- Project registry; id is the normalized (parent) project code
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL
	);

	-- UNIQUE(project_id, name) guards the TRAVELS get-or-create
	CREATE TABLE IF NOT EXISTS work_packages (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		UNIQUE(project_id, name)
	);

	CREATE TABLE IF NOT EXISTS project_members (
		project_id TEXT NOT NULL,
		person_id TEXT NOT NULL,
		PRIMARY KEY (project_id, person_id)
	);

	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		work_package_id TEXT NOT NULL,
		person_id TEXT NOT NULL,
		UNIQUE(person_id, work_package_id)
	);

	-- Effort ledger
	CREATE TABLE IF NOT EXISTS ceilings (
		person_id TEXT NOT NULL,
		month TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (person_id, month)
	);

	CREATE TABLE IF NOT EXISTS effort_shares (
		id TEXT PRIMARY KEY,
		assignment_id TEXT NOT NULL,
		person_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		work_package_id TEXT NOT NULL,
		work_package TEXT NOT NULL DEFAULT '',
		month TEXT NOT NULL,
		value TEXT NOT NULL,
		UNIQUE(assignment_id, month)
	);

	-- Hot path: reconciliation loads a person's month in one go
	CREATE INDEX IF NOT EXISTS idx_effort_shares_person_month
		ON effort_shares(person_id, month);

	CREATE TABLE IF NOT EXISTS project_locks (
		person_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		month TEXT NOT NULL,
		is_locked BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (person_id, project_id, month)
	);

	CREATE TABLE IF NOT EXISTS person_rates (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		affiliation_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		rate TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_person_rates_person
		ON person_rates(person_id);

	-- Travel declarations and their daily expansion
	CREATE TABLE IF NOT EXISTS liquidations (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		project1 TEXT NOT NULL DEFAULT '',
		dedication1 TEXT NOT NULL DEFAULT '0',
		project2 TEXT NOT NULL DEFAULT '',
		dedication2 TEXT NOT NULL DEFAULT '0',
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		destiny TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		status INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_liquidations_status
		ON liquidations(status);

	CREATE TABLE IF NOT EXISTS daily_allocations (
		id TEXT PRIMARY KEY,
		liquidation_id TEXT NOT NULL,
		person_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		day TEXT NOT NULL,
		dedication TEXT NOT NULL,
		pm_contribution TEXT NOT NULL,
		line_status INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_daily_allocations_liquidation
		ON daily_allocations(liquidation_id);
	CREATE INDEX IF NOT EXISTS idx_daily_allocations_person_day
		ON daily_allocations(person_id, day);
	CREATE INDEX IF NOT EXISTS idx_daily_allocations_status
		ON daily_allocations(line_status);

	-- Batch execution log
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		process TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		items INTEGER NOT NULL DEFAULT 0,
		failures INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at
		ON runs(started_at DESC);
	`

	_, err := s.sqlDB.Exec(schema)
	return err
}

// =============================================================================
// ENCODING HELPERS
// =============================================================================

func encodeDay(d effort.Day) string { return d.String() }

func decodeDay(s string) effort.Day {
	d, _ := effort.ParseDay(s)
	return d
}

func decodeMonth(s string) effort.MonthKey {
	m, _ := effort.ParseMonthKey(s)
	return m
}

func decodeDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// =============================================================================
// REFERENCE STORE
// =============================================================================

func (q *queries) Persons(ctx context.Context) ([]effort.Person, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT id, name FROM persons ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query persons: %w", err)
	}
	defer rows.Close()

	var persons []effort.Person
	for rows.Next() {
		var p effort.Person
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		persons = append(persons, p)
	}
	return persons, rows.Err()
}

func (q *queries) SavePerson(ctx context.Context, p effort.Person) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO persons (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, p.ID, p.Name)
	return err
}

func (q *queries) DedicationsFor(ctx context.Context, person effort.PersonID) ([]effort.Dedication, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, person_id, start_date, end_date, reduction, dedication_type, annual_cost, exists_flag
		FROM dedications WHERE person_id = ? ORDER BY start_date, id
	`, person)
	if err != nil {
		return nil, fmt.Errorf("failed to query dedications: %w", err)
	}
	defer rows.Close()

	var out []effort.Dedication
	for rows.Next() {
		var d effort.Dedication
		var start, end, reduction, cost string
		if err := rows.Scan(&d.ID, &d.PersonID, &start, &end, &reduction, &d.Type, &cost, &d.Exists); err != nil {
			return nil, err
		}
		d.Start = decodeDay(start)
		d.End = decodeDay(end)
		d.ReductionFraction = decodeDecimal(reduction)
		d.AnnualCost = decodeDecimal(cost)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (q *queries) SaveDedication(ctx context.Context, d effort.Dedication) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO dedications
		(id, person_id, start_date, end_date, reduction, dedication_type, annual_cost, exists_flag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			reduction = excluded.reduction,
			dedication_type = excluded.dedication_type,
			annual_cost = excluded.annual_cost,
			exists_flag = excluded.exists_flag
	`, d.ID, d.PersonID, encodeDay(d.Start), encodeDay(d.End),
		d.ReductionFraction.String(), d.Type, d.AnnualCost.String(), d.Exists)
	return err
}

func (q *queries) AffiliationAssignmentsFor(ctx context.Context, person effort.PersonID) ([]effort.AffiliationAssignment, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, person_id, line_id, start_date, end_date, affiliation_id, responsible_id, exists_flag
		FROM affiliation_assignments WHERE person_id = ? ORDER BY start_date, id
	`, person)
	if err != nil {
		return nil, fmt.Errorf("failed to query affiliation assignments: %w", err)
	}
	defer rows.Close()

	var out []effort.AffiliationAssignment
	for rows.Next() {
		var a effort.AffiliationAssignment
		var start, end string
		if err := rows.Scan(&a.ID, &a.PersonID, &a.LineID, &start, &end, &a.AffiliationID, &a.ResponsibleID, &a.Exists); err != nil {
			return nil, err
		}
		a.Start = decodeDay(start)
		a.End = decodeDay(end)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *queries) SaveAffiliationAssignment(ctx context.Context, a effort.AffiliationAssignment) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO affiliation_assignments
		(id, person_id, line_id, start_date, end_date, affiliation_id, responsible_id, exists_flag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			line_id = excluded.line_id,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			affiliation_id = excluded.affiliation_id,
			responsible_id = excluded.responsible_id,
			exists_flag = excluded.exists_flag
	`, a.ID, a.PersonID, a.LineID, encodeDay(a.Start), encodeDay(a.End),
		a.AffiliationID, a.ResponsibleID, a.Exists)
	return err
}

func (q *queries) AffiliationHoursFor(ctx context.Context, affiliation effort.AffiliationID) ([]effort.AffiliationHours, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT affiliation_id, start_date, end_date, hours_per_day
		FROM affiliation_hours WHERE affiliation_id = ? ORDER BY start_date
	`, affiliation)
	if err != nil {
		return nil, fmt.Errorf("failed to query affiliation hours: %w", err)
	}
	defer rows.Close()

	var out []effort.AffiliationHours
	for rows.Next() {
		var h effort.AffiliationHours
		var start, end, hours string
		if err := rows.Scan(&h.AffiliationID, &start, &end, &hours); err != nil {
			return nil, err
		}
		h.Start = decodeDay(start)
		h.End = decodeDay(end)
		h.HoursPerDay = decodeDecimal(hours)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (q *queries) SaveAffiliationHours(ctx context.Context, h effort.AffiliationHours) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO affiliation_hours (affiliation_id, start_date, end_date, hours_per_day)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(affiliation_id, start_date) DO UPDATE SET
			end_date = excluded.end_date,
			hours_per_day = excluded.hours_per_day
	`, h.AffiliationID, encodeDay(h.Start), encodeDay(h.End), h.HoursPerDay.String())
	return err
}

func (q *queries) LeavesFor(ctx context.Context, person effort.PersonID, from, to effort.Day) ([]effort.Leave, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT person_id, day, leave_type, reduction, hours, legacy
		FROM leaves WHERE person_id = ? AND day >= ? AND day <= ? ORDER BY day, leave_type
	`, person, encodeDay(from), encodeDay(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query leaves: %w", err)
	}
	defer rows.Close()

	var out []effort.Leave
	for rows.Next() {
		var l effort.Leave
		var day, reduction, hours string
		if err := rows.Scan(&l.PersonID, &day, &l.Type, &reduction, &hours, &l.Legacy); err != nil {
			return nil, err
		}
		l.Day = decodeDay(day)
		l.ReductionFraction = decodeDecimal(reduction)
		l.Hours = decodeDecimal(hours)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (q *queries) SaveLeave(ctx context.Context, l effort.Leave) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO leaves (person_id, day, leave_type, reduction, hours, legacy)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(person_id, day, leave_type) DO UPDATE SET
			reduction = excluded.reduction,
			hours = excluded.hours,
			legacy = excluded.legacy
	`, l.PersonID, encodeDay(l.Day), l.Type, l.ReductionFraction.String(), l.Hours.String(), l.Legacy)
	return err
}

func (q *queries) Holidays(ctx context.Context, year int) ([]effort.NationalHoliday, error) {
	prefix := fmt.Sprintf("%04d-", year)
	rows, err := q.db.QueryContext(ctx,
		"SELECT date FROM holidays WHERE date LIKE ? || '%' ORDER BY date", prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query holidays: %w", err)
	}
	defer rows.Close()

	var out []effort.NationalHoliday
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, err
		}
		out = append(out, effort.NationalHoliday{Date: decodeDay(date)})
	}
	return out, rows.Err()
}

func (q *queries) SaveHoliday(ctx context.Context, h effort.NationalHoliday) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO holidays (date) VALUES (?)", encodeDay(h.Date))
	return err
}

func (q *queries) TimesheetFor(ctx context.Context, person effort.PersonID, from, to effort.Day) ([]effort.TimesheetEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT person_id, day, hours
		FROM timesheet_entries WHERE person_id = ? AND day >= ? AND day <= ? ORDER BY day
	`, person, encodeDay(from), encodeDay(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query timesheet entries: %w", err)
	}
	defer rows.Close()

	var out []effort.TimesheetEntry
	for rows.Next() {
		var e effort.TimesheetEntry
		var day, hours string
		if err := rows.Scan(&e.PersonID, &day, &hours); err != nil {
			return nil, err
		}
		e.Day = decodeDay(day)
		e.Hours = decodeDecimal(hours)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *queries) SaveTimesheetEntry(ctx context.Context, e effort.TimesheetEntry) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO timesheet_entries (person_id, day, hours) VALUES (?, ?, ?)
		ON CONFLICT(person_id, day) DO UPDATE SET hours = excluded.hours
	`, e.PersonID, encodeDay(e.Day), e.Hours.String())
	return err
}

// =============================================================================
// PROJECT STORE
// =============================================================================

func (q *queries) ProjectByCode(ctx context.Context, code string) (*effort.Project, error) {
	var p effort.Project
	var start, end string
	err := q.db.QueryRowContext(ctx,
		"SELECT id, name, start_date, end_date FROM projects WHERE id = ?", code,
	).Scan(&p.ID, &p.Name, &start, &end)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Start = decodeDay(start)
	p.End = decodeDay(end)
	return &p, nil
}

func (q *queries) SaveProject(ctx context.Context, p effort.Project) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, start_date, end_date) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			start_date = excluded.start_date,
			end_date = excluded.end_date
	`, p.ID, p.Name, encodeDay(p.Start), encodeDay(p.End))
	return err
}

func (q *queries) WorkPackageByName(ctx context.Context, project effort.ProjectID, name string) (*effort.WorkPackage, error) {
	var wp effort.WorkPackage
	var start, end string
	err := q.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, start_date, end_date
		FROM work_packages WHERE project_id = ? AND name = ?
	`, project, name).Scan(&wp.ID, &wp.ProjectID, &wp.Name, &start, &end)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	wp.Start = decodeDay(start)
	wp.End = decodeDay(end)
	return &wp, nil
}

func (q *queries) SaveWorkPackage(ctx context.Context, wp effort.WorkPackage) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO work_packages (id, project_id, name, start_date, end_date)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			start_date = excluded.start_date,
			end_date = excluded.end_date
	`, wp.ID, wp.ProjectID, wp.Name, encodeDay(wp.Start), encodeDay(wp.End))
	return err
}

func (q *queries) IsProjectMember(ctx context.Context, project effort.ProjectID, person effort.PersonID) (bool, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM project_members WHERE project_id = ? AND person_id = ?",
		project, person,
	).Scan(&count)
	return count > 0, err
}

func (q *queries) SaveProjectMember(ctx context.Context, m effort.ProjectMember) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO project_members (project_id, person_id) VALUES (?, ?)",
		m.ProjectID, m.PersonID)
	return err
}

func (q *queries) AssignmentFor(ctx context.Context, person effort.PersonID, wp effort.WorkPackageID) (*effort.WorkPackageAssignment, error) {
	var a effort.WorkPackageAssignment
	err := q.db.QueryRowContext(ctx, `
		SELECT id, work_package_id, person_id
		FROM assignments WHERE person_id = ? AND work_package_id = ?
	`, person, wp).Scan(&a.ID, &a.WorkPackageID, &a.PersonID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (q *queries) SaveAssignment(ctx context.Context, a effort.WorkPackageAssignment) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO assignments (id, work_package_id, person_id) VALUES (?, ?, ?)",
		a.ID, a.WorkPackageID, a.PersonID)
	return err
}

// =============================================================================
// EFFORT STORE
// =============================================================================

func (q *queries) Ceiling(ctx context.Context, person effort.PersonID, month effort.MonthKey) (*effort.CapacityCeiling, error) {
	var value string
	err := q.db.QueryRowContext(ctx,
		"SELECT value FROM ceilings WHERE person_id = ? AND month = ?",
		person, month.String(),
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &effort.CapacityCeiling{
		PersonID: person,
		Month:    month,
		Value:    effort.PMFromDecimal(decodeDecimal(value)),
	}, nil
}

func (q *queries) SaveCeiling(ctx context.Context, c effort.CapacityCeiling) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO ceilings (person_id, month, value) VALUES (?, ?, ?)
		ON CONFLICT(person_id, month) DO UPDATE SET value = excluded.value
	`, c.PersonID, c.Month.String(), c.Value.Value.String())
	return err
}

const shareColumns = `id, assignment_id, person_id, project_id, work_package_id, work_package, month, value`

func (q *queries) SharesFor(ctx context.Context, person effort.PersonID, month effort.MonthKey) ([]effort.EffortShare, error) {
	return q.queryShares(ctx,
		"SELECT "+shareColumns+" FROM effort_shares WHERE person_id = ? AND month = ? ORDER BY id",
		person, month.String())
}

func (q *queries) SharesForProject(ctx context.Context, person effort.PersonID, project effort.ProjectID, month effort.MonthKey) ([]effort.EffortShare, error) {
	return q.queryShares(ctx,
		"SELECT "+shareColumns+" FROM effort_shares WHERE person_id = ? AND project_id = ? AND month = ? ORDER BY id",
		person, project, month.String())
}

func (q *queries) queryShares(ctx context.Context, query string, args ...any) ([]effort.EffortShare, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query effort shares: %w", err)
	}
	defer rows.Close()

	var out []effort.EffortShare
	for rows.Next() {
		var s effort.EffortShare
		var month, value string
		if err := rows.Scan(&s.ID, &s.AssignmentID, &s.PersonID, &s.ProjectID,
			&s.WorkPackageID, &s.WorkPackage, &month, &value); err != nil {
			return nil, err
		}
		s.Month = decodeMonth(month)
		s.Value = effort.PMFromDecimal(decodeDecimal(value))
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q *queries) SaveShare(ctx context.Context, s effort.EffortShare) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO effort_shares
		(id, assignment_id, person_id, project_id, work_package_id, work_package, month, value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(assignment_id, month) DO UPDATE SET value = excluded.value
	`, s.ID, s.AssignmentID, s.PersonID, s.ProjectID, s.WorkPackageID,
		s.WorkPackage, s.Month.String(), s.Value.Value.String())
	return err
}

func (q *queries) UpdateShareValues(ctx context.Context, values map[string]decimal.Decimal) error {
	for id, value := range values {
		res, err := q.db.ExecContext(ctx,
			"UPDATE effort_shares SET value = ? WHERE id = ?", value.String(), id)
		if err != nil {
			return fmt.Errorf("failed to update share %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("update share %s: %w", id, effort.ErrTransactionFailed)
		}
	}
	return nil
}

func (q *queries) IsLocked(ctx context.Context, person effort.PersonID, project effort.ProjectID, month effort.MonthKey) (bool, error) {
	var locked bool
	err := q.db.QueryRowContext(ctx, `
		SELECT is_locked FROM project_locks
		WHERE person_id = ? AND project_id = ? AND month = ?
	`, person, project, month.String()).Scan(&locked)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return locked, nil
}

func (q *queries) SaveLock(ctx context.Context, l effort.ProjectMonthLock) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO project_locks (person_id, project_id, month, is_locked)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(person_id, project_id, month) DO UPDATE SET is_locked = excluded.is_locked
	`, l.PersonID, l.ProjectID, l.Month.String(), l.IsLocked)
	return err
}

func (q *queries) SavePersonRate(ctx context.Context, r effort.PersonRate) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO person_rates (id, person_id, affiliation_id, start_date, end_date, rate)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			rate = excluded.rate
	`, r.ID, r.PersonID, r.AffiliationID, encodeDay(r.Start), encodeDay(r.End), r.Rate.String())
	return err
}

func (q *queries) DeletePersonRates(ctx context.Context, person effort.PersonID) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM person_rates WHERE person_id = ?`, person)
	return err
}

func (q *queries) PersonRates(ctx context.Context, person effort.PersonID) ([]effort.PersonRate, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, person_id, affiliation_id, start_date, end_date, rate
		FROM person_rates WHERE person_id = ? ORDER BY start_date, id
	`, person)
	if err != nil {
		return nil, fmt.Errorf("failed to query person rates: %w", err)
	}
	defer rows.Close()

	var out []effort.PersonRate
	for rows.Next() {
		var r effort.PersonRate
		var start, end, rate string
		if err := rows.Scan(&r.ID, &r.PersonID, &r.AffiliationID, &start, &end, &rate); err != nil {
			return nil, err
		}
		r.Start = decodeDay(start)
		r.End = decodeDay(end)
		r.Rate = decodeDecimal(rate)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// LIQUIDATION STORE
// =============================================================================

const liquidationColumns = `id, person_id, project1, dedication1, project2, dedication2, start_date, end_date, destiny, reason, status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLiquidation(row rowScanner) (effort.Liquidation, error) {
	var l effort.Liquidation
	var ded1, ded2, start, end string
	err := row.Scan(&l.ID, &l.PersonID, &l.Project1, &ded1, &l.Project2, &ded2,
		&start, &end, &l.Destiny, &l.Reason, &l.Status)
	if err != nil {
		return l, err
	}
	l.Dedication1 = decodeDecimal(ded1)
	l.Dedication2 = decodeDecimal(ded2)
	l.Start = decodeDay(start)
	l.End = decodeDay(end)
	return l, nil
}

func (q *queries) Liquidation(ctx context.Context, id effort.LiquidationID) (*effort.Liquidation, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+liquidationColumns+" FROM liquidations WHERE id = ?", id)
	l, err := scanLiquidation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (q *queries) LiquidationsByStatus(ctx context.Context, status effort.LiquidationStatus) ([]effort.Liquidation, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+liquidationColumns+" FROM liquidations WHERE status = ? ORDER BY id", status)
	if err != nil {
		return nil, fmt.Errorf("failed to query liquidations: %w", err)
	}
	defer rows.Close()

	var out []effort.Liquidation
	for rows.Next() {
		l, err := scanLiquidation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (q *queries) SaveLiquidation(ctx context.Context, l effort.Liquidation) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO liquidations
		(id, person_id, project1, dedication1, project2, dedication2,
		 start_date, end_date, destiny, reason, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project1 = excluded.project1,
			dedication1 = excluded.dedication1,
			project2 = excluded.project2,
			dedication2 = excluded.dedication2,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			destiny = excluded.destiny,
			reason = excluded.reason,
			status = excluded.status
	`, l.ID, l.PersonID, l.Project1, l.Dedication1.String(), l.Project2, l.Dedication2.String(),
		encodeDay(l.Start), encodeDay(l.End), l.Destiny, l.Reason, l.Status)
	return err
}

func (q *queries) SetLiquidationStatus(ctx context.Context, id effort.LiquidationID, status effort.LiquidationStatus) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE liquidations SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return effort.ErrLiquidationNotFound
	}
	return nil
}

func (q *queries) SaveDailyAllocations(ctx context.Context, rows []effort.DailyProjectAllocation) error {
	for _, r := range rows {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO daily_allocations
			(id, liquidation_id, person_id, project_id, day, dedication, pm_contribution, line_status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.LiquidationID, r.PersonID, r.ProjectID, encodeDay(r.Day),
			r.Dedication.String(), r.PMContribution.Value.String(), r.LineStatus)
		if err != nil {
			return fmt.Errorf("failed to insert daily allocation: %w", err)
		}
	}
	return nil
}

func (q *queries) DeleteDailyAllocations(ctx context.Context, id effort.LiquidationID) error {
	_, err := q.db.ExecContext(ctx,
		"DELETE FROM daily_allocations WHERE liquidation_id = ?", id)
	return err
}

const allocationColumns = `id, liquidation_id, person_id, project_id, day, dedication, pm_contribution, line_status`

func (q *queries) DailyAllocationsByLiquidation(ctx context.Context, id effort.LiquidationID) ([]effort.DailyProjectAllocation, error) {
	return q.queryAllocations(ctx,
		"SELECT "+allocationColumns+" FROM daily_allocations WHERE liquidation_id = ? ORDER BY day, id", id)
}

func (q *queries) PendingDailyAllocations(ctx context.Context) ([]effort.DailyProjectAllocation, error) {
	return q.queryAllocations(ctx,
		"SELECT "+allocationColumns+" FROM daily_allocations WHERE line_status = ? ORDER BY day, id",
		effort.LinePending)
}

func (q *queries) DailyAllocationsFor(ctx context.Context, person effort.PersonID, project effort.ProjectID, month effort.MonthKey) ([]effort.DailyProjectAllocation, error) {
	return q.queryAllocations(ctx,
		"SELECT "+allocationColumns+" FROM daily_allocations WHERE person_id = ? AND project_id = ? AND day >= ? AND day <= ? ORDER BY day, id",
		person, project, encodeDay(month.First()), encodeDay(month.Last()))
}

func (q *queries) DailyAllocationsForMonth(ctx context.Context, person effort.PersonID, month effort.MonthKey) ([]effort.DailyProjectAllocation, error) {
	return q.queryAllocations(ctx,
		"SELECT "+allocationColumns+" FROM daily_allocations WHERE person_id = ? AND day >= ? AND day <= ? ORDER BY day, id",
		person, encodeDay(month.First()), encodeDay(month.Last()))
}

func (q *queries) queryAllocations(ctx context.Context, query string, args ...any) ([]effort.DailyProjectAllocation, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily allocations: %w", err)
	}
	defer rows.Close()

	var out []effort.DailyProjectAllocation
	for rows.Next() {
		var r effort.DailyProjectAllocation
		var day, dedication, pm string
		if err := rows.Scan(&r.ID, &r.LiquidationID, &r.PersonID, &r.ProjectID,
			&day, &dedication, &pm, &r.LineStatus); err != nil {
			return nil, err
		}
		r.Day = decodeDay(day)
		r.Dedication = decodeDecimal(dedication)
		r.PMContribution = effort.PMFromDecimal(decodeDecimal(pm))
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *queries) MarkAllocationsApplied(ctx context.Context, ids []string) error {
	for _, id := range ids {
		res, err := q.db.ExecContext(ctx,
			"UPDATE daily_allocations SET line_status = ? WHERE id = ?",
			effort.LineApplied, id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return effort.ErrTransactionFailed
		}
	}
	return nil
}

// =============================================================================
// RUN LOG
// =============================================================================

func (q *queries) SaveRun(ctx context.Context, r effort.RunRecord) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO runs (id, process, started_at, completed_at, status, message, items, failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Process,
		r.StartedAt.UTC().Format(time.RFC3339), r.CompletedAt.UTC().Format(time.RFC3339),
		r.Status, r.Message, r.Items, r.Failures)
	return err
}

func (q *queries) Runs(ctx context.Context, limit int) ([]effort.RunRecord, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, process, started_at, completed_at, status, message, items, failures
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []effort.RunRecord
	for rows.Next() {
		var r effort.RunRecord
		var started, completed string
		if err := rows.Scan(&r.ID, &r.Process, &started, &completed,
			&r.Status, &r.Message, &r.Items, &r.Failures); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		r.CompletedAt, _ = time.Parse(time.RFC3339, completed)
		out = append(out, r)
	}
	return out, rows.Err()
}
