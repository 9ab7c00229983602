// Package directory persists student records in SQL and serves them back by
// URN or by reporting scope.
package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	"github.com/okian/trophy/internal/domain/model"
	"github.com/okian/trophy/pkg/metrics"
	_ "modernc.org/sqlite" // driver: sqlite
)

// Driver names a supported database backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Filter narrows List to a reporting scope. Zero fields match everything.
type Filter struct {
	Year   int
	Branch string
}

// Directory is the SQL-backed student directory.
type Directory struct {
	db     *sql.DB
	driver Driver
}

// Open opens a database, applies the schema and returns the directory.
func Open(ctx context.Context, driver Driver, dsn string) (*Directory, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:trophy.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost:5432/trophy?sslmode=disable"
		}
	case DriverMySQL:
		drvName = "mysql"
		if dsn == "" {
			dsn = "root@tcp(127.0.0.1:3306)/trophy"
		}
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		dsn = cfg.FormatDSN()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one writer; also keeps ":memory:" databases on a single connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	d := &Directory{db: db, driver: driver}
	if err := d.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *Directory) ensureSchema(ctx context.Context) error {
	var stmts []string
	switch d.driver {
	case DriverSQLite:
		stmts = schemaSQLite
	case DriverPostgres:
		stmts = schemaPostgres
	case DriverMySQL:
		stmts = schemaMySQL
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (d *Directory) rebind(q string) string {
	if d.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func observe(op string, start time.Time) {
	metrics.RecordDirectoryLatency(op, float64(time.Since(start).Microseconds())/1000)
}

// Put inserts or replaces a student record.
func (d *Directory) Put(ctx context.Context, rec model.StudentRecord) error {
	defer observe("put", time.Now())
	if strings.TrimSpace(rec.URN) == "" {
		return ErrInvalidURN
	}
	sports, err := json.Marshal(nonNil(rec.Sports))
	if err != nil {
		return err
	}
	positions, err := json.Marshal(nonNil(rec.Positions))
	if err != nil {
		return err
	}
	q := upsertStandard
	if d.driver == DriverMySQL {
		q = upsertMySQL
	}
	_, err = d.db.ExecContext(ctx, d.rebind(q),
		rec.URN, rec.Name, rec.Branch, rec.Year, rec.IsCaptain, string(sports), string(positions), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("put student %s: %w", rec.URN, err)
	}
	return nil
}

const selectColumns = `SELECT urn,name,branch,year,is_captain,sports_json,positions_json FROM students`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (model.StudentRecord, error) {
	var rec model.StudentRecord
	var sports, positions string
	if err := row.Scan(&rec.URN, &rec.Name, &rec.Branch, &rec.Year, &rec.IsCaptain, &sports, &positions); err != nil {
		return model.StudentRecord{}, err
	}
	if err := json.Unmarshal([]byte(sports), &rec.Sports); err != nil {
		return model.StudentRecord{}, fmt.Errorf("decode sports of %s: %w", rec.URN, err)
	}
	if err := json.Unmarshal([]byte(positions), &rec.Positions); err != nil {
		return model.StudentRecord{}, fmt.Errorf("decode positions of %s: %w", rec.URN, err)
	}
	return rec, nil
}

// Get returns the record stored for urn.
func (d *Directory) Get(ctx context.Context, urn string) (model.StudentRecord, error) {
	defer observe("get", time.Now())
	rec, err := scanRecord(d.db.QueryRowContext(ctx, d.rebind(selectColumns+` WHERE urn=?`), urn))
	if errors.Is(err, sql.ErrNoRows) {
		return model.StudentRecord{}, ErrNotFound
	}
	if err != nil {
		return model.StudentRecord{}, fmt.Errorf("get student %s: %w", urn, err)
	}
	return rec, nil
}

// List returns the records in scope ordered by URN.
func (d *Directory) List(ctx context.Context, f Filter) ([]model.StudentRecord, error) {
	defer observe("list", time.Now())
	q := selectColumns
	var where []string
	var args []any
	if f.Year != 0 {
		where = append(where, "year=?")
		args = append(args, f.Year)
	}
	if f.Branch != "" {
		where = append(where, "branch=?")
		args = append(args, f.Branch)
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY urn"

	rows, err := d.db.QueryContext(ctx, d.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	out := []model.StudentRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes a record.
func (d *Directory) Delete(ctx context.Context, urn string) error {
	defer observe("delete", time.Now())
	res, err := d.db.ExecContext(ctx, d.rebind(`DELETE FROM students WHERE urn=?`), urn)
	if err != nil {
		return fmt.Errorf("delete student %s: %w", urn, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of stored records.
func (d *Directory) Count(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count students: %w", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (d *Directory) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the database.
func (d *Directory) Close() error {
	return d.db.Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
