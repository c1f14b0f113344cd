// Package migrate applies the embedded SQL schema.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embedded embed.FS

const (
	defaultMigrationsTable = "schema_migrations"
	// defaultLockID keys the advisory lock held while migrating.
	defaultLockID int64 = 827316402
)

// ErrNoMigrations is returned by Down when nothing has been applied.
var ErrNoMigrations = errors.New("no migrations applied")

// Manager executes up/down SQL migrations read from an fs.FS.
type Manager struct {
	db              *sql.DB
	fsys            fs.FS
	migrationsTable string
	lockID          int64
	now             func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithFS replaces the embedded migrations, mainly for tests.
func WithFS(fsys fs.FS) Option {
	return func(m *Manager) {
		if fsys != nil {
			m.fsys = fsys
		}
	}
}

func WithLockID(id int64) Option {
	return func(m *Manager) { m.lockID = id }
}

// NewManager constructs a Manager over the embedded schema.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	sub, _ := fs.Sub(embedded, "sql")
	m := &Manager{
		db:              db,
		fsys:            sub,
		migrationsTable: defaultMigrationsTable,
		lockID:          defaultLockID,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Status describes one known migration.
type Status struct {
	Name      string
	AppliedAt *time.Time
}

// Up applies all pending migrations and returns their names.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	var applied []string
	err := m.withLock(ctx, func(conn *sql.Conn) error {
		executed, err := m.listExecuted(ctx, conn)
		if err != nil {
			return err
		}
		files, err := collectSQL(m.fsys, ".up.sql")
		if err != nil {
			return err
		}
		for _, name := range files {
			if _, ok := executed[name]; ok {
				continue
			}
			insert := fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, m.migrationsTable)
			if err := m.exec(ctx, conn, name, insert, name, m.now().UTC()); err != nil {
				return fmt.Errorf("apply migration %s: %w", name, err)
			}
			applied = append(applied, name)
		}
		return nil
	})
	return applied, err
}

// Down rolls back the most recent applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	var last string
	err := m.withLock(ctx, func(conn *sql.Conn) error {
		executed, err := m.history(ctx, conn)
		if err != nil {
			return err
		}
		if len(executed) == 0 {
			return ErrNoMigrations
		}
		last = executed[len(executed)-1]
		down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(m.fsys, down); err != nil {
			return fmt.Errorf("missing down migration for %s", last)
		}
		del := fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable)
		if err := m.exec(ctx, conn, down, del, last); err != nil {
			return fmt.Errorf("rollback migration %s: %w", last, err)
		}
		return nil
	})
	return last, err
}

// Status lists every known migration in order with its applied time.
func (m *Manager) Status(ctx context.Context) ([]Status, error) {
	var out []Status
	err := m.withLock(ctx, func(conn *sql.Conn) error {
		executed, err := m.listExecuted(ctx, conn)
		if err != nil {
			return err
		}
		files, err := collectSQL(m.fsys, ".up.sql")
		if err != nil {
			return err
		}
		for _, name := range files {
			st := Status{Name: name}
			if at, ok := executed[name]; ok {
				st.AppliedAt = &at
			}
			out = append(out, st)
		}
		return nil
	})
	return out, err
}

// withLock pins one connection, holds a session advisory lock on it and
// makes sure the bookkeeping table exists.
func (m *Manager) withLock(ctx context.Context, fn func(conn *sql.Conn) error) error {
	if m.db == nil {
		return errors.New("database connection unavailable")
	}
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `select pg_advisory_lock($1)`, m.lockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `select pg_advisory_unlock($1)`, m.lockID)
	}()

	ddl := fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		);`, m.migrationsTable)
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return err
	}
	return fn(conn)
}

// exec runs the statements of file plus one bookkeeping statement in a
// single transaction.
func (m *Manager) exec(ctx context.Context, conn *sql.Conn, file, record string, args ...any) error {
	sqlBytes, err := fs.ReadFile(m.fsys, file)
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(sqlBytes)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) listExecuted(ctx context.Context, conn *sql.Conn) (map[string]time.Time, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`select name, applied_at from %s`, m.migrationsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[string]time.Time)
	for rows.Next() {
		var (
			name string
			at   time.Time
		)
		if err := rows.Scan(&name, &at); err != nil {
			return nil, err
		}
		result[name] = at
	}
	return result, rows.Err()
}

func (m *Manager) history(ctx context.Context, conn *sql.Conn) ([]string, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, m.migrationsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

func collectSQL(fsys fs.FS, suffix string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// splitStatements naively splits SQL by semicolon, ignoring semicolons
// inside single-quoted strings and -- comments.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	var inString, inComment bool
	for _, r := range sql {
		switch {
		case inComment:
			current.WriteRune(r)
			if r == '\n' {
				inComment = false
			}
		case r == '\'':
			current.WriteRune(r)
			inString = !inString
		case r == '-' && !inString && strings.HasSuffix(current.String(), "-"):
			current.WriteRune(r)
			inComment = true
		case r == ';' && !inString:
			current.WriteRune(r)
			stmts = append(stmts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
