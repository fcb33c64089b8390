package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/mirajehossain/graphmigrate/internal/db"
)

// Locker serialises runs against one environment.
type Locker interface {
	Acquire(ctx context.Context, timeout time.Duration) error
	Release(ctx context.Context) error
	Key() string
}

// For picks the lock that matches the store behind database.
func For(dialect string, database *sql.DB, key string) Locker {
	switch strings.ToLower(dialect) {
	case "postgres", "postgresql", "pgx":
		return NewPostgres(database, key)
	case "sqlite", "sqlite3":
		return NewLocal(key)
	}
	return NewMySQL(database, key)
}

// MySQL advisory lock using GET_LOCK/RELEASE_LOCK on a dedicated connection.
type MySQL struct {
	db   *sql.DB
	conn *sql.Conn
	key  string
	held bool
}

func NewMySQL(database *sql.DB, key string) *MySQL {
	return &MySQL{db: database, key: key}
}

func (m *MySQL) Acquire(ctx context.Context, timeout time.Duration) error {
	if m.held {
		return nil
	}
	var err error
	m.conn, err = m.db.Conn(ctx)
	if err != nil {
		return err
	}
	// GET_LOCK(name, timeout_seconds)
	row := m.conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", m.key, int(timeout.Seconds()))
	var got sql.NullInt64
	if err := row.Scan(&got); err != nil {
		_ = m.conn.Close()
		return err
	}
	if !got.Valid || got.Int64 != 1 {
		_ = m.conn.Close()
		return fmt.Errorf("%w: %s", db.ErrLockTimeout, m.key)
	}
	m.held = true
	return nil
}

func (m *MySQL) Release(ctx context.Context) error {
	if !m.held || m.conn == nil {
		return nil
	}
	row := m.conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", m.key)
	var rel sql.NullInt64
	_ = row.Scan(&rel) // do not fail on release
	m.held = false
	return m.conn.Close()
}

func (m *MySQL) Key() string { return m.key }

// Postgres holds a session advisory lock on a dedicated connection. The key
// is hashed into the lock's bigint id.
type Postgres struct {
	db   *sql.DB
	conn *sql.Conn
	key  string
	held bool
	// Poll is the retry interval while the lock is taken.
	Poll time.Duration
}

func NewPostgres(database *sql.DB, key string) *Postgres {
	return &Postgres{db: database, key: key, Poll: 250 * time.Millisecond}
}

func (p *Postgres) Acquire(ctx context.Context, timeout time.Duration) error {
	if p.held {
		return nil
	}
	var err error
	p.conn, err = p.db.Conn(ctx)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	for {
		var got bool
		if err := p.conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", HashKey(p.key)).Scan(&got); err != nil {
			_ = p.conn.Close()
			return fmt.Errorf("pg_try_advisory_lock(%s): %w", p.key, err)
		}
		if got {
			p.held = true
			return nil
		}
		if time.Now().After(deadline) {
			_ = p.conn.Close()
			return fmt.Errorf("%w: %s", db.ErrLockTimeout, p.key)
		}
		select {
		case <-ctx.Done():
			_ = p.conn.Close()
			return ctx.Err()
		case <-time.After(p.Poll):
		}
	}
}

func (p *Postgres) Release(ctx context.Context) error {
	if !p.held || p.conn == nil {
		return nil
	}
	_, _ = p.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", HashKey(p.key))
	p.held = false
	return p.conn.Close()
}

func (p *Postgres) Key() string { return p.key }

var (
	localMu    sync.Mutex
	localSlots = map[string]chan struct{}{}
)

// Local is a process-wide lock per key, for SQLite where the file lock
// already keeps other processes out.
type Local struct {
	key  string
	held bool
}

func NewLocal(key string) *Local { return &Local{key: key} }

func (l *Local) slot() chan struct{} {
	localMu.Lock()
	defer localMu.Unlock()
	ch, ok := localSlots[l.key]
	if !ok {
		ch = make(chan struct{}, 1)
		localSlots[l.key] = ch
	}
	return ch
}

func (l *Local) Acquire(ctx context.Context, timeout time.Duration) error {
	if l.held {
		return nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case l.slot() <- struct{}{}:
		l.held = true
		return nil
	case <-t.C:
		return fmt.Errorf("%w: %s", db.ErrLockTimeout, l.key)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Local) Release(context.Context) error {
	if !l.held {
		return nil
	}
	l.held = false
	select {
	case <-l.slot():
	default:
		return errors.New("local lock was not held")
	}
	return nil
}

func (l *Local) Key() string { return l.key }

// HashKey maps a lock key to a stable advisory lock id using FNV-1a.
func HashKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}

func KeyFor(database, table string) string {
	return fmt.Sprintf("graphmigrate:%s:%s", database, table)
}
