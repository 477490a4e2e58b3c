// Package offline persists commands and sync data that cannot be delivered
// immediately because the broker or the network is unavailable, replaying
// them once availability is restored. Covers the BufferEntry lifecycle,
// flush policy, and Stats/Purge accessors operators need for production
// use.
package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/edge-robotics/command-core/queue"
)

// Status is a BufferEntry's lifecycle state.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSending Status = "SENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
	StatusExpired Status = "EXPIRED"
)

// BufferEntry is one row of a persistent offline buffer.
type BufferEntry struct {
	ID          string
	MessageJSON string
	Priority    queue.Priority
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	RetryCount  int
	LastError   string
	ExpiresAt   *time.Time
}

// SendFunc delivers one buffered entry; a non-nil error counts as a failed
// attempt against the entry's retry budget.
type SendFunc func(ctx context.Context, entry *BufferEntry) error

// FlushResult summarizes one Flush() invocation.
type FlushResult struct {
	Sent    int
	Failed  int
	Retried int
	Expired int
}

// Buffer is a single sqlite-backed offline buffer. A
// OfflineQueueService wires up two — one for commands, one for sync data.
type Buffer struct {
	name          string
	db            *sql.DB
	mu            sync.Mutex
	maxSize       int
	maxRetryCount int
	sendBatchSize int

	totalFlushed int64
	totalExpired int64
}

// Open creates or attaches to a sqlite-backed buffer at path (":memory:" for
// an in-process, non-persistent buffer used by tests). name distinguishes
// buffers sharing one database file via a table-per-buffer layout.
func Open(path, name string, maxSize, maxRetryCount, sendBatchSize int) (*Buffer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("offline: open %s: %w", path, err)
	}
	if path != ":memory:" {
		db.SetMaxOpenConns(1) // file-mode connections serialize via a single conn
	}

	b := &Buffer{name: name, db: db, maxSize: maxSize, maxRetryCount: maxRetryCount, sendBatchSize: sendBatchSize}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Buffer) table() string { return "buffer_" + b.name }

func (b *Buffer) migrate() error {
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	message_json TEXT NOT NULL,
	priority INTEGER NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	expires_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_%s_status ON %s(status);
CREATE INDEX IF NOT EXISTS idx_%s_priority_created ON %s(priority DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_%s_expires ON %s(expires_at);
`, b.table(), b.name, b.table(), b.name, b.table(), b.name, b.table())
	_, err := b.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("offline: migrate %s: %w", b.name, err)
	}
	return nil
}

// Enqueue persists a new PENDING entry for msg. Returns false (not an
// error) when the buffer is at maxSize: submitting a command never fails
// outright when the offline path is available; it only reports "not
// accepted" when the buffer itself is full or the write fails.
func (b *Buffer) Enqueue(ctx context.Context, id string, msg *queue.Message, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxSize > 0 {
		count, err := b.countLocked(ctx)
		if err != nil {
			return false, err
		}
		if count >= b.maxSize {
			return false, nil
		}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("offline: marshal message: %w", err)
	}

	now := time.Now().UTC()
	var expiresAt any
	if ttl > 0 {
		expiresAt = now.Add(ttl).Format(time.RFC3339Nano)
	}

	_, err = b.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, message_json, priority, status, created_at, updated_at, retry_count, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`, b.table()),
		id, string(body), int(msg.Priority), string(StatusPending),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), expiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("offline: insert entry %s: %w", id, err)
	}
	return true, nil
}

func (b *Buffer) countLocked(ctx context.Context) (int, error) {
	var n int
	row := b.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, b.table()))
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("offline: count %s: %w", b.name, err)
	}
	return n, nil
}

// Flush deletes lazily-expired entries, then selects up to sendBatchSize
// oldest PENDING entries ordered by (priority desc, created_at asc) and
// invokes send for each.
func (b *Buffer) Flush(ctx context.Context, send SendFunc) (FlushResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result FlushResult

	expired, err := b.expireLocked(ctx)
	if err != nil {
		return result, err
	}
	result.Expired = expired
	b.totalExpired += int64(expired)

	entries, err := b.selectPendingLocked(ctx)
	if err != nil {
		return result, err
	}

	for _, entry := range entries {
		if err := b.markLocked(ctx, entry.ID, StatusSending, entry.RetryCount, ""); err != nil {
			return result, err
		}

		sendErr := send(ctx, entry)
		if sendErr == nil {
			if err := b.deleteLocked(ctx, entry.ID); err != nil {
				return result, err
			}
			result.Sent++
			b.totalFlushed++
			continue
		}

		entry.RetryCount++
		if entry.RetryCount >= b.maxRetryCount {
			if err := b.markLocked(ctx, entry.ID, StatusFailed, entry.RetryCount, sendErr.Error()); err != nil {
				return result, err
			}
			result.Failed++
			continue
		}
		if err := b.markLocked(ctx, entry.ID, StatusPending, entry.RetryCount, sendErr.Error()); err != nil {
			return result, err
		}
		result.Retried++
	}

	return result, nil
}

func (b *Buffer) expireLocked(ctx context.Context) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := b.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= ? AND status != ?`, b.table()),
		now, string(StatusSending),
	)
	if err != nil {
		return 0, fmt.Errorf("offline: expire %s: %w", b.name, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (b *Buffer) selectPendingLocked(ctx context.Context) ([]*BufferEntry, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, message_json, priority, status, created_at, updated_at, retry_count, last_error, expires_at
		 FROM %s WHERE status = ? AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY priority DESC, created_at ASC LIMIT ?`, b.table()),
		string(StatusPending), now, b.sendBatchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("offline: select pending %s: %w", b.name, err)
	}
	defer rows.Close()

	var out []*BufferEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(rows *sql.Rows) (*BufferEntry, error) {
	var (
		e                    BufferEntry
		priority             int
		status               string
		createdAt, updatedAt string
		lastError, expiresAt sql.NullString
	)
	if err := rows.Scan(&e.ID, &e.MessageJSON, &priority, &status, &createdAt, &updatedAt, &e.RetryCount, &lastError, &expiresAt); err != nil {
		return nil, fmt.Errorf("offline: scan entry: %w", err)
	}
	e.Priority = queue.Priority(priority)
	e.Status = Status(status)
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	e.LastError = lastError.String
	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err == nil {
			e.ExpiresAt = &t
		}
	}
	return &e, nil
}

func (b *Buffer) markLocked(ctx context.Context, id string, status Status, retryCount int, lastError string) error {
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET status = ?, retry_count = ?, last_error = ?, updated_at = ? WHERE id = ?`, b.table()),
		string(status), retryCount, nullIfEmpty(lastError), time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("offline: mark %s %s: %w", id, status, err)
	}
	return nil
}

func (b *Buffer) deleteLocked(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, b.table()), id)
	if err != nil {
		return fmt.Errorf("offline: delete %s: %w", id, err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Stats returns per-status counts plus the cumulative flushed/expired
// counters.
func (b *Buffer) Stats(ctx context.Context) (map[Status]int, int64, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status`, b.table()))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("offline: stats %s: %w", b.name, err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, 0, 0, fmt.Errorf("offline: scan stats %s: %w", b.name, err)
		}
		counts[Status(status)] = n
	}
	return counts, b.totalFlushed, b.totalExpired, rows.Err()
}

// Purge deletes every entry in the given status. FAILED entries are
// retained until manually purged, so this supplies the operator hook for it.
func (b *Buffer) Purge(ctx context.Context, status Status) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	res, err := b.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE status = ?`, b.table()), string(status))
	if err != nil {
		return 0, fmt.Errorf("offline: purge %s %s: %w", b.name, status, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close releases the underlying database handle.
func (b *Buffer) Close() error {
	return b.db.Close()
}
