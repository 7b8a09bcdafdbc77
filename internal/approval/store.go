// Package approval implements the Approval Gateway's persistent pending-
// request store: agent-originated callbacks that require an explicit human
// decision are recorded here and survive a daemon restart.
package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	sqliteutil "github.com/forkline/core/internal/sqliteutil"
)

// Status is the lifecycle state of an ApprovalRequest.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Action enumerates the approval-gated callback actions. Only "merge" is
// approval-gated; "todos"/"message"/"usage" are synchronous notifications
// and never create a Request.
type Action string

const (
	ActionMerge Action = "merge"
)

// ErrNotFound is returned when a requestId has no matching record.
var ErrNotFound = errors.New("approval request not found")

// ErrAlreadyTerminal is returned by Resolve when the request has already
// left the pending state; callers should treat it as a no-op success and
// report the stored decision instead of erroring, since a request may
// transition out of pending exactly once.
var ErrAlreadyTerminal = errors.New("approval request already resolved")

// Request is the persisted ApprovalRequest entity.
type Request struct {
	RequestID string    `db:"request_id" json:"requestId"`
	TaskID    string    `db:"task_id" json:"taskId"`
	Action    Action    `db:"action" json:"action"`
	Payload   string    `db:"payload" json:"payload"`
	Status    Status    `db:"status" json:"status"`
	Decision  *string   `db:"decision" json:"decision,omitempty"`
	DecidedBy *string   `db:"decided_by" json:"decidedBy,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// IsTerminal reports whether the request has left the pending state.
func (r *Request) IsTerminal() bool {
	return r.Status != StatusPending
}

// Store is the sqlx-backed ApprovalRequest repository. Writes go through a
// single-connection writer pool so SQLite itself serializes them; reads use
// a separate concurrent pool against the same WAL-mode database.
type Store struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

// NewStore wraps an already-open writer/reader pair and ensures the schema
// exists.
func NewStore(writer, reader *sqlx.DB) (*Store, error) {
	s := &Store{db: writer, ro: reader}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize approvals schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS approval_requests (
		request_id TEXT PRIMARY KEY,
		task_id    TEXT NOT NULL,
		action     TEXT NOT NULL,
		payload    TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_approval_requests_status ON approval_requests(status);
	`); err != nil {
		return err
	}

	// decision/decided_by were added after the initial table shape; adding
	// them with EnsureColumn rather than folding them into CREATE TABLE lets
	// a database created by an older build of this daemon pick them up on
	// next startup instead of needing a fresh file.
	if err := sqliteutil.EnsureColumn(s.db.DB, "approval_requests", "decision", "TEXT"); err != nil {
		return err
	}
	if err := sqliteutil.EnsureColumn(s.db.DB, "approval_requests", "decided_by", "TEXT"); err != nil {
		return err
	}
	return nil
}

// Close releases both pools.
func (s *Store) Close() error {
	roErr := s.ro.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return roErr
}

// Create inserts a new pending request with a time-sorted requestId
// (timestamp prefix keeps lexicographic order == creation order, with a
// uuid suffix for uniqueness within the same tick).
func (s *Store) Create(ctx context.Context, taskID string, action Action, payload string) (*Request, error) {
	now := time.Now().UTC()
	req := &Request{
		RequestID: fmt.Sprintf("%d-%s", now.UnixNano(), uuid.New().String()[:8]),
		TaskID:    taskID,
		Action:    action,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO approval_requests (request_id, task_id, action, payload, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), req.RequestID, req.TaskID, req.Action, req.Payload, req.Status, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Get returns the current record for requestId.
func (s *Store) Get(ctx context.Context, requestID string) (*Request, error) {
	var req Request
	err := s.ro.GetContext(ctx, &req, s.ro.Rebind(`
		SELECT request_id, task_id, action, payload, status, decision, decided_by, created_at, updated_at
		FROM approval_requests WHERE request_id = ?
	`), requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// Resolve transitions a pending request to approved/rejected. A request
// already in a terminal state is left untouched and ErrAlreadyTerminal is
// returned alongside the existing record so the caller can report the
// stored decision as a no-op success.
func (s *Store) Resolve(ctx context.Context, requestID string, status Status, decision, decidedBy string) (*Request, error) {
	if status != StatusApproved && status != StatusRejected {
		return nil, fmt.Errorf("invalid terminal status %q", status)
	}

	existing, err := s.getForWrite(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if existing.IsTerminal() {
		return existing, ErrAlreadyTerminal
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE approval_requests
		SET status = ?, decision = ?, decided_by = ?, updated_at = ?
		WHERE request_id = ? AND status = 'pending'
	`), status, decision, decidedBy, now, requestID)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Lost the race to another resolver between getForWrite and here.
		return s.Get(ctx, requestID)
	}

	existing.Status = status
	existing.Decision = &decision
	existing.DecidedBy = &decidedBy
	existing.UpdatedAt = now
	return existing, nil
}

func (s *Store) getForWrite(ctx context.Context, requestID string) (*Request, error) {
	var req Request
	err := s.db.GetContext(ctx, &req, s.db.Rebind(`
		SELECT request_id, task_id, action, payload, status, decision, decided_by, created_at, updated_at
		FROM approval_requests WHERE request_id = ?
	`), requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &req, err
}

// SweepExpiredPending marks every still-pending request older than maxAge
// as expired. Called once at startup so stale pending requests left over
// from a prior run don't linger forever.
func (s *Store) SweepExpiredPending(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE approval_requests SET status = 'expired', updated_at = ?
		WHERE status = 'pending' AND created_at < ?
	`), time.Now().UTC(), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneResolved deletes terminal requests older than retention, and beyond
// that keeps at most maxCount terminal rows so the table stays bounded in
// both age and size.
func (s *Store) PruneResolved(ctx context.Context, retention time.Duration, maxCount int) error {
	cutoff := time.Now().UTC().Add(-retention)
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM approval_requests WHERE status != 'pending' AND updated_at < ?
	`), cutoff); err != nil {
		return err
	}

	if maxCount <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM approval_requests
		WHERE status != 'pending' AND request_id NOT IN (
			SELECT request_id FROM approval_requests
			WHERE status != 'pending'
			ORDER BY updated_at DESC
			LIMIT %d
		)
	`, maxCount))
	return err
}
