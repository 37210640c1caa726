package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	maxStderrBytes  = 64 * 1024
	defaultListSize = 20
	maxListSize     = 500

	interruptedError = "interrupted by restart"

	// Fixed-width so that timestamps sort lexically in SQL.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Store is the SQLite-backed generation job log.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Start records a running job and returns its id.
func (s *Store) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.Backend == "" {
		return "", fmt.Errorf("backend is empty")
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := s.now().UTC().Format(timeLayout)

	_, err := s.db.ExecContext(ctx, `
INSERT INTO generation_jobs(id, backend, status, input_ext, input_bytes, created_at)
VALUES(?, ?, ?, ?, ?, ?);
`, id, req.Backend, StatusRunning, req.InputExt, req.InputBytes, createdAt)
	if err != nil {
		return "", fmt.Errorf("record job start: %w", err)
	}
	return id, nil
}

// Complete marks a running job terminal. Completing an already terminal job
// is an error.
func (s *Store) Complete(ctx context.Context, jobID string, c Completion) error {
	if jobID == "" {
		return fmt.Errorf("jobID is empty")
	}
	if !c.Status.Terminal() {
		return fmt.Errorf("invalid terminal status: %q", c.Status)
	}

	var stderr any
	if c.Stderr != "" {
		v := c.Stderr
		if len(v) > maxStderrBytes {
			v = v[len(v)-maxStderrBytes:]
		}
		stderr = v
	}
	var digest, artifactBytes any
	if c.ArtifactDigest != "" {
		digest = c.ArtifactDigest
		artifactBytes = c.ArtifactBytes
	}

	completedAt := s.now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `
UPDATE generation_jobs
SET status = ?, error_kind = ?, last_error = ?, stderr = ?,
    artifact_digest = ?, artifact_bytes = ?, completed_at = ?
WHERE id = ? AND status = ?;
`, c.Status, nullIfEmpty(c.ErrorKind), nullIfEmpty(c.LastError), stderr,
		digest, artifactBytes, completedAt, jobID, StatusRunning)
	if err != nil {
		return fmt.Errorf("record job completion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record job completion: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, jobID); err != nil {
			return err
		}
		return fmt.Errorf("job %s is already terminal", jobID)
	}
	return nil
}

// Get returns one job by id.
func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, selectJobs+` WHERE id = ?;`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// List returns the most recent jobs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = defaultListSize
	}
	if limit > maxListSize {
		limit = maxListSize
	}

	rows, err := s.db.QueryContext(ctx, selectJobs+` ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

// Prune deletes terminal jobs completed before now-retention.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().UTC().Add(-retention).Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `
DELETE FROM generation_jobs
WHERE status != ? AND completed_at IS NOT NULL AND completed_at < ?;
`, StatusRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RecoverInterrupted fails jobs left running by a previous process.
func (s *Store) RecoverInterrupted(ctx context.Context) (int64, error) {
	completedAt := s.now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `
UPDATE generation_jobs
SET status = ?, error_kind = ?, last_error = ?, completed_at = ?
WHERE status = ?;
`, StatusFailed, "interrupted", interruptedError, completedAt, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

const selectJobs = `
SELECT id, backend, status, error_kind, last_error, stderr, input_ext, input_bytes,
       artifact_digest, artifact_bytes, created_at, completed_at
FROM generation_jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j             Job
		statusS       string
		errorKind     sql.NullString
		lastError     sql.NullString
		stderr        sql.NullString
		digest        sql.NullString
		artifactBytes sql.NullInt64
		createdAtS    string
		completedAtS  sql.NullString
	)
	if err := row.Scan(
		&j.ID, &j.Backend, &statusS, &errorKind, &lastError, &stderr, &j.InputExt, &j.InputBytes,
		&digest, &artifactBytes, &createdAtS, &completedAtS,
	); err != nil {
		return nil, err
	}

	j.Status = Status(statusS)
	if errorKind.Valid {
		j.ErrorKind = &errorKind.String
	}
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	if stderr.Valid {
		j.Stderr = &stderr.String
	}
	if digest.Valid {
		j.ArtifactDigest = &digest.String
	}
	if artifactBytes.Valid {
		j.ArtifactBytes = &artifactBytes.Int64
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		j.CreatedAt = t
	}
	if completedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			j.CompletedAt = &t
		}
	}
	return &j, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
