package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veropath/grantflow/model"
)

// PgRequestStore is a PostgreSQL-backed RequestStore using pgx/v5. The
// status update and audit insert of a transition commit in one transaction.
type PgRequestStore struct {
	pool *pgxpool.Pool
}

// NewPgRequestStore creates a new PostgreSQL request store.
func NewPgRequestStore(pool *pgxpool.Pool) *PgRequestStore {
	return &PgRequestStore{pool: pool}
}

// HealthCheck verifies database connectivity.
func (s *PgRequestStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Create inserts a new request.
func (s *PgRequestStore) Create(ctx context.Context, req model.Request) error {
	payloadJSON, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO requests (
			id, kind, requester_id, department, status, payload,
			system_id, is_permanent, start_date, end_date,
			version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13
		)`,
		req.ID, req.Kind, req.RequesterID, req.Department, req.Status, payloadJSON,
		req.SystemID, req.IsPermanent, req.StartDate, req.EndDate,
		req.Version, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return mapPgError("insert request", err)
	}
	return nil
}

// Get retrieves a request and its audit trail.
func (s *PgRequestStore) Get(ctx context.Context, requestID string) (model.Request, error) {
	var req model.Request
	var payloadJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, kind, requester_id, department, status, payload,
		       system_id, is_permanent, start_date, end_date,
		       version, created_at, updated_at
		FROM requests
		WHERE id = $1`,
		requestID,
	).Scan(
		&req.ID, &req.Kind, &req.RequesterID, &req.Department, &req.Status, &payloadJSON,
		&req.SystemID, &req.IsPermanent, &req.StartDate, &req.EndDate,
		&req.Version, &req.CreatedAt, &req.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Request{}, model.NewNotFoundError(
			fmt.Sprintf("request %q not found", requestID),
		)
	}
	if err != nil {
		return model.Request{}, mapPgError("query request", err)
	}

	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &req.Payload); err != nil {
			return model.Request{}, fmt.Errorf("unmarshal payload: %w", err)
		}
	}

	audit, err := s.auditFor(ctx, requestID)
	if err != nil {
		return model.Request{}, err
	}
	req.StageAudit = audit

	return req, nil
}

// ApplyTransition commits the status change and audit entry in one
// transaction with optimistic locking on the version column.
func (s *PgRequestStore) ApplyTransition(ctx context.Context, req model.Request, entry model.StageAuditEntry) (model.Request, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Request{}, mapPgError("begin transition", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE requests SET
			status = $1,
			version = $2,
			updated_at = $3
		WHERE id = $4 AND version = $5`,
		req.Status, req.Version+1, time.Now().UTC(),
		req.ID, req.Version,
	)
	if err != nil {
		return model.Request{}, mapPgError("update request", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Request{}, model.NewConflictError(
			fmt.Sprintf("request %q version conflict (expected %d)", req.ID, req.Version),
		)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO request_stage_audit (
			id, request_id, stage, actor_id, action, comment, escalated_to, acted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New().String(), req.ID, entry.Stage, entry.ActorID,
		entry.Action, entry.Comment, entry.EscalatedTo, entry.ActedAt,
	)
	if err != nil {
		return model.Request{}, mapPgError("insert audit entry", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Request{}, mapPgError("commit transition", err)
	}

	return s.Get(ctx, req.ID)
}

// Find returns requests matching the filters, newest first.
func (s *PgRequestStore) Find(ctx context.Context, filters RequestFilters) ([]model.Request, error) {
	query := `SELECT id, kind, requester_id, department, status, payload,
	                 system_id, is_permanent, start_date, end_date,
	                 version, created_at, updated_at
	          FROM requests
	          WHERE 1 = 1`
	var args []any
	argIdx := 1

	if filters.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, filters.Kind)
		argIdx++
	}
	if len(filters.Statuses) > 0 {
		query += fmt.Sprintf(" AND status = ANY($%d)", argIdx)
		args = append(args, filters.Statuses)
		argIdx++
	}
	if filters.RequesterID != "" {
		query += fmt.Sprintf(" AND requester_id = $%d", argIdx)
		args = append(args, filters.RequesterID)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgError("query requests", err)
	}
	defer rows.Close()

	var requests []model.Request
	for rows.Next() {
		var req model.Request
		var payloadJSON []byte
		if err := rows.Scan(
			&req.ID, &req.Kind, &req.RequesterID, &req.Department, &req.Status, &payloadJSON,
			&req.SystemID, &req.IsPermanent, &req.StartDate, &req.EndDate,
			&req.Version, &req.CreatedAt, &req.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		if payloadJSON != nil {
			_ = json.Unmarshal(payloadJSON, &req.Payload)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// auditFor retrieves the stage audit trail for a request, oldest first.
func (s *PgRequestStore) auditFor(ctx context.Context, requestID string) ([]model.StageAuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stage, actor_id, action, comment, escalated_to, acted_at
		FROM request_stage_audit
		WHERE request_id = $1
		ORDER BY acted_at ASC, id ASC`,
		requestID,
	)
	if err != nil {
		return nil, mapPgError("query audit entries", err)
	}
	defer rows.Close()

	var audit []model.StageAuditEntry
	for rows.Next() {
		var entry model.StageAuditEntry
		if err := rows.Scan(
			&entry.Stage, &entry.ActorID, &entry.Action,
			&entry.Comment, &entry.EscalatedTo, &entry.ActedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		audit = append(audit, entry)
	}
	return audit, rows.Err()
}

// mapPgError converts driver errors to domain errors where a code is
// recognized: lock timeouts surface as retryable BUSY rather than opaque
// failures.
func mapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "55P03" {
		return model.NewBusyError(fmt.Sprintf("%s: row lock unavailable", op))
	}
	return fmt.Errorf("%s: %w", op, err)
}
