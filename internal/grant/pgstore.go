package grant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veropath/grantflow/model"
)

const grantColumns = `id, user_id, system_id, granted_from_request_id, granted_by,
       status, effective_from, effective_until, is_permanent,
       revoked_at, revoked_by, revocation_reason,
       scheduled_revocation_date, revocation_notification_sent,
       granted_at, updated_at, version`

// PgGrantStore is a PostgreSQL-backed GrantStore using pgx/v5. The unique
// index on granted_from_request_id is the duplicate-grant guard.
type PgGrantStore struct {
	pool *pgxpool.Pool
}

// NewPgGrantStore creates a new PostgreSQL grant store.
func NewPgGrantStore(pool *pgxpool.Pool) *PgGrantStore {
	return &PgGrantStore{pool: pool}
}

// HealthCheck verifies database connectivity.
func (s *PgGrantStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Create inserts a new grant. A unique violation on the originating request
// surfaces as DUPLICATE_GRANT.
func (s *PgGrantStore) Create(ctx context.Context, grant model.AccessGrant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO access_grants (
			id, user_id, system_id, granted_from_request_id, granted_by,
			status, effective_from, effective_until, is_permanent,
			revoked_at, revoked_by, revocation_reason,
			scheduled_revocation_date, revocation_notification_sent,
			granted_at, updated_at, version
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12,
			$13, $14,
			$15, $16, $17
		)`,
		grant.ID, grant.UserID, grant.SystemID, grant.GrantedFromRequestID, grant.GrantedBy,
		grant.Status, grant.EffectiveFrom, grant.EffectiveUntil, grant.IsPermanent,
		grant.RevokedAt, grant.RevokedBy, grant.RevocationReason,
		grant.ScheduledRevocationDate, grant.RevocationNotificationSent,
		grant.GrantedAt, grant.UpdatedAt, grant.Version,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.NewDuplicateGrantError(
				fmt.Sprintf("request %q already produced a grant", grant.GrantedFromRequestID),
			)
		}
		return mapGrantPgError("insert grant", err)
	}
	return nil
}

// Get retrieves a grant by ID.
func (s *PgGrantStore) Get(ctx context.Context, grantID string) (model.AccessGrant, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+grantColumns+" FROM access_grants WHERE id = $1",
		grantID,
	)
	grant, err := scanGrant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AccessGrant{}, model.NewNotFoundError(
			fmt.Sprintf("grant %q not found", grantID),
		)
	}
	if err != nil {
		return model.AccessGrant{}, mapGrantPgError("query grant", err)
	}
	return grant, nil
}

// GetByRequestID retrieves the grant created from the given request.
func (s *PgGrantStore) GetByRequestID(ctx context.Context, requestID string) (model.AccessGrant, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+grantColumns+" FROM access_grants WHERE granted_from_request_id = $1",
		requestID,
	)
	grant, err := scanGrant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AccessGrant{}, model.NewNotFoundError(
			fmt.Sprintf("no grant originated from request %q", requestID),
		)
	}
	if err != nil {
		return model.AccessGrant{}, mapGrantPgError("query grant by request", err)
	}
	return grant, nil
}

// Update persists grant state with optimistic locking on the version column.
func (s *PgGrantStore) Update(ctx context.Context, grant model.AccessGrant) (model.AccessGrant, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE access_grants SET
			status = $1,
			revoked_at = $2,
			revoked_by = $3,
			revocation_reason = $4,
			scheduled_revocation_date = $5,
			revocation_notification_sent = $6,
			updated_at = $7,
			version = $8
		WHERE id = $9 AND version = $10`,
		grant.Status,
		grant.RevokedAt, grant.RevokedBy, grant.RevocationReason,
		grant.ScheduledRevocationDate, grant.RevocationNotificationSent,
		time.Now().UTC(), grant.Version+1,
		grant.ID, grant.Version,
	)
	if err != nil {
		return model.AccessGrant{}, mapGrantPgError("update grant", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the grant vanished or a concurrent writer won.
		if _, gerr := s.Get(ctx, grant.ID); gerr != nil {
			return model.AccessGrant{}, gerr
		}
		return model.AccessGrant{}, model.NewConflictError(
			fmt.Sprintf("grant %q version conflict (expected %d)", grant.ID, grant.Version),
		)
	}
	return s.Get(ctx, grant.ID)
}

// FindExpiring returns non-permanent active grants past their effective
// window at the cutoff.
func (s *PgGrantStore) FindExpiring(ctx context.Context, cutoff time.Time) ([]model.AccessGrant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+grantColumns+`
		FROM access_grants
		WHERE status = $1
		  AND is_permanent = FALSE
		  AND effective_until IS NOT NULL
		  AND effective_until <= $2
		ORDER BY effective_until ASC`,
		model.GrantStatusActive, cutoff,
	)
	if err != nil {
		return nil, mapGrantPgError("query expiring grants", err)
	}
	return collectGrants(rows)
}

// FindScheduledForRevocation returns grants due for scheduled revocation at
// the cutoff.
func (s *PgGrantStore) FindScheduledForRevocation(ctx context.Context, cutoff time.Time) ([]model.AccessGrant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+grantColumns+`
		FROM access_grants
		WHERE status = $1
		  AND scheduled_revocation_date IS NOT NULL
		  AND scheduled_revocation_date <= $2
		ORDER BY scheduled_revocation_date ASC`,
		model.GrantStatusScheduledForRevocation, cutoff,
	)
	if err != nil {
		return nil, mapGrantPgError("query scheduled revocations", err)
	}
	return collectGrants(rows)
}

// Find returns grants matching the filters, newest first.
func (s *PgGrantStore) Find(ctx context.Context, filters GrantFilters) ([]model.AccessGrant, error) {
	query := "SELECT " + grantColumns + " FROM access_grants WHERE 1 = 1"
	var args []any
	argIdx := 1

	if filters.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filters.UserID)
		argIdx++
	}
	if filters.SystemID != "" {
		query += fmt.Sprintf(" AND system_id = $%d", argIdx)
		args = append(args, filters.SystemID)
		argIdx++
	}
	if len(filters.Statuses) > 0 {
		query += fmt.Sprintf(" AND status = ANY($%d)", argIdx)
		args = append(args, filters.Statuses)
		argIdx++
	}

	query += " ORDER BY granted_at DESC"

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
		return nil, mapGrantPgError("query grants", err)
	}
	return collectGrants(rows)
}

func scanGrant(row pgx.Row) (model.AccessGrant, error) {
	var grant model.AccessGrant
	err := row.Scan(
		&grant.ID, &grant.UserID, &grant.SystemID, &grant.GrantedFromRequestID, &grant.GrantedBy,
		&grant.Status, &grant.EffectiveFrom, &grant.EffectiveUntil, &grant.IsPermanent,
		&grant.RevokedAt, &grant.RevokedBy, &grant.RevocationReason,
		&grant.ScheduledRevocationDate, &grant.RevocationNotificationSent,
		&grant.GrantedAt, &grant.UpdatedAt, &grant.Version,
	)
	return grant, err
}

func collectGrants(rows pgx.Rows) ([]model.AccessGrant, error) {
	defer rows.Close()

	var grants []model.AccessGrant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

func mapGrantPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "55P03" {
		return model.NewBusyError(fmt.Sprintf("%s: row lock unavailable", op))
	}
	return fmt.Errorf("%s: %w", op, err)
}
