package account

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
	"github.com/mindhub-health/gateway-core/pkg/policy"
)

// tracerName is the OpenTelemetry instrumentation scope for account
// store spans.
const tracerName = "github.com/mindhub-health/gateway-core/pkg/account"

// Pool is the subset of pgx pool operations the account store needs.
// Satisfied by [*pgxpool.Pool] and by pgxmock for unit testing.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Compile-time interface compliance check.
var _ Pool = (*pgxpool.Pool)(nil)

// accountColumns is the scan column list shared by every account query.
const accountColumns = `id, external_subject_id, email, display_name, role, active, created_at, updated_at, last_seen_at`

// findOrCreateSQL performs the idempotent find-or-create. Racing calls
// for the same subject both hit the unique index on external_subject_id;
// the loser's INSERT converts to the UPDATE arm, so both return the same
// row. The update arm deliberately never touches role or active: profile
// refresh must not alter privilege or reactivate an account.
const findOrCreateSQL = `
INSERT INTO accounts (id, external_subject_id, email, display_name, role, active, created_at, updated_at, last_seen_at)
VALUES ($1, $2, $3, $4, $5, TRUE, NOW(), NOW(), NOW())
ON CONFLICT (external_subject_id) DO UPDATE
SET email = EXCLUDED.email,
    display_name = EXCLUDED.display_name,
    updated_at = NOW(),
    last_seen_at = NOW()
RETURNING ` + accountColumns

const getByIDSQL = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

const setRoleSQL = `UPDATE accounts SET role = $2, updated_at = NOW() WHERE id = $1`

const deactivateSQL = `UPDATE accounts SET active = FALSE, updated_at = NOW() WHERE id = $1`

const roleForSQL = `SELECT role FROM accounts WHERE id = $1`

// PGStore is the PostgreSQL-backed account store. It implements [Store]
// and [PrivilegeStore] and is safe for concurrent use by multiple
// goroutines.
type PGStore struct {
	pool   Pool
	tracer trace.Tracer
}

var (
	_ Store          = (*PGStore)(nil)
	_ PrivilegeStore = (*PGStore)(nil)
)

// NewPGStore creates a PostgreSQL account store from a [Pool]. Pass
// [*pgxpool.Pool] in production or a pgxmock pool in tests.
func NewPGStore(pool Pool) *PGStore {
	return &PGStore{
		pool:   pool,
		tracer: otel.Tracer(tracerName),
	}
}

// FindOrCreate implements [Store].
func (s *PGStore) FindOrCreate(ctx context.Context, ext ExternalIdentity) (*Account, error) {
	ctx, span := s.startSpan(ctx, "FindOrCreate")
	defer span.End()

	if ext.SubjectID == "" {
		err := sserr.New(sserr.CodeValidationRequired,
			"account: external subject ID must not be empty")
		recordSpanError(span, err)
		return nil, err
	}

	row := s.pool.QueryRow(ctx, findOrCreateSQL,
		uuid.New(), ext.SubjectID, ext.Email, ext.DisplayName, string(policy.RolePatient))
	acct, err := scanAccount(row)
	if err != nil {
		wrapped := wrapDBError(err, "account: find-or-create failed")
		recordSpanError(span, wrapped)
		return nil, wrapped
	}

	span.SetAttributes(attribute.String("account.id", acct.ID.String()))
	return acct, nil
}

// GetByID implements [Store].
func (s *PGStore) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	ctx, span := s.startSpan(ctx, "GetByID")
	defer span.End()

	acct, err := scanAccount(s.pool.QueryRow(ctx, getByIDSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			nf := sserr.Newf(sserr.CodeNotFoundAccount, "account: no account with id %s", id)
			recordSpanError(span, nf)
			return nil, nf
		}
		wrapped := wrapDBError(err, "account: lookup failed")
		recordSpanError(span, wrapped)
		return nil, wrapped
	}
	return acct, nil
}

// SetRole implements [Store].
func (s *PGStore) SetRole(ctx context.Context, id uuid.UUID, role policy.Role) error {
	ctx, span := s.startSpan(ctx, "SetRole")
	defer span.End()

	if !role.Valid() {
		err := sserr.Newf(sserr.CodeValidation, "account: unknown role %q", role)
		recordSpanError(span, err)
		return err
	}

	tag, err := s.pool.Exec(ctx, setRoleSQL, id, string(role))
	if err != nil {
		wrapped := wrapDBError(err, "account: role update failed")
		recordSpanError(span, wrapped)
		return wrapped
	}
	if tag.RowsAffected() == 0 {
		nf := sserr.Newf(sserr.CodeNotFoundAccount, "account: no account with id %s", id)
		recordSpanError(span, nf)
		return nf
	}
	return nil
}

// Deactivate implements [Store].
func (s *PGStore) Deactivate(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.startSpan(ctx, "Deactivate")
	defer span.End()

	tag, err := s.pool.Exec(ctx, deactivateSQL, id)
	if err != nil {
		wrapped := wrapDBError(err, "account: deactivation failed")
		recordSpanError(span, wrapped)
		return wrapped
	}
	if tag.RowsAffected() == 0 {
		nf := sserr.Newf(sserr.CodeNotFoundAccount, "account: no account with id %s", id)
		recordSpanError(span, nf)
		return nf
	}
	return nil
}

// RoleFor implements [PrivilegeStore].
func (s *PGStore) RoleFor(ctx context.Context, id uuid.UUID) (policy.Role, error) {
	ctx, span := s.startSpan(ctx, "RoleFor")
	defer span.End()

	var role string
	if err := s.pool.QueryRow(ctx, roleForSQL, id).Scan(&role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			nf := sserr.Newf(sserr.CodeNotFoundAccount, "account: no account with id %s", id)
			recordSpanError(span, nf)
			return "", nf
		}
		wrapped := wrapDBError(err, "account: role lookup failed")
		recordSpanError(span, wrapped)
		return "", wrapped
	}
	return policy.ParseRole(role), nil
}

// scanAccount scans one account row.
func scanAccount(row pgx.Row) (*Account, error) {
	var acct Account
	var role string
	err := row.Scan(
		&acct.ID,
		&acct.ExternalSubjectID,
		&acct.Email,
		&acct.DisplayName,
		&role,
		&acct.Active,
		&acct.CreatedAt,
		&acct.UpdatedAt,
		&acct.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}
	acct.Role = policy.ParseRole(role)
	return &acct, nil
}

// startSpan creates a span with database semantic attributes.
func (s *PGStore) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "account."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(attribute.String("db.system", "postgresql"))
	return ctx, span
}

// recordSpanError records an error on the span and sets Error status.
func recordSpanError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// wrapDBError converts a database error to a platform error, keeping
// timeouts distinguishable for retry decisions.
func wrapDBError(err error, message string) *sserr.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return sserr.Wrap(err, sserr.CodeTimeout, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}
