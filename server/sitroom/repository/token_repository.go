package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sitroom_server/server/common/infra/db"
	"sitroom_server/server/sitroom/domain"
)

type TokenRepository struct {
	db *pgxpool.Pool
}

func NewTokenRepository(db *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) Find(ctx context.Context, tenantID, appUserID string) (domain.TokenMapping, error) {
	var m domain.TokenMapping
	err := r.db.QueryRow(ctx, `
		SELECT tenant_id, app_user_id, remote_user_id, token, created_at, last_modified_at
		FROM remote_identities
		WHERE tenant_id=$1 AND app_user_id=$2
	`, tenantID, appUserID).Scan(&m.TenantID, &m.AppUserID, &m.RemoteUserID, &m.Token, &m.CreatedAt, &m.LastModifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TokenMapping{}, domain.ErrNotFound
		}
		return domain.TokenMapping{}, err
	}
	return m, nil
}

// Insert fails with domain.ErrDuplicate when a mapping for the same app user
// already exists; the unique constraint is what makes provisioning races
// resolve to a single winner.
func (r *TokenRepository) Insert(ctx context.Context, m domain.TokenMapping) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO remote_identities(tenant_id, app_user_id, remote_user_id, token, created_at, last_modified_at)
		VALUES($1, $2, $3, $4, $5, $6)
	`, m.TenantID, m.AppUserID, m.RemoteUserID, m.Token, m.CreatedAt, m.LastModifiedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *TokenRepository) SaveToken(ctx context.Context, tenantID, appUserID, token string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE remote_identities
		SET token=$3, last_modified_at=$4
		WHERE tenant_id=$1 AND app_user_id=$2
	`, tenantID, appUserID, token, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
