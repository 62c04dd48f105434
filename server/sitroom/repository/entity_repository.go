package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sitroom_server/server/sitroom/domain"
)

// EntityRepository reads business object snapshots (shipments, purchase
// orders, sales orders) that rooms capture as discussion context.
type EntityRepository struct {
	db *pgxpool.Pool
}

func NewEntityRepository(db *pgxpool.Pool) *EntityRepository {
	return &EntityRepository{db: db}
}

func (r *EntityRepository) Get(ctx context.Context, tenantID string, entityType domain.EntityType, entityID string) (json.RawMessage, error) {
	var payload []byte
	err := r.db.QueryRow(ctx, `
		SELECT payload
		FROM business_objects
		WHERE tenant_id=$1 AND entity_type=$2 AND entity_id=$3
	`, tenantID, string(entityType), entityID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return payload, nil
}
