package service

import (
	"context"
	"encoding/json"
	"time"

	"sitroom_server/server/sitroom/domain"
)

// RoomStore is the system of record for rooms. Update must apply the
// mutation atomically with respect to any other mutation of the same room.
type RoomStore interface {
	Insert(ctx context.Context, room domain.ChatRoom) error
	Get(ctx context.Context, tenantID, roomID string) (domain.ChatRoom, error)
	Update(ctx context.Context, tenantID, roomID string, mutate func(*domain.ChatRoom) error) (domain.ChatRoom, error)
	Delete(ctx context.Context, tenantID, roomID string) error
	ListByUser(ctx context.Context, tenantID, userID string) ([]domain.ChatRoom, error)
	ListByParticipantStatus(ctx context.Context, tenantID, userID string, status domain.ParticipantStatus) ([]domain.ChatRoom, error)
	ListByRoomStatus(ctx context.Context, tenantID, userID string, status domain.RoomStatus) ([]domain.ChatRoom, error)
}

type TokenStore interface {
	Find(ctx context.Context, tenantID, appUserID string) (domain.TokenMapping, error)
	Insert(ctx context.Context, m domain.TokenMapping) error
	SaveToken(ctx context.Context, tenantID, appUserID, token string, at time.Time) error
}

type EntityStore interface {
	Get(ctx context.Context, tenantID string, entityType domain.EntityType, entityID string) (json.RawMessage, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, tenantID, key string, payload any) error
}
