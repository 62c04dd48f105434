package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sitroom_server/server/sitroom/domain"
)

type RoomRepository struct {
	db *pgxpool.Pool
}

func NewRoomRepository(db *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{db: db}
}

const roomColumns = `room_id, tenant_id, name, purpose, header, room_type, situation_type,
	entity_type, entity_ids, status, resolution, created_by, created_at,
	last_modified_at, last_post_at, total_message_count, chats, contexts`

func (r *RoomRepository) Insert(ctx context.Context, room domain.ChatRoom) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	resolution, err := marshalResolution(room.Resolution)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO situation_rooms(`+roomColumns+`)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, room.ID, room.TenantID, room.Name, room.Purpose, room.Header, room.RoomType,
		room.SituationType, string(room.EntityType), room.EntityIDs, string(room.Status),
		resolution, room.CreatedBy, room.CreatedAt, room.LastModifiedAt, room.LastPostAt,
		room.TotalMessageCount, room.Chats, room.Contexts)
	if err != nil {
		return err
	}

	for _, p := range room.Participants {
		if _, err := tx.Exec(ctx, `
			INSERT INTO room_participants(tenant_id, room_id, user_id, status, invited_at, joined_at)
			VALUES($1, $2, $3, $4, $5, $6)
			ON CONFLICT DO NOTHING
		`, room.TenantID, room.ID, p.UserID, string(p.Status), p.InvitedAt, p.JoinedAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *RoomRepository) Get(ctx context.Context, tenantID, roomID string) (domain.ChatRoom, error) {
	room, err := r.scanRoom(ctx, r.db, tenantID, roomID, false)
	if err != nil {
		return domain.ChatRoom{}, err
	}
	room.Participants, err = r.loadParticipants(ctx, r.db, tenantID, roomID)
	if err != nil {
		return domain.ChatRoom{}, err
	}
	return room, nil
}

// Update applies mutate to the room under a row lock so every per-room
// mutation is linearizable. The participant set is rewritten from the
// mutated room.
func (r *RoomRepository) Update(ctx context.Context, tenantID, roomID string, mutate func(*domain.ChatRoom) error) (domain.ChatRoom, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.ChatRoom{}, err
	}
	defer tx.Rollback(ctx)

	room, err := r.scanRoom(ctx, tx, tenantID, roomID, true)
	if err != nil {
		return domain.ChatRoom{}, err
	}
	room.Participants, err = r.loadParticipants(ctx, tx, tenantID, roomID)
	if err != nil {
		return domain.ChatRoom{}, err
	}

	if err := mutate(&room); err != nil {
		return domain.ChatRoom{}, err
	}

	resolution, err := marshalResolution(room.Resolution)
	if err != nil {
		return domain.ChatRoom{}, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE situation_rooms
		SET name=$3, purpose=$4, header=$5, status=$6, resolution=$7,
			last_modified_at=$8, last_post_at=$9, total_message_count=$10, chats=$11
		WHERE tenant_id=$1 AND room_id=$2
	`, tenantID, roomID, room.Name, room.Purpose, room.Header, string(room.Status),
		resolution, room.LastModifiedAt, room.LastPostAt, room.TotalMessageCount, room.Chats)
	if err != nil {
		return domain.ChatRoom{}, err
	}

	keep := make([]string, 0, len(room.Participants))
	for _, p := range room.Participants {
		keep = append(keep, p.UserID)
		if _, err := tx.Exec(ctx, `
			INSERT INTO room_participants(tenant_id, room_id, user_id, status, invited_at, joined_at)
			VALUES($1, $2, $3, $4, $5, $6)
			ON CONFLICT (tenant_id, room_id, user_id)
			DO UPDATE SET status=EXCLUDED.status, joined_at=EXCLUDED.joined_at
		`, tenantID, roomID, p.UserID, string(p.Status), p.InvitedAt, p.JoinedAt); err != nil {
			return domain.ChatRoom{}, err
		}
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM room_participants
		WHERE tenant_id=$1 AND room_id=$2 AND user_id <> ALL($3)
	`, tenantID, roomID, keep); err != nil {
		return domain.ChatRoom{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ChatRoom{}, err
	}
	return room, nil
}

func (r *RoomRepository) Delete(ctx context.Context, tenantID, roomID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM situation_rooms WHERE tenant_id=$1 AND room_id=$2`, tenantID, roomID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *RoomRepository) ListByUser(ctx context.Context, tenantID, userID string) ([]domain.ChatRoom, error) {
	return r.list(ctx, tenantID, `
		SELECT `+qualifiedRoomColumns+`
		FROM situation_rooms s
		JOIN room_participants p ON p.tenant_id = s.tenant_id AND p.room_id = s.room_id
		WHERE s.tenant_id=$1 AND p.user_id=$2
		ORDER BY s.last_modified_at DESC
	`, tenantID, userID)
}

func (r *RoomRepository) ListByParticipantStatus(ctx context.Context, tenantID, userID string, status domain.ParticipantStatus) ([]domain.ChatRoom, error) {
	return r.list(ctx, tenantID, `
		SELECT `+qualifiedRoomColumns+`
		FROM situation_rooms s
		JOIN room_participants p ON p.tenant_id = s.tenant_id AND p.room_id = s.room_id
		WHERE s.tenant_id=$1 AND p.user_id=$2 AND p.status=$3
		ORDER BY s.last_modified_at DESC
	`, tenantID, userID, string(status))
}

func (r *RoomRepository) ListByRoomStatus(ctx context.Context, tenantID, userID string, status domain.RoomStatus) ([]domain.ChatRoom, error) {
	return r.list(ctx, tenantID, `
		SELECT `+qualifiedRoomColumns+`
		FROM situation_rooms s
		JOIN room_participants p ON p.tenant_id = s.tenant_id AND p.room_id = s.room_id
		WHERE s.tenant_id=$1 AND p.user_id=$2 AND s.status=$3
		ORDER BY s.last_modified_at DESC
	`, tenantID, userID, string(status))
}

const qualifiedRoomColumns = `s.room_id, s.tenant_id, s.name, s.purpose, s.header, s.room_type,
	s.situation_type, s.entity_type, s.entity_ids, s.status, s.resolution, s.created_by,
	s.created_at, s.last_modified_at, s.last_post_at, s.total_message_count, s.chats, s.contexts`

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *RoomRepository) list(ctx context.Context, tenantID, query string, args ...any) ([]domain.ChatRoom, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.ChatRoom, 0)
	for rows.Next() {
		room, err := scanRoomRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, room)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Participants, err = r.loadParticipants(ctx, r.db, tenantID, items[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (r *RoomRepository) scanRoom(ctx context.Context, q queryer, tenantID, roomID string, forUpdate bool) (domain.ChatRoom, error) {
	query := `SELECT ` + roomColumns + ` FROM situation_rooms WHERE tenant_id=$1 AND room_id=$2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	room, err := scanRoomRow(q.QueryRow(ctx, query, tenantID, roomID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ChatRoom{}, domain.ErrNotFound
		}
		return domain.ChatRoom{}, err
	}
	return room, nil
}

func scanRoomRow(row pgx.Row) (domain.ChatRoom, error) {
	var (
		room       domain.ChatRoom
		entityType string
		status     string
		resolution []byte
	)
	err := row.Scan(&room.ID, &room.TenantID, &room.Name, &room.Purpose, &room.Header,
		&room.RoomType, &room.SituationType, &entityType, &room.EntityIDs, &status,
		&resolution, &room.CreatedBy, &room.CreatedAt, &room.LastModifiedAt,
		&room.LastPostAt, &room.TotalMessageCount, &room.Chats, &room.Contexts)
	if err != nil {
		return domain.ChatRoom{}, err
	}
	room.EntityType = domain.EntityType(entityType)
	room.Status = domain.RoomStatus(status)
	if len(resolution) > 0 {
		var res domain.Resolution
		if err := json.Unmarshal(resolution, &res); err != nil {
			return domain.ChatRoom{}, fmt.Errorf("decode resolution for room %s: %w", room.ID, err)
		}
		room.Resolution = &res
	}
	return room, nil
}

func (r *RoomRepository) loadParticipants(ctx context.Context, q queryer, tenantID, roomID string) ([]domain.Participant, error) {
	rows, err := q.Query(ctx, `
		SELECT user_id, status, invited_at, joined_at
		FROM room_participants
		WHERE tenant_id=$1 AND room_id=$2
		ORDER BY invited_at, user_id
	`, tenantID, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Participant, 0)
	for rows.Next() {
		var (
			p      domain.Participant
			status string
		)
		if err := rows.Scan(&p.UserID, &status, &p.InvitedAt, &p.JoinedAt); err != nil {
			return nil, err
		}
		p.RoomID = roomID
		p.Status = domain.ParticipantStatus(status)
		items = append(items, p)
	}
	return items, rows.Err()
}

func marshalResolution(res *domain.Resolution) ([]byte, error) {
	if res == nil {
		return nil, nil
	}
	return json.Marshal(res)
}
