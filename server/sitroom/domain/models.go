package domain

import (
	"encoding/json"
	"time"
)

type RoomStatus string

const (
	RoomOpen     RoomStatus = "OPEN"
	RoomResolved RoomStatus = "RESOLVED"
)

type ParticipantStatus string

const (
	ParticipantPending ParticipantStatus = "PENDING"
	ParticipantJoined  ParticipantStatus = "JOINED"
)

type EntityType string

const (
	EntityShipment      EntityType = "shipment"
	EntityPurchaseOrder EntityType = "purchase_order"
	EntitySalesOrder    EntityType = "sales_order"
)

func ValidEntityType(raw string) bool {
	switch EntityType(raw) {
	case EntityShipment, EntityPurchaseOrder, EntitySalesOrder:
		return true
	}
	return false
}

// PlaceholderToken marks an identity mapping whose remote access token has
// not been minted yet.
const PlaceholderToken = "not present"

type Participant struct {
	UserID    string            `json:"user_id"`
	RoomID    string            `json:"room_id"`
	Status    ParticipantStatus `json:"status"`
	InvitedAt time.Time         `json:"invited_at"`
	JoinedAt  *time.Time        `json:"joined_at,omitempty"`
}

type Resolution struct {
	Types      []string  `json:"resolution"`
	Remark     string    `json:"resolution_remark,omitempty"`
	ResolvedBy string    `json:"resolved_by"`
	Date       time.Time `json:"date"`
}

// ChatRoom is the local system of record for a situation room. The ID is the
// remote channel id.
type ChatRoom struct {
	ID                string
	TenantID          string
	Name              string
	Purpose           string
	Header            string
	RoomType          string
	SituationType     string
	EntityType        EntityType
	EntityIDs         []string
	Status            RoomStatus
	Resolution        *Resolution
	CreatedBy         string
	CreatedAt         time.Time
	LastModifiedAt    time.Time
	LastPostAt        *time.Time
	TotalMessageCount int
	Chats             []byte
	Contexts          []byte
	Participants      []Participant
}

func (r *ChatRoom) Participant(userID string) (Participant, bool) {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

func (r *ChatRoom) RemoveParticipant(userID string) bool {
	for i, p := range r.Participants {
		if p.UserID == userID {
			r.Participants = append(r.Participants[:i], r.Participants[i+1:]...)
			return true
		}
	}
	return false
}

type TokenMapping struct {
	TenantID       string
	AppUserID      string
	RemoteUserID   string
	Token          string
	CreatedAt      time.Time
	LastModifiedAt time.Time
}

// RoomContext is the read projection returned by room listing and lookup.
type RoomContext struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Purpose           string            `json:"purpose,omitempty"`
	Header            string            `json:"header,omitempty"`
	RoomType          string            `json:"room_type,omitempty"`
	SituationType     string            `json:"situation_type"`
	EntityType        EntityType        `json:"entity_type"`
	EntityIDs         []string          `json:"entity_ids"`
	Status            RoomStatus        `json:"status"`
	Resolution        *Resolution       `json:"resolution,omitempty"`
	CreatedBy         string            `json:"created_by"`
	CreatedAt         time.Time         `json:"created_at"`
	LastModifiedAt    time.Time         `json:"last_modified_at"`
	LastPostAt        *time.Time        `json:"last_post_at,omitempty"`
	TotalMessageCount int               `json:"total_message_count"`
	Participants      []Participant     `json:"participants"`
	Entities          []json.RawMessage `json:"entities"`
}

// BuildRoomContext projects a room onto its API view, decoding the entity
// snapshot blob captured at creation.
func BuildRoomContext(room ChatRoom) (RoomContext, error) {
	snapshots, err := DecodeArchive(room.Contexts)
	if err != nil {
		return RoomContext{}, err
	}
	entities := make([]json.RawMessage, 0, len(snapshots))
	for _, s := range snapshots {
		entities = append(entities, json.RawMessage(s))
	}
	return RoomContext{
		ID:                room.ID,
		Name:              room.Name,
		Purpose:           room.Purpose,
		Header:            room.Header,
		RoomType:          room.RoomType,
		SituationType:     room.SituationType,
		EntityType:        room.EntityType,
		EntityIDs:         room.EntityIDs,
		Status:            room.Status,
		Resolution:        room.Resolution,
		CreatedBy:         room.CreatedBy,
		CreatedAt:         room.CreatedAt,
		LastModifiedAt:    room.LastModifiedAt,
		LastPostAt:        room.LastPostAt,
		TotalMessageCount: room.TotalMessageCount,
		Participants:      room.Participants,
		Entities:          entities,
	}, nil
}
