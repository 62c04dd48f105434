package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"sitroom_server/server/common/log"
	"sitroom_server/server/sitroom/domain"
)

const (
	eventRoomCreated       = "room.created"
	eventRoomResolved      = "room.resolved"
	eventRoomDeleted       = "room.deleted"
	eventParticipantJoined = "participant.joined"
	eventMessagePosted     = "message.posted"
)

type RoomService struct {
	rooms     RoomStore
	entities  EntityStore
	remote    RemoteGateway
	prov      *Provisioner
	publisher eventPublisher
	useMQ     bool
	teamID    string
}

func NewRoomService(rooms RoomStore, entities EntityStore, remote RemoteGateway, prov *Provisioner, publisher eventPublisher, useMQ bool, teamID string) *RoomService {
	return &RoomService{
		rooms:     rooms,
		entities:  entities,
		remote:    remote,
		prov:      prov,
		publisher: publisher,
		useMQ:     useMQ,
		teamID:    teamID,
	}
}

type SessionToken struct {
	Token  string `json:"token"`
	TeamID string `json:"team_id"`
}

type CreateRoomInput struct {
	Name          string
	Purpose       string
	Header        string
	RoomType      string
	SituationType string
	EntityType    string
	EntityIDs     []string
	Participants  []string
}

type ResolveInput struct {
	Types  []string
	Remark string
}

// GetSessionToken hands the caller their remote proxy token, provisioning
// the remote identity on first use.
func (s *RoomService) GetSessionToken(ctx context.Context, tenantID, userID string) (SessionToken, error) {
	mapping, err := s.prov.EnsureProvisioned(ctx, tenantID, userID)
	if err != nil {
		return SessionToken{}, err
	}
	return SessionToken{Token: mapping.Token, TeamID: s.teamID}, nil
}

func (s *RoomService) CreateRoom(ctx context.Context, tenantID, userID string, in CreateRoomInput) (map[string]any, error) {
	if err := validateCreateRoom(in); err != nil {
		return nil, err
	}

	creator, err := s.prov.EnsureProvisioned(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	body, err := s.remote.CreateChannel(ctx, creator.Token, RemoteChannel{
		TeamID:      s.teamID,
		Name:        uniqueChannelName(),
		DisplayName: in.Name,
		Purpose:     in.Purpose,
		Header:      in.Header,
		Type:        in.RoomType,
	})
	if err != nil {
		return nil, err
	}
	roomID, _ := body["id"].(string)
	if roomID == "" {
		return nil, domain.NewError(domain.CodeRemoteFailed, "chat provider returned no channel id")
	}

	snapshots := make([][]byte, 0, len(in.EntityIDs))
	for _, entityID := range in.EntityIDs {
		snapshot, err := s.entities.Get(ctx, tenantID, domain.EntityType(in.EntityType), entityID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, domain.Errorf(domain.CodeValidation, "no %s found with id %s", in.EntityType, entityID)
			}
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}

	now := time.Now()
	firstPostAt := now
	room := domain.ChatRoom{
		ID:                roomID,
		TenantID:          tenantID,
		Name:              in.Name,
		Purpose:           in.Purpose,
		Header:            in.Header,
		RoomType:          in.RoomType,
		SituationType:     in.SituationType,
		EntityType:        domain.EntityType(in.EntityType),
		EntityIDs:         in.EntityIDs,
		Status:            domain.RoomOpen,
		CreatedBy:         userID,
		CreatedAt:         now,
		LastModifiedAt:    now,
		LastPostAt:        &firstPostAt,
		TotalMessageCount: 1,
		Chats:             domain.EmptyArchive(),
		Contexts:          domain.EncodeArchive(snapshots),
		Participants:      buildParticipants(roomID, userID, in.Participants, now),
	}
	if err := s.rooms.Insert(ctx, room); err != nil {
		return nil, err
	}

	for _, invitee := range in.Participants {
		if invitee == userID {
			continue
		}
		if _, err := s.prov.EnsureProvisioned(ctx, tenantID, invitee); err != nil {
			return nil, err
		}
	}

	log.Infof("created room %s (%s) tenant=%s by=%s", roomID, in.Name, tenantID, userID)
	s.publish(ctx, tenantID, eventRoomCreated, roomID, userID)
	return body, nil
}

// buildParticipants unions invitees as PENDING with the creator JOINED; the
// creator's record wins when the invite list repeats the creator.
func buildParticipants(roomID, creator string, invitees []string, now time.Time) []domain.Participant {
	participants := make([]domain.Participant, 0, len(invitees)+1)
	seen := map[string]struct{}{creator: {}}
	joinedAt := now
	participants = append(participants, domain.Participant{
		UserID:    creator,
		RoomID:    roomID,
		Status:    domain.ParticipantJoined,
		InvitedAt: now,
		JoinedAt:  &joinedAt,
	})
	for _, u := range invitees {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		participants = append(participants, domain.Participant{
			UserID:    u,
			RoomID:    roomID,
			Status:    domain.ParticipantPending,
			InvitedAt: now,
		})
	}
	return participants
}

func (s *RoomService) GetChannels(ctx context.Context, tenantID, userID, by, roomType string) ([]domain.RoomContext, error) {
	var (
		rooms []domain.ChatRoom
		err   error
	)
	switch {
	case roomType == "":
		rooms, err = s.rooms.ListByUser(ctx, tenantID, userID)
	case by == "" || by == "user":
		rooms, err = s.rooms.ListByParticipantStatus(ctx, tenantID, userID, domain.ParticipantStatus(strings.ToUpper(roomType)))
	default:
		rooms, err = s.rooms.ListByRoomStatus(ctx, tenantID, userID, domain.RoomStatus(strings.ToUpper(roomType)))
	}
	if err != nil {
		return nil, err
	}
	contexts := make([]domain.RoomContext, 0, len(rooms))
	for _, room := range rooms {
		c, err := domain.BuildRoomContext(room)
		if err != nil {
			return nil, err
		}
		contexts = append(contexts, c)
	}
	return contexts, nil
}

func (s *RoomService) GetChannelContext(ctx context.Context, tenantID, userID, roomID string) (domain.RoomContext, error) {
	room, err := s.rooms.Get(ctx, tenantID, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.RoomContext{}, domain.Errorf(domain.CodeChannelGone, "no chat room found with id %s", roomID)
		}
		return domain.RoomContext{}, err
	}
	return domain.BuildRoomContext(room)
}

// PostMessage forwards the payload verbatim to the remote provider under the
// caller's token, then archives it locally. A remote success followed by an
// archive failure leaves the remote and local stores divergent; the error is
// surfaced and the remote post is not rolled back.
func (s *RoomService) PostMessage(ctx context.Context, tenantID, userID string, payload map[string]any) (map[string]any, error) {
	if len(payload) == 0 {
		return nil, domain.NewError(domain.CodeValidation, "invalid chat details; message payload is empty")
	}
	roomID, _ := payload["channel_id"].(string)
	if roomID == "" {
		return nil, domain.NewError(domain.CodeValidation, "invalid chat details; channel_id is missing")
	}

	room, err := s.getRoom(ctx, tenantID, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status == domain.RoomResolved {
		return nil, domain.NewError(domain.CodeConflict, "Message can't be post to a resolved room")
	}
	if err := requireJoined(room, userID); err != nil {
		return nil, err
	}

	mapping, err := s.prov.EnsureProvisioned(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	body, err := s.remote.CreatePost(ctx, mapping.Token, payload)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	_, err = s.rooms.Update(ctx, tenantID, roomID, func(r *domain.ChatRoom) error {
		chats, err := domain.AppendArchive(r.Chats, raw)
		if err != nil {
			return err
		}
		now := time.Now()
		r.Chats = chats
		r.TotalMessageCount++
		r.LastPostAt = &now
		r.LastModifiedAt = now
		return nil
	})
	if err != nil {
		log.Errorf("archive message for room %s failed: %v", roomID, err)
		return nil, err
	}

	s.publish(ctx, tenantID, eventMessagePosted, roomID, userID)
	return body, nil
}

func (s *RoomService) InviteUsers(ctx context.Context, tenantID, userID, roomID string, users []string) (map[string]any, error) {
	if roomID == "" {
		return nil, domain.NewError(domain.CodeValidation, "invalid input; specify room id")
	}
	if len(users) == 0 {
		return nil, domain.NewError(domain.CodeValidation, "invalid input; specify users to invite")
	}

	room, err := s.getRoom(ctx, tenantID, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status == domain.RoomResolved {
		return nil, domain.NewError(domain.CodeConflict, "New invitation can't be sent for a resolved room")
	}
	if err := requireJoined(room, userID); err != nil {
		return nil, err
	}

	for _, invitee := range users {
		if _, err := s.prov.EnsureProvisioned(ctx, tenantID, invitee); err != nil {
			return nil, err
		}
	}

	_, err = s.rooms.Update(ctx, tenantID, roomID, func(r *domain.ChatRoom) error {
		now := time.Now()
		for _, invitee := range users {
			if _, ok := r.Participant(invitee); ok {
				continue
			}
			r.Participants = append(r.Participants, domain.Participant{
				UserID:    invitee,
				RoomID:    roomID,
				Status:    domain.ParticipantPending,
				InvitedAt: now,
			})
		}
		r.LastModifiedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("invited %d users to room %s tenant=%s by=%s", len(users), roomID, tenantID, userID)
	return map[string]any{"Status": "Success"}, nil
}

func (s *RoomService) AcceptInvitation(ctx context.Context, tenantID, userID, roomID string) (map[string]any, error) {
	if roomID == "" {
		return nil, domain.NewError(domain.CodeValidation, "invalid input; specify room id")
	}
	room, err := s.getRoom(ctx, tenantID, roomID)
	if err != nil {
		return nil, err
	}
	participant, ok := room.Participant(userID)
	if !ok {
		return nil, domain.Errorf(domain.CodeNotMember, "user %s is not invited to room %s", userID, room.Name)
	}

	mapping, err := s.prov.EnsureProvisioned(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if participant.Status == domain.ParticipantJoined {
		return map[string]any{"channel_id": roomID, "user_id": mapping.RemoteUserID}, nil
	}

	creator, err := s.prov.EnsureProvisioned(ctx, tenantID, room.CreatedBy)
	if err != nil {
		return nil, err
	}
	body, err := s.remote.AddChannelMember(ctx, creator.Token, roomID, mapping.RemoteUserID)
	if err != nil {
		return nil, err
	}

	_, err = s.rooms.Update(ctx, tenantID, roomID, func(r *domain.ChatRoom) error {
		now := time.Now()
		for i := range r.Participants {
			if r.Participants[i].UserID != userID {
				continue
			}
			if r.Participants[i].Status == domain.ParticipantJoined {
				return nil
			}
			r.Participants[i].Status = domain.ParticipantJoined
			r.Participants[i].JoinedAt = &now
			r.TotalMessageCount++
			r.LastModifiedAt = now
			return nil
		}
		return domain.Errorf(domain.CodeNotMember, "user %s is not invited to room %s", userID, r.Name)
	})
	if err != nil {
		return nil, err
	}

	log.Infof("user %s joined room %s tenant=%s", userID, roomID, tenantID)
	s.publish(ctx, tenantID, eventParticipantJoined, roomID, userID)
	return body, nil
}

func (s *RoomService) RemoveParticipant(ctx context.Context, tenantID, callerID, roomID, targetID string) (map[string]any, error) {
	if roomID == "" {
		return nil, domain.NewError(domain.CodeValidation, "invalid input; specify room id")
	}
	if targetID == "" {
		return nil, domain.NewError(domain.CodeValidation, "invalid input; specify user to remove")
	}

	room, err := s.getRoom(ctx, tenantID, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status == domain.RoomResolved {
		return nil, domain.NewError(domain.CodeConflict, "Room is already resolved")
	}
	if err := requireJoined(room, callerID); err != nil {
		return nil, err
	}
	if targetID == room.CreatedBy {
		return nil, domain.NewError(domain.CodeUnauthorized, "Room creator can't be removed")
	}
	target, ok := room.Participant(targetID)
	if !ok {
		return nil, domain.Errorf(domain.CodeNotMember, "user %s is not part of room %s", targetID, room.Name)
	}

	// Local removal first; a remote failure afterwards leaves the record
	// gone and surfaces the error.
	_, err = s.rooms.Update(ctx, tenantID, roomID, func(r *domain.ChatRoom) error {
		if !r.RemoveParticipant(targetID) {
			return domain.Errorf(domain.CodeNotMember, "user %s is not part of room %s", targetID, r.Name)
		}
		r.LastModifiedAt = time.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if target.Status == domain.ParticipantJoined {
		caller, err := s.prov.EnsureProvisioned(ctx, tenantID, callerID)
		if err != nil {
			return nil, err
		}
		targetMapping, err := s.prov.EnsureProvisioned(ctx, tenantID, targetID)
		if err != nil {
			return nil, err
		}
		if err := s.remote.RemoveChannelMember(ctx, caller.Token, roomID, targetMapping.RemoteUserID); err != nil {
			return nil, err
		}
	}

	log.Infof("removed user %s from room %s tenant=%s by=%s", targetID, roomID, tenantID, callerID)
	return map[string]any{"Status": "Success"}, nil
}

func (s *RoomService) ResolveRoom(ctx context.Context, tenantID, userID, roomID string, in ResolveInput) (domain.RoomContext, error) {
	if roomID == "" {
		return domain.RoomContext{}, domain.NewError(domain.CodeValidation, "invalid input; specify room id")
	}
	if len(in.Types) == 0 {
		return domain.RoomContext{}, domain.NewError(domain.CodeValidation, "invalid input; specify resolution")
	}
	for _, t := range in.Types {
		if strings.TrimSpace(t) == "" {
			return domain.RoomContext{}, domain.NewError(domain.CodeValidation, "invalid input; resolution entries can't be blank")
		}
	}

	room, err := s.rooms.Get(ctx, tenantID, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.RoomContext{}, domain.Errorf(domain.CodeRoomNotFound, "no room found with id %s", roomID)
		}
		return domain.RoomContext{}, err
	}
	if room.Status == domain.RoomResolved {
		return domain.RoomContext{}, domain.NewError(domain.CodeConflict, "Room is already resolved")
	}
	if err := requireJoined(room, userID); err != nil {
		return domain.RoomContext{}, err
	}

	updated, err := s.rooms.Update(ctx, tenantID, roomID, func(r *domain.ChatRoom) error {
		if r.Status == domain.RoomResolved {
			return domain.NewError(domain.CodeConflict, "Room is already resolved")
		}
		date := time.Now()
		r.Status = domain.RoomResolved
		r.Resolution = &domain.Resolution{
			Types:      in.Types,
			Remark:     in.Remark,
			ResolvedBy: userID,
			Date:       date,
		}
		r.LastModifiedAt = date
		return nil
	})
	if err != nil {
		return domain.RoomContext{}, err
	}

	log.Infof("resolved room %s tenant=%s by=%s", roomID, tenantID, userID)
	s.publish(ctx, tenantID, eventRoomResolved, roomID, userID)
	return domain.BuildRoomContext(updated)
}

// DeleteRoom removes the local record before the remote channel. When the
// remote delete fails the local deletion stands and the remote error is
// returned.
func (s *RoomService) DeleteRoom(ctx context.Context, tenantID, userID, roomID string) (map[string]any, error) {
	if roomID == "" {
		return nil, domain.NewError(domain.CodeValidation, "invalid input; specify room id")
	}
	room, err := s.rooms.Get(ctx, tenantID, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Errorf(domain.CodeRoomNotFound, "no room found with id %s", roomID)
		}
		return nil, err
	}
	if room.CreatedBy != userID {
		return nil, domain.NewError(domain.CodeUnauthorized, "Room can only be removed by Creator")
	}

	mapping, err := s.prov.EnsureProvisioned(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.rooms.Delete(ctx, tenantID, roomID); err != nil {
		return nil, err
	}

	body, err := s.remote.DeleteChannel(ctx, mapping.Token, roomID)
	if err != nil {
		log.Errorf("remote delete for room %s failed after local removal: %v", roomID, err)
		return nil, err
	}
	if body == nil {
		body = map[string]any{}
	}
	body["deletedRoomId"] = roomID

	log.Infof("deleted room %s tenant=%s by=%s", roomID, tenantID, userID)
	s.publish(ctx, tenantID, eventRoomDeleted, roomID, userID)
	return body, nil
}

// GetUnreadCounts aggregates per-room unread counts from the remote
// provider. Failures for individual rooms are logged and skipped.
func (s *RoomService) GetUnreadCounts(ctx context.Context, tenantID, userID string) ([]map[string]any, error) {
	mapping, err := s.prov.tokens.Find(ctx, tenantID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return []map[string]any{}, nil
		}
		return nil, err
	}

	rooms, err := s.rooms.ListByParticipantStatus(ctx, tenantID, userID, domain.ParticipantJoined)
	if err != nil {
		return nil, err
	}
	counts := make([]map[string]any, 0, len(rooms))
	for _, room := range rooms {
		body, err := s.remote.UnreadCount(ctx, mapping.Token, mapping.RemoteUserID, room.ID)
		if err != nil {
			log.Warnf("unread count for room %s skipped: %v", room.ID, err)
			continue
		}
		counts = append(counts, body)
	}
	return counts, nil
}

func (s *RoomService) getRoom(ctx context.Context, tenantID, roomID string) (domain.ChatRoom, error) {
	room, err := s.rooms.Get(ctx, tenantID, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ChatRoom{}, domain.Errorf(domain.CodeInvalidRoom, "invalid room %s", roomID)
		}
		return domain.ChatRoom{}, err
	}
	return room, nil
}

func requireJoined(room domain.ChatRoom, userID string) error {
	p, ok := room.Participant(userID)
	if !ok {
		return domain.Errorf(domain.CodeNotMember, "You are not part of %s room", room.Name)
	}
	if p.Status != domain.ParticipantJoined {
		return domain.Errorf(domain.CodeUnauthorized, "user %s has not joined room %s", userID, room.Name)
	}
	return nil
}

func (s *RoomService) publish(ctx context.Context, tenantID, key, roomID, userID string) {
	if !s.useMQ || s.publisher == nil {
		return
	}
	_ = s.publisher.Publish(ctx, tenantID, key, RoomEvent{
		ID:       newEventID(),
		Type:     key,
		TenantID: tenantID,
		RoomID:   roomID,
		UserID:   userID,
		At:       time.Now(),
	})
}

func validateCreateRoom(in CreateRoomInput) error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return domain.NewError(domain.CodeValidation, "invalid input; specify room name")
	case strings.TrimSpace(in.Purpose) == "":
		return domain.NewError(domain.CodeValidation, "invalid input; specify room purpose")
	case strings.TrimSpace(in.SituationType) == "":
		return domain.NewError(domain.CodeValidation, "invalid input; specify situation type")
	case len(in.EntityIDs) == 0:
		return domain.NewError(domain.CodeValidation, "invalid input; specify objects to discuss")
	case len(in.Participants) == 0:
		return domain.NewError(domain.CodeValidation, "invalid input; specify participants")
	case !domain.ValidEntityType(in.EntityType):
		return domain.Errorf(domain.CodeValidation, "unsupported entity type %q", in.EntityType)
	}
	return nil
}
