package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"sitroom_server/server/sitroom/domain"
)

type memRoomStore struct {
	mu    sync.Mutex
	rooms map[string]domain.ChatRoom
}

func newMemRoomStore() *memRoomStore {
	return &memRoomStore{rooms: map[string]domain.ChatRoom{}}
}

func roomKey(tenantID, roomID string) string {
	return tenantID + "/" + roomID
}

func cloneRoom(room domain.ChatRoom) domain.ChatRoom {
	out := room
	out.EntityIDs = append([]string(nil), room.EntityIDs...)
	out.Chats = append([]byte(nil), room.Chats...)
	out.Contexts = append([]byte(nil), room.Contexts...)
	out.Participants = append([]domain.Participant(nil), room.Participants...)
	if room.Resolution != nil {
		res := *room.Resolution
		res.Types = append([]string(nil), room.Resolution.Types...)
		out.Resolution = &res
	}
	return out
}

func (s *memRoomStore) Insert(_ context.Context, room domain.ChatRoom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := roomKey(room.TenantID, room.ID)
	if _, ok := s.rooms[key]; ok {
		return domain.ErrDuplicate
	}
	s.rooms[key] = cloneRoom(room)
	return nil
}

func (s *memRoomStore) Get(_ context.Context, tenantID, roomID string) (domain.ChatRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomKey(tenantID, roomID)]
	if !ok {
		return domain.ChatRoom{}, domain.ErrNotFound
	}
	return cloneRoom(room), nil
}

func (s *memRoomStore) Update(_ context.Context, tenantID, roomID string, mutate func(*domain.ChatRoom) error) (domain.ChatRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomKey(tenantID, roomID)]
	if !ok {
		return domain.ChatRoom{}, domain.ErrNotFound
	}
	clone := cloneRoom(room)
	if err := mutate(&clone); err != nil {
		return domain.ChatRoom{}, err
	}
	s.rooms[roomKey(tenantID, roomID)] = cloneRoom(clone)
	return clone, nil
}

func (s *memRoomStore) Delete(_ context.Context, tenantID, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := roomKey(tenantID, roomID)
	if _, ok := s.rooms[key]; !ok {
		return domain.ErrNotFound
	}
	delete(s.rooms, key)
	return nil
}

func (s *memRoomStore) ListByUser(_ context.Context, tenantID, userID string) ([]domain.ChatRoom, error) {
	return s.listWhere(tenantID, func(room domain.ChatRoom) bool {
		_, ok := room.Participant(userID)
		return ok
	}), nil
}

func (s *memRoomStore) ListByParticipantStatus(_ context.Context, tenantID, userID string, status domain.ParticipantStatus) ([]domain.ChatRoom, error) {
	return s.listWhere(tenantID, func(room domain.ChatRoom) bool {
		p, ok := room.Participant(userID)
		return ok && p.Status == status
	}), nil
}

func (s *memRoomStore) ListByRoomStatus(_ context.Context, tenantID, userID string, status domain.RoomStatus) ([]domain.ChatRoom, error) {
	return s.listWhere(tenantID, func(room domain.ChatRoom) bool {
		_, ok := room.Participant(userID)
		return ok && room.Status == status
	}), nil
}

func (s *memRoomStore) listWhere(tenantID string, match func(domain.ChatRoom) bool) []domain.ChatRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]domain.ChatRoom, 0)
	for _, room := range s.rooms {
		if room.TenantID == tenantID && match(room) {
			items = append(items, cloneRoom(room))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].LastModifiedAt.After(items[j].LastModifiedAt)
	})
	return items
}

type memTokenStore struct {
	mu       sync.Mutex
	mappings map[string]domain.TokenMapping
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{mappings: map[string]domain.TokenMapping{}}
}

func (s *memTokenStore) Find(_ context.Context, tenantID, appUserID string) (domain.TokenMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[tenantID+"/"+appUserID]
	if !ok {
		return domain.TokenMapping{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memTokenStore) Insert(_ context.Context, m domain.TokenMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := m.TenantID + "/" + m.AppUserID
	if _, ok := s.mappings[key]; ok {
		return domain.ErrDuplicate
	}
	s.mappings[key] = m
	return nil
}

func (s *memTokenStore) SaveToken(_ context.Context, tenantID, appUserID, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tenantID + "/" + appUserID
	m, ok := s.mappings[key]
	if !ok {
		return domain.ErrNotFound
	}
	m.Token = token
	m.LastModifiedAt = at
	s.mappings[key] = m
	return nil
}

type memEntityStore struct {
	objects map[string]json.RawMessage
}

func newMemEntityStore() *memEntityStore {
	return &memEntityStore{objects: map[string]json.RawMessage{}}
}

func (s *memEntityStore) put(tenantID string, entityType domain.EntityType, entityID string, payload string) {
	s.objects[tenantID+"/"+string(entityType)+"/"+entityID] = json.RawMessage(payload)
}

func (s *memEntityStore) Get(_ context.Context, tenantID string, entityType domain.EntityType, entityID string) (json.RawMessage, error) {
	payload, ok := s.objects[tenantID+"/"+string(entityType)+"/"+entityID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return payload, nil
}

type remoteCall struct {
	op       string
	token    string
	channel  string
	userID   string
	teamID   string
	payload  map[string]any
	chReq    RemoteChannel
	userReq  RemoteUser
	rolesReq string
}

type fakeRemote struct {
	mu    sync.Mutex
	calls []remoteCall

	nextChannelID string

	failCreateUser   error
	failCreateToken  error
	failAddToTeam    error
	failSetRoles     error
	failCreateChan   error
	failDeleteChan   error
	failAddMember    error
	failRemoveMember error
	failPost         error
	failUnreadFor    map[string]error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{nextChannelID: "chan-1", failUnreadFor: map[string]error{}}
}

func (f *fakeRemote) record(call remoteCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeRemote) callsFor(op string) []remoteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]remoteCall, 0)
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRemote) CreateUser(_ context.Context, user RemoteUser) (string, error) {
	if f.failCreateUser != nil {
		return "", f.failCreateUser
	}
	f.record(remoteCall{op: "createUser", userReq: user})
	return "remote-" + user.Username, nil
}

func (f *fakeRemote) SetUserRoles(_ context.Context, remoteUserID, roles string) error {
	if f.failSetRoles != nil {
		return f.failSetRoles
	}
	f.record(remoteCall{op: "setRoles", userID: remoteUserID, rolesReq: roles})
	return nil
}

func (f *fakeRemote) CreateUserToken(_ context.Context, remoteUserID, description string) (string, error) {
	if f.failCreateToken != nil {
		return "", f.failCreateToken
	}
	f.record(remoteCall{op: "createToken", userID: remoteUserID})
	return "token-" + remoteUserID, nil
}

func (f *fakeRemote) AddTeamMember(_ context.Context, teamID, remoteUserID string) error {
	if f.failAddToTeam != nil {
		return f.failAddToTeam
	}
	f.record(remoteCall{op: "addTeamMember", teamID: teamID, userID: remoteUserID})
	return nil
}

func (f *fakeRemote) CreateChannel(_ context.Context, token string, ch RemoteChannel) (map[string]any, error) {
	if f.failCreateChan != nil {
		return nil, f.failCreateChan
	}
	f.record(remoteCall{op: "createChannel", token: token, chReq: ch})
	return map[string]any{"id": f.nextChannelID, "display_name": ch.DisplayName}, nil
}

func (f *fakeRemote) DeleteChannel(_ context.Context, token, channelID string) (map[string]any, error) {
	if f.failDeleteChan != nil {
		return nil, f.failDeleteChan
	}
	f.record(remoteCall{op: "deleteChannel", token: token, channel: channelID})
	return map[string]any{"status": "OK"}, nil
}

func (f *fakeRemote) AddChannelMember(_ context.Context, token, channelID, remoteUserID string) (map[string]any, error) {
	if f.failAddMember != nil {
		return nil, f.failAddMember
	}
	f.record(remoteCall{op: "addChannelMember", token: token, channel: channelID, userID: remoteUserID})
	return map[string]any{"channel_id": channelID, "user_id": remoteUserID}, nil
}

func (f *fakeRemote) RemoveChannelMember(_ context.Context, token, channelID, remoteUserID string) error {
	if f.failRemoveMember != nil {
		return f.failRemoveMember
	}
	f.record(remoteCall{op: "removeChannelMember", token: token, channel: channelID, userID: remoteUserID})
	return nil
}

func (f *fakeRemote) CreatePost(_ context.Context, token string, post map[string]any) (map[string]any, error) {
	if f.failPost != nil {
		return nil, f.failPost
	}
	f.record(remoteCall{op: "createPost", token: token, payload: post})
	return map[string]any{"id": "post-1"}, nil
}

func (f *fakeRemote) UnreadCount(_ context.Context, token, remoteUserID, channelID string) (map[string]any, error) {
	if err, ok := f.failUnreadFor[channelID]; ok {
		return nil, err
	}
	f.record(remoteCall{op: "unreadCount", token: token, channel: channelID, userID: remoteUserID})
	return map[string]any{"channel_id": channelID, "msg_count": float64(3)}, nil
}

type memPublisher struct {
	mu     sync.Mutex
	events []RoomEvent
}

func (p *memPublisher) Publish(_ context.Context, _ string, _ string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if evt, ok := payload.(RoomEvent); ok {
		p.events = append(p.events, evt)
	}
	return nil
}

func (p *memPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	rooms    *memRoomStore
	tokens   *memTokenStore
	entities *memEntityStore
	remote   *fakeRemote
	pub      *memPublisher
	svc      *RoomService
}

func newFixture() *fixture {
	rooms := newMemRoomStore()
	tokens := newMemTokenStore()
	entities := newMemEntityStore()
	remote := newFakeRemote()
	pub := &memPublisher{}
	prov := NewProvisioner(tokens, remote, "team-1")
	svc := NewRoomService(rooms, entities, remote, prov, pub, true, "team-1")
	return &fixture{rooms: rooms, tokens: tokens, entities: entities, remote: remote, pub: pub, svc: svc}
}
