package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sitroom_server/server/sitroom/domain"
)

const remoteAPIBase = "/api/v4"

const defaultRemoteTimeout = 15 * time.Second

// RemoteGateway is the outbound surface of the external chat provider.
type RemoteGateway interface {
	CreateUser(ctx context.Context, user RemoteUser) (string, error)
	SetUserRoles(ctx context.Context, remoteUserID, roles string) error
	CreateUserToken(ctx context.Context, remoteUserID, description string) (string, error)
	AddTeamMember(ctx context.Context, teamID, remoteUserID string) error
	CreateChannel(ctx context.Context, token string, ch RemoteChannel) (map[string]any, error)
	DeleteChannel(ctx context.Context, token, channelID string) (map[string]any, error)
	AddChannelMember(ctx context.Context, token, channelID, remoteUserID string) (map[string]any, error)
	RemoveChannelMember(ctx context.Context, token, channelID, remoteUserID string) error
	CreatePost(ctx context.Context, token string, post map[string]any) (map[string]any, error)
	UnreadCount(ctx context.Context, token, remoteUserID, channelID string) (map[string]any, error)
}

type RemoteUser struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RemoteChannel struct {
	TeamID      string `json:"team_id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Purpose     string `json:"purpose,omitempty"`
	Header      string `json:"header,omitempty"`
	Type        string `json:"type"`
}

// ChatProviderClient talks to the remote chat provider's REST API. User
// management calls use the admin token; everything else runs under the token
// passed per call.
type ChatProviderClient struct {
	baseURL    string
	adminToken string
	http       *http.Client
}

func NewChatProviderClient(baseURL, adminToken string) *ChatProviderClient {
	return &ChatProviderClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		adminToken: adminToken,
		http:       &http.Client{Timeout: defaultRemoteTimeout},
	}
}

func (c *ChatProviderClient) CreateUser(ctx context.Context, user RemoteUser) (string, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodPost, "/users", c.adminToken, user, &out); err != nil {
		return "", err
	}
	id, _ := out["id"].(string)
	if id == "" {
		return "", domain.NewError(domain.CodeRemoteFailed, "chat provider returned no user id")
	}
	return id, nil
}

func (c *ChatProviderClient) SetUserRoles(ctx context.Context, remoteUserID, roles string) error {
	payload := map[string]string{"roles": roles}
	return c.do(ctx, http.MethodPut, "/users/"+remoteUserID+"/roles", c.adminToken, payload, nil)
}

func (c *ChatProviderClient) CreateUserToken(ctx context.Context, remoteUserID, description string) (string, error) {
	payload := map[string]string{"description": description}
	var out map[string]any
	if err := c.do(ctx, http.MethodPost, "/users/"+remoteUserID+"/tokens", c.adminToken, payload, &out); err != nil {
		return "", err
	}
	token, _ := out["token"].(string)
	if token == "" {
		return "", domain.NewError(domain.CodeRemoteFailed, "chat provider returned no access token")
	}
	return token, nil
}

func (c *ChatProviderClient) AddTeamMember(ctx context.Context, teamID, remoteUserID string) error {
	payload := map[string]string{"team_id": teamID, "user_id": remoteUserID}
	return c.do(ctx, http.MethodPost, "/teams/"+teamID+"/members", c.adminToken, payload, nil)
}

func (c *ChatProviderClient) CreateChannel(ctx context.Context, token string, ch RemoteChannel) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodPost, "/channels", token, ch, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ChatProviderClient) DeleteChannel(ctx context.Context, token, channelID string) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodDelete, "/channels/"+channelID, token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ChatProviderClient) AddChannelMember(ctx context.Context, token, channelID, remoteUserID string) (map[string]any, error) {
	payload := map[string]string{"user_id": remoteUserID}
	var out map[string]any
	if err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/members", token, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ChatProviderClient) RemoveChannelMember(ctx context.Context, token, channelID, remoteUserID string) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+channelID+"/members/"+remoteUserID, token, nil, nil)
}

func (c *ChatProviderClient) CreatePost(ctx context.Context, token string, post map[string]any) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodPost, "/posts", token, post, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ChatProviderClient) UnreadCount(ctx context.Context, token, remoteUserID, channelID string) (map[string]any, error) {
	var out map[string]any
	path := "/users/" + remoteUserID + "/channels/" + channelID + "/unread"
	if err := c.do(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ChatProviderClient) do(ctx context.Context, method, path, token string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+remoteAPIBase+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.WrapError(domain.CodeRemoteFailed, fmt.Sprintf("chat provider request %s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := strings.TrimSpace(string(raw))
		if message == "" {
			message = fmt.Sprintf("chat provider returned status %d for %s %s", resp.StatusCode, method, path)
		}
		return domain.NewError(domain.CodeRemoteFailed, message)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return domain.WrapError(domain.CodeRemoteFailed, fmt.Sprintf("decode chat provider response for %s %s", method, path), err)
		}
	}
	return nil
}
