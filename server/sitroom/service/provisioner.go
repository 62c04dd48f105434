package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"sitroom_server/server/common/log"
	"sitroom_server/server/sitroom/domain"
)

const (
	maxRemoteUsernameLength = 22
	remoteUserEmailDomain   = "@test.com"
	remoteUserPassword      = "dummy1234"
	remoteUserRoles         = "team_user channel_admin channel_user system_user_access_token"
	tokenDescription        = "situation room access"
)

// Provisioner lazily creates remote chat identities for application users.
// A user is provisioned at most once; concurrent callers race on the token
// mapping's unique key and the losers reuse the winner's mapping.
type Provisioner struct {
	tokens TokenStore
	remote RemoteGateway
	teamID string
}

func NewProvisioner(tokens TokenStore, remote RemoteGateway, teamID string) *Provisioner {
	return &Provisioner{tokens: tokens, remote: remote, teamID: teamID}
}

func (p *Provisioner) EnsureProvisioned(ctx context.Context, tenantID, userID string) (domain.TokenMapping, error) {
	mapping, err := p.tokens.Find(ctx, tenantID, userID)
	if err == nil {
		return mapping, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.TokenMapping{}, err
	}

	log.Infof("provisioning remote identity tenant=%s user=%s", tenantID, userID)
	username := RemoteUsername(userID)
	remoteUserID, err := p.remote.CreateUser(ctx, RemoteUser{
		Username: username,
		Email:    username + remoteUserEmailDomain,
		Password: remoteUserPassword,
	})
	if err != nil {
		return domain.TokenMapping{}, domain.WrapError(domain.CodeProvisioning, "create remote user for "+userID, err)
	}
	if err := p.remote.SetUserRoles(ctx, remoteUserID, remoteUserRoles); err != nil {
		return domain.TokenMapping{}, domain.WrapError(domain.CodeProvisioning, "assign roles to remote user for "+userID, err)
	}

	now := time.Now()
	mapping = domain.TokenMapping{
		TenantID:       tenantID,
		AppUserID:      userID,
		RemoteUserID:   remoteUserID,
		Token:          domain.PlaceholderToken,
		CreatedAt:      now,
		LastModifiedAt: now,
	}
	if err := p.tokens.Insert(ctx, mapping); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			log.Warnf("remote identity already claimed tenant=%s user=%s", tenantID, userID)
			return p.tokens.Find(ctx, tenantID, userID)
		}
		return domain.TokenMapping{}, err
	}

	token, err := p.remote.CreateUserToken(ctx, remoteUserID, tokenDescription)
	if err != nil {
		return domain.TokenMapping{}, domain.WrapError(domain.CodeProvisioning, "mint access token for "+userID, err)
	}
	if err := p.tokens.SaveToken(ctx, tenantID, userID, token, time.Now()); err != nil {
		return domain.TokenMapping{}, err
	}
	mapping.Token = token

	if err := p.remote.AddTeamMember(ctx, p.teamID, remoteUserID); err != nil {
		return domain.TokenMapping{}, domain.WrapError(domain.CodeProvisioning, "join team for "+userID, err)
	}
	log.Infof("provisioned remote identity tenant=%s user=%s remote=%s", tenantID, userID, remoteUserID)
	return mapping, nil
}

// RemoteUsername derives the provider-side username: lowercased, restricted
// to [a-z0-9._-], truncated to the provider's length limit.
func RemoteUsername(userID string) string {
	lowered := strings.ToLower(userID)
	var b strings.Builder
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	username := b.String()
	if len(username) > maxRemoteUsernameLength {
		username = username[:maxRemoteUsernameLength]
	}
	return username
}
