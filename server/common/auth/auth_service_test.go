package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse(t *testing.T) {
	s := NewService("secret", 60)
	token, err := s.GenerateToken("alice", "acme", "user")
	require.NoError(t, err)

	userID, tenantID, role, err := s.ParseAuthContext(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
	assert.Equal(t, "acme", tenantID)
	assert.Equal(t, "user", role)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := NewService("secret-a", 60).GenerateToken("alice", "acme", "user")
	require.NoError(t, err)

	_, err = NewService("secret-b", 60).ParseToken(token)
	assert.Error(t, err)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := NewService("secret", 60).ParseToken("not-a-jwt")
	assert.Error(t, err)
}
