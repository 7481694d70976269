package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salesflow/config"
	"salesflow/models"
)

func TestJWTTokenRoundTrip(t *testing.T) {
	config.AppConfig.JWTSecret = "test-secret"

	user := &models.User{OrgID: 7, Email: "owner@acme.test"}
	user.ID = 42

	token, err := GenerateJWTToken(user)
	require.NoError(t, err)

	claims, err := ParseJWTToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, uint(7), claims.OrgID)
}

func TestParseJWTTokenRejectsWrongSecret(t *testing.T) {
	config.AppConfig.JWTSecret = "first-secret"
	user := &models.User{OrgID: 1}
	user.ID = 1

	token, err := GenerateJWTToken(user)
	require.NoError(t, err)

	config.AppConfig.JWTSecret = "second-secret"
	_, err = ParseJWTToken(token)
	assert.Error(t, err)
}

func TestParseJWTTokenRejectsGarbage(t *testing.T) {
	config.AppConfig.JWTSecret = "test-secret"
	_, err := ParseJWTToken("not.a.token")
	assert.Error(t, err)
}
