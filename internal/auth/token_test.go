package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndVerifyReconnectToken(t *testing.T) {
	issuer, err := NewIssuer()
	require.NoError(t, err)

	token, err := issuer.CreateReconnectToken("player-123")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	playerID, err := issuer.VerifyReconnectToken(token)
	require.NoError(t, err)
	assert.Equal(t, "player-123", playerID)
}

func TestVerifyRejectsTokenFromDifferentIssuer(t *testing.T) {
	issuerA, err := NewIssuer()
	require.NoError(t, err)
	issuerB, err := NewIssuer()
	require.NoError(t, err)

	token, err := issuerA.CreateReconnectToken("player-123")
	require.NoError(t, err)

	_, err = issuerB.VerifyReconnectToken(token)
	assert.Error(t, err)
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	issuer, err := NewIssuer()
	require.NoError(t, err)

	_, err = issuer.VerifyReconnectToken("not-a-jwt")
	assert.Error(t, err)
}
