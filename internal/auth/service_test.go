package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-control"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewService("tradeguard", []byte("jwt-signing-key"), time.Minute, string(hash))
}

func TestLoginRoundTrip(t *testing.T) {
	svc := newTestService(t)

	token, err := svc.Login("s3cret-control")
	require.NoError(t, err)

	subject, err := svc.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", subject)
}

func TestLoginRejectsWrongToken(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Login("wrong")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Login("")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsForeignIssuer(t *testing.T) {
	svc := newTestService(t)
	other := NewService("someone-else", []byte("jwt-signing-key"), time.Minute, "")

	token, err := other.signToken("operator")
	require.NoError(t, err)

	_, err = svc.ParseToken(token)
	require.Error(t, err)
}
