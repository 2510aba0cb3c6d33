// SPDX-License-Identifier: MIT

package auth

import (
	"testing"
	"time"

	"github.com/ManuGH/flockd/internal/store/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewServiceRejectsShortSecret(t *testing.T) {
	_, err := NewService(Config{Secret: "too-short"})
	assert.ErrorIs(t, err, ErrInvalidSecretLength)
}

func TestIssueAndValidate(t *testing.T) {
	s, err := NewService(Config{Secret: testSecret})
	require.NoError(t, err)

	acct := &users.Account{UserID: 9_000_000_001, Phone: "+4915112345678"}
	token, err := s.Issue(acct)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.NotEmpty(t, token.AccessToken)

	claims, err := s.Validate(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(9_000_000_001), claims.UserID)
	assert.Equal(t, "+4915112345678", claims.Phone)
	assert.Equal(t, "flockd", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestIssueAssignsUniqueTokenIDs(t *testing.T) {
	s, err := NewService(Config{Secret: testSecret})
	require.NoError(t, err)

	acct := &users.Account{UserID: 9_000_000_001}
	a, err := s.Issue(acct)
	require.NoError(t, err)
	b, err := s.Issue(acct)
	require.NoError(t, err)

	ca, err := s.Validate(a.AccessToken)
	require.NoError(t, err)
	cb, err := s.Validate(b.AccessToken)
	require.NoError(t, err)
	assert.NotEqual(t, ca.ID, cb.ID)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer, err := NewService(Config{Secret: testSecret})
	require.NoError(t, err)
	verifier, err := NewService(Config{Secret: "ffffffffffffffffffffffffffffffff"})
	require.NoError(t, err)

	token, err := issuer.Issue(&users.Account{UserID: 1})
	require.NoError(t, err)

	_, err = verifier.Validate(token.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	s, err := NewService(Config{Secret: testSecret, TokenDuration: -time.Minute})
	require.NoError(t, err)

	token, err := s.Issue(&users.Account{UserID: 1})
	require.NoError(t, err)

	_, err = s.Validate(token.AccessToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateRejectsGarbage(t *testing.T) {
	s, err := NewService(Config{Secret: testSecret})
	require.NoError(t, err)

	_, err = s.Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
