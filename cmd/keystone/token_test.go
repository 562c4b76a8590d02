package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "keystone/internal/jwt_token"
	"keystone/pkg/domain"
)

const testSigningKey = "cli-test-signing-key-0123456789abcdefgh"

func TestIssueToken(t *testing.T) {
	t.Setenv("KEYSTONE_AUTH_JWT_SIGNING_KEY", testSigningKey)
	member := domain.NewMemberID()

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"issue-token", "--member", member.String(), "--role", "operator"})
	require.NoError(t, root.Execute())

	principal, err := jwttoken.NewJWTService(testSigningKey, "keystone").Authenticate(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, member, principal.MemberID)
	assert.Equal(t, domain.RoleOperator, principal.Role)
}

func TestIssueTokenRejectsBadInput(t *testing.T) {
	t.Setenv("KEYSTONE_AUTH_JWT_SIGNING_KEY", testSigningKey)

	for name, args := range map[string][]string{
		"unknown role": {"issue-token", "--member", domain.NewMemberID().String(), "--role", "admin"},
		"bad member":   {"issue-token", "--member", "42"},
		"no member":    {"issue-token"},
	} {
		t.Run(name, func(t *testing.T) {
			root := newRootCommand()
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})
			root.SetArgs(args)
			assert.Error(t, root.Execute())
		})
	}
}

func TestIssueTokenNeedsSigningKey(t *testing.T) {
	t.Setenv("KEYSTONE_AUTH_JWT_SIGNING_KEY", "short")
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"issue-token", "--member", domain.NewMemberID().String()})
	assert.ErrorContains(t, root.Execute(), "at least 32 bytes")
}
