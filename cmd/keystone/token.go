package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	jwttoken "keystone/internal/jwt_token"
	"keystone/pkg/domain"
)

func issueTokenCommand(a *app) *cobra.Command {
	var (
		member string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Sign an access token for a member, for operators and local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(a.cfg.Auth.JWTSigningKey) < 32 {
				return errors.New("KEYSTONE_AUTH_JWT_SIGNING_KEY must be at least 32 bytes")
			}
			id, err := domain.ParseMemberID(member)
			if err != nil {
				return err
			}
			r, err := domain.ParseRole(strings.ToUpper(role))
			if err != nil {
				return err
			}
			token, err := jwttoken.NewJWTService(a.cfg.Auth.JWTSigningKey, a.cfg.Auth.Issuer).
				GenerateAccessToken(id, r, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&member, "member", "", "member UUID (required)")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleRegular), "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("member")
	return cmd
}
