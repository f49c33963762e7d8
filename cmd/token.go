package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/employee-management/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Token debugging commands",
}

var inspectTokenCmd = &cobra.Command{
	Use:   "inspect [jwt]",
	Short: "Verify a token with the configured keys and print its claims",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(".")
		if err != nil {
			return err
		}
		tokens, err := auth.NewJWTTokenGenerator(
			cfg.Security.JWTSecret,
			cfg.Security.JWTRefreshSecret,
			cfg.Security.AccessTokenDuration,
			cfg.Security.RefreshTokenDuration,
		)
		if err != nil {
			return err
		}
		return inspectToken(tokens, args[0])
	},
}

func inspectToken(tokens auth.TokenGenerator, raw string) error {
	var (
		kind   string
		claims interface{}
	)
	access, accessErr := tokens.ParseAccessToken(raw)
	if accessErr == nil {
		kind, claims = "access", access
	} else {
		refresh, refreshErr := tokens.ParseRefreshToken(raw)
		if refreshErr != nil {
			if errors.Is(accessErr, auth.ErrTokenExpired) || errors.Is(refreshErr, auth.ErrTokenExpired) {
				return auth.ErrTokenExpired
			}
			return auth.ErrInvalidToken
		}
		kind, claims = "refresh", refresh
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	fmt.Printf("%s token\n", kind)
	return enc.Encode(claims)
}

func init() {
	tokenCmd.AddCommand(inspectTokenCmd)
	rootCmd.AddCommand(tokenCmd)
}
