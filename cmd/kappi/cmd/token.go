package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/MeKo-Tech/kappi/internal/server"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token <user>",
	Short: "Issue a bearer token for the scan history API",
	Long: `Sign a bearer token for a user with server.jwt_secret
(environment: KAPPI_SERVER_JWT_SECRET). A server configured with the same
secret accepts it in the Authorization header and scopes /scans and scan
saving to that user.

Examples:
  KAPPI_SERVER_JWT_SECRET=change-me kappi token farmer-1
  kappi token farmer-1 --ttl 24h`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if cfg.Server.JWTSecret == "" {
			return errors.New("server.jwt_secret is not set")
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")
		tok, err := server.IssueToken(cfg.Server.JWTSecret, args[0], ttl, time.Now())
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().Duration("ttl", server.DefaultTokenTTL, "token lifetime")
}
