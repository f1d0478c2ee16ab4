package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/criticalmanufacturing/portalauth"
	perrors "github.com/criticalmanufacturing/portalauth/pkg/errors"
)

type resolveConfig struct {
	MetadataURL  string
	ClientID     string
	Login        string
	RefreshToken string
	Timeout      time.Duration
}

func init() {
	rootCmd.AddCommand(newResolveCommand())
}

func newResolveCommand() *cobra.Command {
	cfg := resolveConfig{
		Timeout: 30 * time.Second,
	}

	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a refresh token against the Security Portal",
		Long: "Exchanges a refresh token for an access token, resolves the user identity " +
			"and role set, and prints the result. The token is read from --refresh-token, " +
			"PORTALAUTH_REFRESH_TOKEN, or stdin, and never echoed back.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := resolveRefreshToken(cmd, cfg.RefreshToken)
			if err != nil {
				return err
			}

			client, err := portalauth.NewDefault(portalauth.Config{
				MetadataURL: resolveMetadataURL(cfg.MetadataURL),
				ClientID:    resolveClientID(cfg.ClientID),
			})
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := client.Close(); closeErr != nil {
					cmd.PrintErrf("warning: failed to close client cleanly: %v\n", closeErr)
				}
			}()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
			defer cancel()

			principal, err := client.Resolve(ctx, cfg.Login, token)
			if err != nil {
				switch {
				case perrors.IsUnauthorized(err):
					return fmt.Errorf("authentication failed: %w", err)
				case perrors.IsUnavailable(err):
					return fmt.Errorf("portal unavailable, try again later: %w", err)
				default:
					return err
				}
			}

			cmd.Printf("username: %s\n", principal.Username)
			cmd.Printf("roles:    %s\n", strings.Join(principal.Roles, ", "))
			return nil
		},
	}

	resolveCmd.Flags().StringVar(&cfg.MetadataURL, "metadata-url", "", "Portal discovery document URL. Can also be set via PORTALAUTH_METADATA_URL.")
	resolveCmd.Flags().StringVar(&cfg.ClientID, "client-id", "", "OAuth client identifier. Can also be set via PORTALAUTH_CLIENT_ID.")
	resolveCmd.Flags().StringVar(&cfg.Login, "login", "", "Login name, recorded for diagnostics only.")
	resolveCmd.Flags().StringVar(&cfg.RefreshToken, "refresh-token", "", "Refresh token to resolve. Prefer PORTALAUTH_REFRESH_TOKEN or stdin over this flag.")
	resolveCmd.Flags().DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Overall deadline for the resolution.")

	return resolveCmd
}

func lookupEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func resolveMetadataURL(flagValue string) string {
	if value := strings.TrimSpace(flagValue); value != "" {
		return value
	}
	return lookupEnv("PORTALAUTH_METADATA_URL")
}

func resolveClientID(flagValue string) string {
	if value := strings.TrimSpace(flagValue); value != "" {
		return value
	}
	return lookupEnv("PORTALAUTH_CLIENT_ID")
}

func resolveRefreshToken(cmd *cobra.Command, flagValue string) (string, error) {
	if value := strings.TrimSpace(flagValue); value != "" {
		return value, nil
	}

	if value := lookupEnv("PORTALAUTH_REFRESH_TOKEN"); value != "" {
		return value, nil
	}

	// Last resort: a single line on stdin, so the token stays out of shell
	// history and process listings.
	var line string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &line); err != nil {
		return "", errors.New("missing refresh token: set --refresh-token, PORTALAUTH_REFRESH_TOKEN, or pipe it on stdin")
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("missing refresh token: set --refresh-token, PORTALAUTH_REFRESH_TOKEN, or pipe it on stdin")
	}
	return line, nil
}
