package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"studyhub/internal/models"
	"studyhub/internal/service/persona"
)

func (c *cli) personaTokenCmd() *cobra.Command {
	var (
		userID  int64
		label   string
		role    string
		ttl     time.Duration
		baseURL string
	)
	cmd := &cobra.Command{
		Use:   "persona-token",
		Short: "Issue a single-use persona login link",
		Long: `Issue a single-use login link that signs the browser in as an existing account and
lands on the dashboard for the given role. The link stops working after first use or once
the TTL elapses.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return errors.New("--user-id is required")
			}
			r := models.Role(strings.ToLower(strings.TrimSpace(role)))
			if !r.Valid() {
				return fmt.Errorf("--role must be one of %v", models.AllRoles)
			}
			a := c.app
			ctx := cmd.Context()
			if a.Config.IsProduction() {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: persona logins are disabled in production; this link will be rejected")
			}

			tok, err := a.Personas.Issue(ctx, userID, r, ttl)
			if err != nil {
				return fmt.Errorf("issue persona token: %w", err)
			}
			if label == "" {
				user, err := a.Accounts.GetUser(ctx, userID)
				if err != nil {
					return err
				}
				label = user.DisplayName
				if label == "" {
					label = user.Email
				}
			}
			if baseURL == "" {
				baseURL = a.Config.BasicConfig.PublicBaseURL
			}
			link := strings.TrimRight(baseURL, "/") + "/api/auth/persona?token=" + url.QueryEscape(tok.Token)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Persona login link for %s (%s), valid until %s:\n", label, r, tok.ExpiresAt.Format(time.RFC3339))
			fmt.Fprintln(out, link)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Invitation prompt:")
			fmt.Fprintf(out, "You are testing studyhub as %s, a %s. Open %s to sign in.\n", label, r, link)
			fmt.Fprintf(out, "The link works once and expires in %s.\n", tok.ExpiresAt.Sub(tok.CreatedAt))
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "account the link signs in as")
	cmd.Flags().StringVar(&label, "persona", "", "persona name shown in the invitation (default: the account's display name)")
	cmd.Flags().StringVar(&role, "role", "", "dashboard to land on: student, parent or advisor")
	cmd.Flags().DurationVar(&ttl, "ttl", persona.DefaultTTL, "how long the link stays valid")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "public address of the site (default: basic_config.public_base_url)")
	return cmd
}
