package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"studyhub/internal/models"
	"studyhub/internal/service/account"
)

// addUserCmd updates or creates an account, so it is safe to rerun.
func (c *cli) addUserCmd() *cobra.Command {
	var in struct {
		email, role, name, password string
	}
	cmd := &cobra.Command{
		Use:   "add-user",
		Short: "Create or update an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(in.email) == "" {
				return errors.New("--email is required")
			}
			user, err := c.app.Accounts.UpsertUser(cmd.Context(), account.NewUser{
				Email:       in.email,
				DisplayName: in.name,
				Role:        models.Role(strings.ToLower(strings.TrimSpace(in.role))),
				Password:    in.password,
			})
			if err != nil {
				return fmt.Errorf("add user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d %s (%s)\n", user.ID, user.Email, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.email, "email", "", "login e-mail")
	cmd.Flags().StringVar(&in.role, "role", string(models.RoleStudent), "student, parent or advisor")
	cmd.Flags().StringVar(&in.name, "name", "", "display name")
	cmd.Flags().StringVar(&in.password, "password", "", "password; empty keeps the account link-only")
	return cmd
}
