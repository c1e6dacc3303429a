package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"quizzles/internal/config"
	"quizzles/internal/logger"
)

// NewCreateAdminCmd creates an admin account in the configured store.
func NewCreateAdminCmd(configPath *string) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("create-admin needs a postgres url, the in-memory store does not outlive this command")
			}
			log := logger.Setup(cfg.Log.Level, cfg.Log.Format)
			svc, err := buildServices(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer svc.Close()

			user, err := svc.auth.EnsureAdmin(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			if !user.IsAdmin {
				return fmt.Errorf("user %q already exists and is not an admin", username)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin %q ready (id %d)\n", user.Username, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "admin username")
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
