package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"autoassign/internal/api"
	"autoassign/internal/assign"
	"autoassign/internal/config"
	"autoassign/internal/store"
)

func newRunCmd() *cobra.Command {
	var timezone string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one auto-assign pass and print the summary as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if timezone != "" {
				cfg.Timezone = timezone
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			if strings.TrimSpace(cfg.DatabaseURL) == "" {
				return errors.New("DATABASE_URL is required")
			}
			srv, err := api.NewServer(cfg)
			if err != nil {
				return err
			}
			srv.Start()
			defer srv.Close()

			sum, err := srv.Engine.Run(cmd.Context())
			if err != nil {
				if errors.Is(err, assign.ErrNoDrivers) {
					return &exitError{code: 2, err: err}
				}
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		},
	}
	cmd.Flags().StringVar(&timezone, "tz", "", "override ORG_TIMEZONE for this run")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.DatabaseURL) == "" {
				return errors.New("DATABASE_URL is required")
			}
			pg, err := store.NewPostgres(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pg.Close()
			if err := pg.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("schema up to date")
			return nil
		},
	}
}
