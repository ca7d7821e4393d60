/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tasktrack/apiserver/internal/auth"
	"github.com/tasktrack/apiserver/internal/db"
	"github.com/tasktrack/apiserver/internal/seed"
	"github.com/tasktrack/apiserver/internal/store"
)

// seedCmd represents the seed command
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the default admin, a sample user and sample tasks",
	Long: `Creates admin@example.com (admin) and user@example.com (user) plus three
sample tasks owned by the admin. Rows that already exist are left alone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		conn, err := db.Open(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer conn.Close()

		seeder := seed.New(
			store.NewUserRepository(conn),
			store.NewTaskRepository(conn),
			auth.NewPasswordHasher(cfg.Auth.BcryptCost),
			logger,
		)
		return seeder.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
