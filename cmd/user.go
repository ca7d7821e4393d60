/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tasktrack/apiserver/internal/auth"
	"github.com/tasktrack/apiserver/internal/db"
	"github.com/tasktrack/apiserver/internal/services"
	"github.com/tasktrack/apiserver/internal/store"
	"github.com/tasktrack/apiserver/types"
)

// userCmd represents the user command
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userRoleCmd = &cobra.Command{
	Use:   "role <username> <user|admin>",
	Short: "Change the role of a user",
	Args:  cobra.ExactArgs(2),
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

		// SetRole never issues tokens.
		users := services.NewUserService(store.NewUserRepository(conn), auth.NewPasswordHasher(cfg.Auth.BcryptCost), nil)
		user, err := users.SetRole(cmd.Context(), args[0], types.Role(args[1]))
		if err != nil {
			return err
		}
		logger.Info("role updated", "username", user.Username, "role", user.Role)
		fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", user.Username, user.Role)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userRoleCmd)
}
