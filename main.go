package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"campusvote/config"
	"campusvote/internal/accounts"
	"campusvote/internal/logs"
	"campusvote/server"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "campusvote",
		Short:         "Campus election server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	root.AddCommand(
		&cobra.Command{Use: "serve", Short: "Run the HTTP server", RunE: serve},
		&cobra.Command{Use: "migrate", Short: "Apply the database schema", RunE: migrate},
		createAdminCmd(),
	)
	return root
}

func serve(*cobra.Command, []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	app := &server.App{}
	if err := app.Initialize(cfg); err != nil {
		return err
	}
	return app.Run()
}

func migrate(*cobra.Command, []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	server.InitLogs(cfg)
	if _, err := server.OpenDB(cfg); err != nil {
		return err
	}
	logs.Logger.Info("schema is up to date")
	return nil
}

func createAdminCmd() *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			server.InitLogs(cfg)
			d, err := server.OpenDB(cfg)
			if err != nil {
				return err
			}
			// почта и OTP для создания админа не нужны
			svc := accounts.NewService(d, nil, nil)
			acc, err := svc.CreateAdmin(context.Background(), name, email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin %s created (%s)\n", acc.Email, acc.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "Administrator", "display name")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
