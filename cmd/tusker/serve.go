package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tusker/util"
	"tusker/web"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the federation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			fed, err := setup()
			if err != nil {
				return err
			}

			fmt.Println("Configuration:")
			fmt.Println(util.PrettyPrint(fed.Conf))

			username, err := localAccount(fed)
			if err != nil {
				return err
			}

			// Generate keys up front so the actor document is servable
			// from the first request.
			if _, err := fed.Keys.GetOrCreate(username); err != nil {
				return fmt.Errorf("could not prepare actor keys: %w", err)
			}

			done := make(chan os.Signal, 1)
			signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

			errc := make(chan error, 1)
			go func() {
				errc <- web.Router(fed)
			}()

			select {
			case err := <-errc:
				return err
			case <-done:
				fed.Log.Info("shutting down")
				return nil
			}
		},
	}
}

func initCmd() *cobra.Command {
	var displayName, summary string

	cmd := &cobra.Command{
		Use:   "init <username>",
		Short: "Create the local account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fed, err := setup()
			if err != nil {
				return err
			}

			username := util.NormalizeInput(args[0])
			acc, err := fed.Store.CreateAccount(username, displayName, summary)
			if err != nil {
				return fmt.Errorf("could not create account: %w", err)
			}
			if _, err := fed.Keys.GetOrCreate(acc.Username); err != nil {
				return fmt.Errorf("could not generate actor keys: %w", err)
			}

			fmt.Printf("Created account %s@%s\n", acc.Username, fed.Conf.Conf.Domain)
			return nil
		},
	}

	cmd.Flags().StringVar(&displayName, "display-name", "", "display name shown on the profile")
	cmd.Flags().StringVar(&summary, "summary", "", "profile summary")
	return cmd
}

func profileCmd() *cobra.Command {
	var displayName, summary, avatarURL, headerURL string

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Update the local account profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			fed, err := setup()
			if err != nil {
				return err
			}
			username, err := localAccount(fed)
			if err != nil {
				return err
			}

			acc, err := fed.Store.ReadAccByUsername(username)
			if err != nil {
				return fmt.Errorf("could not read account: %w", err)
			}

			// Unset flags keep the current value.
			if !cmd.Flags().Changed("display-name") {
				displayName = acc.DisplayName
			}
			if !cmd.Flags().Changed("summary") {
				summary = acc.Summary
			}
			if !cmd.Flags().Changed("avatar") {
				avatarURL = acc.AvatarURL
			}
			if !cmd.Flags().Changed("header") {
				headerURL = acc.HeaderURL
			}

			if err := fed.Store.UpdateProfile(username, util.NormalizeInput(displayName), util.NormalizeInput(summary), avatarURL, headerURL); err != nil {
				return fmt.Errorf("could not update profile: %w", err)
			}

			fmt.Printf("Updated profile for %s@%s\n", username, fed.Conf.Conf.Domain)
			return nil
		},
	}

	cmd.Flags().StringVar(&displayName, "display-name", "", "display name shown on the profile")
	cmd.Flags().StringVar(&summary, "summary", "", "profile summary")
	cmd.Flags().StringVar(&avatarURL, "avatar", "", "avatar image URL")
	cmd.Flags().StringVar(&headerURL, "header", "", "header image URL")
	return cmd
}
