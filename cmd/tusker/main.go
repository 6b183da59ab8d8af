package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"tusker/activitypub"
	"tusker/db"
	"tusker/util"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tusker",
		Short: "Single-actor federated microblog",
		Long: `A small ActivityPub server for one person. It publishes notes,
follows and is followed across the fediverse, and signs everything it sends.`,
	}

	rootCmd.AddCommand(
		serveCmd(),
		initCmd(),
		profileCmd(),
		postCmd(),
		timelineCmd(),
		followCmd(),
		unfollowCmd(),
		likeCmd(),
		unlikeCmd(),
		boostCmd(),
		unboostCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration, opens the database and wires the
// federation context every command works against.
func setup() (*activitypub.Federation, error) {
	conf, err := util.ReadConf()
	if err != nil {
		return nil, fmt.Errorf("could not read configuration: %w", err)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "tusker",
	})

	store, err := db.Open(util.ResolveFilePath(conf.Conf.DbFile), logger)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if err := store.RunMigrations(); err != nil {
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	return activitypub.New(store, conf, logger), nil
}

// localAccount resolves the account commands act as. The instance hosts a
// single actor, so the oldest account wins.
func localAccount(fed *activitypub.Federation) (string, error) {
	acc, err := fed.Store.ReadFirstAccount()
	if err != nil {
		return "", fmt.Errorf("no account found, run 'tusker init' first")
	}
	return acc.Username, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(util.GetNameAndVersion())
		},
	}
}
