// chatctl runs maintenance tasks against the chat store: schema migration
// and index reconciliation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/suPer8Hu/testerhub/internal/app"
	"github.com/suPer8Hu/testerhub/internal/config"
	"github.com/suPer8Hu/testerhub/internal/db"
	"github.com/suPer8Hu/testerhub/internal/logging"
)

// Flag variables.
var (
	logLevel, logFile string
	conversationID    string
	repairAll         bool
	batchSize         int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Maintenance commands for the chat store.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Init(logLevel, logFile)
	},
	SilenceUsage: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the profile and chat tables.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		gdb, err := db.Connect(cfg.DBDSN)
		if err != nil {
			return errors.WithMessage(err, "connect")
		}
		if err := db.Migrate(gdb); err != nil {
			return errors.WithMessage(err, "migrate")
		}
		jww.INFO.Println("migration complete")
		return nil
	},
}

// Rebuilds index entries from conversation records. Either a single
// conversation (--conversation) or every conversation (--all) is repaired.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Repair chat index entries that diverged from their conversation.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (conversationID == "") == !repairAll {
			return errors.New("exactly one of --conversation or --all is required")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := config.Load()
		backends, err := app.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer backends.Close()

		// only the reconciler is used here; it needs no auditor
		cfg.ReconcileMode = "off"
		a := app.New(cfg, app.Deps{DB: backends.DB, Broker: backends.Broker, Cache: backends.Cache()})

		if conversationID != "" {
			rep, err := a.Reconciler.RepairConversation(ctx, conversationID)
			if err != nil {
				return errors.WithMessagef(err, "repair %s", conversationID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s created=%d advanced=%d\n",
				rep.ConversationID, len(rep.Created), len(rep.Advanced))
			return nil
		}

		reports, err := a.Reconciler.RepairAll(ctx, batchSize)
		for _, rep := range reports {
			fmt.Fprintf(cmd.OutOrStdout(), "%s created=%d advanced=%d\n",
				rep.ConversationID, len(rep.Created), len(rep.Advanced))
		}
		if err != nil {
			return errors.WithMessage(err, "repair all")
		}
		jww.INFO.Printf("reconcile complete, %d conversations repaired", len(reports))
		return nil
	},
}

// init is the initialization function for Cobra which defines flags.
func init() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "logLevel", "v", "info",
		"Verbosity of logging: trace, debug, info, warn or error.")
	rootCmd.PersistentFlags().StringVarP(&logFile, "log", "l", "",
		"Log output path. By default, logs are printed to stdout.")

	reconcileCmd.Flags().StringVarP(&conversationID, "conversation", "c", "",
		"Repair a single conversation by id.")
	reconcileCmd.Flags().BoolVar(&repairAll, "all", false,
		"Repair every conversation.")
	reconcileCmd.Flags().IntVar(&batchSize, "batch", 100,
		"Conversations loaded per page with --all.")

	rootCmd.AddCommand(migrateCmd, reconcileCmd)
}
