package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootOptions carries state shared by every subcommand.
type rootOptions struct {
	configPath string
	v          *viper.Viper
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "fictionarchiver",
		Short: "Archives serialized web fiction into compressed tarballs.",
		Long: `fictionarchiver follows a fiction's "Next Chapter" links from a starting
chapter, extracts each chapter's text, and streams every chapter into a
compressed tar archive named after the fiction.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML)")
	cmd.PersistentFlags().String("log-level", "", "minimum log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("log-development", true, "human-readable development logging")
	mustBind(opts.v, "logging.level", cmd.PersistentFlags().Lookup("log-level"))
	mustBind(opts.v, "logging.development", cmd.PersistentFlags().Lookup("log-development"))

	cmd.AddCommand(newArchiveCmd(opts))
	cmd.AddCommand(newListCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fictionarchiver: %v\n", err)
		os.Exit(1)
	}
}
