// Package main is the chartdrop command line client. It stages local files,
// commits them to the records API and lists or deletes registered files.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/ChartDrop/internal/config"
	"github.com/dharsanguruparan/ChartDrop/internal/logger"
)

func main() {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "chartdrop: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfg *config.Config
	log zerolog.Logger

	apiURL  string
	verbose bool
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "chartdrop",
		Short: "Upload and manage clinical file attachments",
		Long: `chartdrop stages up to ten files, uploads them to object storage through
pre-signed transfer slots and registers them against a subject and an optional encounter.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			if a.apiURL == "" {
				a.apiURL = cfg.APIURL
			}
			level := cfg.LogLevel
			if a.verbose {
				level = "debug"
			} else if level == "info" {
				level = "warn"
			}
			a.log = logger.NewWithWriter(cmd.ErrOrStderr(), "chartdrop", level, "console")
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&a.apiURL, "api-url", "", "Records API base URL (defaults to CHARTDROP_API_URL)")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log every state transition")
	cmd.AddCommand(
		newUploadCmd(a),
		newListCmd(a),
		newDeleteCmd(a),
	)
	return cmd
}
