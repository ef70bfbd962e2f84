// Package main is the entry point of the payment core.
// serve runs the HTTP API and the background jobs until SIGINT/SIGTERM;
// migrate applies the schema; link mints an emailed action link by hand.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"trafikskola.se/payments/internal/app"
	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/config"
	"trafikskola.se/payments/internal/features/payments"
	"trafikskola.se/payments/internal/features/token"
)

var rootCmd = &cobra.Command{
	Use:           "payments",
	Short:         "Payment reconciliation and credit ledger for the driving school",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background jobs",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE:  runMigrate,
}

var linkCmd = &cobra.Command{
	Use:   "link KIND ID [DECISION]",
	Short: "Mint an action link (kind: lesson, handledar, package)",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runLink,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, linkCmd)
}

func main() {
	setupLogging()

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies the configured log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if level, err := log.ParseLevel(cfg.AppLogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.AppEnv == "production" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	log.Info("=== Payment core starting ===")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Cancelled on Ctrl+C or docker stop
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil {
		return err
	}
	log.Info("=== Payment core stopped ===")
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return app.Migrate(cmd.Context(), cfg)
}

func runLink(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	kind, err := common.ParseResourceKind(args[0])
	if err != nil {
		return err
	}
	id, err := uuid.Parse(args[1])
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", args[1], err)
	}
	var decision common.Decision
	if len(args) == 3 {
		if decision, err = common.ParseDecision(args[2]); err != nil {
			return err
		}
	}

	codec, err := token.NewCodec(cfg.ActionTokenSecret, token.WithTTL(cfg.ActionTokenTTL))
	if err != nil {
		return err
	}
	tok, err := codec.Encode(kind, id, decision)
	if err != nil {
		return err
	}
	fmt.Println(payments.LinkURL(cfg.PublicBaseURL, tok))
	return nil
}

// setupLogging sets the log format.
func setupLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)
}
