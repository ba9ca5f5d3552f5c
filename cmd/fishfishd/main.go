package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	fishfish "github.com/fishfish-gg/fishfish-go"
	"github.com/fishfish-gg/fishfish-go/internal/config"
	"github.com/fishfish-gg/fishfish-go/internal/daemon"
	"github.com/fishfish-gg/fishfish-go/internal/logger"
	"github.com/fishfish-gg/fishfish-go/internal/maintenance"
	"github.com/fishfish-gg/fishfish-go/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version is set by the build system via -ldflags.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "fishfishd",
		Short: "FishFish threat feed mirror daemon",
	}

	root.AddCommand(
		runCmd(),
		syncCmd(),
		healthcheckCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runCmd is the main daemon command.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the mirror daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := buildLogger(cfg)
	log.Info().Str("version", Version).Msg("fishfishd starting")

	store, err := storage.NewBboltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	client, err := buildClient(cfg, log)
	if err != nil {
		return fmt.Errorf("init fishfish client: %w", err)
	}
	defer client.Close()

	daemon.BinaryVersion = Version
	d, err := daemon.New(cfg, client, store, log)
	if err != nil {
		return fmt.Errorf("build daemon: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Start janitor
	janitor := maintenance.NewJanitor(store, nil, cfg.MaintenanceInterval, log)
	go func() {
		if err := janitor.Run(ctx); err != nil {
			log.Warn().Err(err).Msg("janitor exited")
		}
	}()

	return d.Run(ctx)
}

// syncCmd runs a one-shot full mirror sync.
func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a one-shot full mirror sync and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			log := buildLogger(cfg)

			store, err := storage.NewBboltStore(cfg.DataDir)
			if err != nil {
				return err
			}
			defer store.Close()

			client, err := buildClient(cfg, log)
			if err != nil {
				return err
			}
			defer client.Close()

			d, err := daemon.New(cfg, client, store, log)
			if err != nil {
				return err
			}

			written, err := d.Sync(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("sync complete: %d records mirrored\n", written)
			return nil
		},
	}
}

// healthcheckCmd exits 0 if the daemon's health endpoint answers.
func healthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check health endpoint and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			resp, err := http.Get("http://" + cfg.HealthAddr + "/healthz") //nolint:noctx
			if err != nil {
				fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
				os.Exit(1)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				fmt.Fprintf(os.Stderr, "healthcheck returned %d\n", resp.StatusCode)
				os.Exit(1)
			}
			fmt.Println("healthy")
			return nil
		},
	}
}

// versionCmd prints the version and exits.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fishfishd %s\n", Version)
		},
	}
}

// buildClient constructs the library client from daemon config.
func buildClient(cfg *config.Config, log zerolog.Logger) (*fishfish.Client, error) {
	perms := make([]fishfish.Permission, 0, len(cfg.Permissions))
	for _, p := range cfg.Permissions {
		perms = append(perms, fishfish.Permission(p))
	}
	return fishfish.NewClient(fishfish.Config{
		APIKey:             cfg.APIKey,
		BaseURL:            cfg.BaseURL,
		StreamURL:          cfg.StreamURL,
		DefaultPermissions: perms,
		Identity:           cfg.Identity,
		DisableCache:       cfg.DisableCache,
		DoNotCachePartial:  cfg.DoNotCachePartial,
		Timeout:            cfg.HTTPTimeout,
		Debug:              cfg.APIDebug,
	}, log)
}

// buildLogger constructs a zerolog.Logger based on config.
func buildLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if cfg.LogFormat == "text" {
		cw := zerolog.NewConsoleWriter()
		cw.Out = logger.NewRedactWriter(os.Stderr)
		base = zerolog.New(cw).Level(level).With().Timestamp().Logger()
	} else {
		redactWriter := logger.NewRedactWriter(os.Stderr)
		base = zerolog.New(redactWriter).Level(level).With().Timestamp().Logger()
	}
	return base
}
