package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haleyard/recall/internal/profile"
	"github.com/haleyard/recall/internal/version"
	"github.com/haleyard/recall/plugin/memory"
	"github.com/haleyard/recall/server"
	"github.com/haleyard/recall/server/ai"
	"github.com/haleyard/recall/server/runner/memoryjobs"
	"github.com/haleyard/recall/store"
	"github.com/haleyard/recall/store/db"
)

var instanceProfile = &profile.Profile{}

var rootCmd = &cobra.Command{
	Use:   "recalld",
	Short: "Conversation memory engine for contact-facing agents",
	RunE: func(_ *cobra.Command, _ []string) error {
		instanceProfile.FromEnv()
		applyFlags()
		instanceProfile.Version = version.GetCurrentVersion(instanceProfile.Mode)
		if err := instanceProfile.Validate(); err != nil {
			return err
		}
		return serve()
	},
}

var (
	flagMode   string
	flagAddr   string
	flagPort   int
	flagData   string
	flagDriver string
	flagDSN    string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagMode, "mode", "", `mode of the server, can be "prod" or "dev"`)
	flags.StringVar(&flagAddr, "addr", "", "address of the server")
	flags.IntVar(&flagPort, "port", 0, "port of the server")
	flags.StringVar(&flagData, "data", "", "data directory")
	flags.StringVar(&flagDriver, "driver", "", "database driver, sqlite or postgres")
	flags.StringVar(&flagDSN, "dsn", "", "database connection string")
}

// applyFlags lets explicit flags win over the environment.
func applyFlags() {
	if flagMode != "" {
		instanceProfile.Mode = flagMode
	}
	if flagAddr != "" {
		instanceProfile.Addr = flagAddr
	}
	if flagPort != 0 {
		instanceProfile.Port = flagPort
	}
	if flagData != "" {
		instanceProfile.Data = flagData
	}
	if flagDriver != "" {
		instanceProfile.Driver = flagDriver
	}
	if flagDSN != "" {
		instanceProfile.DSN = flagDSN
	}
}

func serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbDriver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		return fmt.Errorf("failed to create db driver: %w", err)
	}

	st := store.New(dbDriver, instanceProfile)
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	var invoker ai.Invoker
	if instanceProfile.IsAIEnabled() {
		provider, err := ai.NewProvider(&ai.Config{
			BaseURL:    instanceProfile.AIBaseURL,
			APIKey:     instanceProfile.AIAPIKey,
			ChatModel:  instanceProfile.AIChatModel,
			MaxRetries: instanceProfile.AIMaxRetries,
			Timeout:    instanceProfile.AITimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to create model provider: %w", err)
		}
		invoker = provider
	} else {
		slog.Warn("model provider not configured, summaries, extraction and briefs are dormant")
	}

	svc := memory.NewService(instanceProfile, st, invoker)
	srv := server.NewServer(instanceProfile, st, svc)
	runner := memoryjobs.NewRunner(svc)

	slog.Info("server starting",
		slog.String("version", version.GetVersionString(instanceProfile.Mode)),
		slog.String("addr", instanceProfile.Addr),
		slog.Int("port", instanceProfile.Port),
		slog.String("driver", instanceProfile.Driver))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		runner.Run(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server shut down")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
