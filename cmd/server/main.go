package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-qms-documents/internal/config"
	"github.com/pesio-ai/be-qms-documents/internal/database"
	"github.com/pesio-ai/be-qms-documents/internal/logger"
	"github.com/pesio-ai/be-qms-documents/internal/repository"
	"github.com/pesio-ai/be-qms-documents/internal/seed"
	"github.com/pesio-ai/be-qms-documents/internal/service"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "qms-documents",
		Short:         "Document approval workflow service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the config file")
	root.AddCommand(serveCmd(), migrateCmd(), seedCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the service logger.
func bootstrap() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})
	return cfg, log, nil
}

func connectDB(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	return database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
}

// openStore returns the configured store and a release func. The postgres
// store also reports health.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.Store, func(), error) {
	if cfg.Store.Driver == "memory" {
		log.Warn().Msg("Using in-memory store, data is lost on exit")
		return repository.NewMemoryStore(), func() {}, nil
	}

	db, err := connectDB(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("host", cfg.Database.Host).Msg("Database connection established")

	if cfg.Database.AutoMigrate {
		applied, err := db.Migrate(ctx)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info().Strs("applied", applied).Msg("Database migrations complete")
	}
	return repository.NewPostgresStore(db), db.Close, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			db, err := connectDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := db.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			log.Info().Strs("applied", applied).Msg("Database migrations complete")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Create workflow definitions from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			f, err := seed.LoadFile(args[0])
			if err != nil {
				return err
			}
			store, release, err := openStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer release()

			res, err := seed.Apply(cmd.Context(), service.NewWorkflowDefinitionService(store, log), f)
			if err != nil {
				return err
			}
			log.Info().
				Int("created", res.Created).
				Int("skipped", res.Skipped).
				Msg("Workflow definitions seeded")
			return nil
		},
	}
}
