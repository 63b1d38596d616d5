package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"hexbattle-server/config"
	"hexbattle-server/handlers"
	"hexbattle-server/middleware"
	"hexbattle-server/persistence"
	"hexbattle-server/realtime"
	"hexbattle-server/services"
	"hexbattle-server/utils"
	"hexbattle-server/workers"
)

func main() {
	root := &cobra.Command{
		Use:           "hexbattle-server",
		Short:         "Matchmaking and action relay for HexBattle",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the lobby and match server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			if err := persistence.Migrate(db); err != nil {
				return err
			}
			log.Info("✅ Database schema is up to date")
			return nil
		},
	}
}

func openDB(cfg config.Config) (*gorm.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL environment variable not set")
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func serve(cfg config.Config) error {
	log.SetLevel(cfg.FiberLogLevel())

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	if err := persistence.Migrate(db); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	persist := workers.NewPersistQueue(cfg.PersistWorkers, cfg.PersistQueueSize, cfg.PersistTimeout)
	persist.Start()

	hub := realtime.NewHub(cfg.StreamBuffer)
	gateway := persistence.NewGormGateway(db)
	matches := services.NewMatchService(gateway, hub, persist)
	matches.FallbackScenario = cfg.FallbackScenario

	if _, err := matches.Rehydrate(ctx); err != nil {
		log.Warnf("⚠️  Could not rehydrate matches: %v", err)
	}

	reaper := &services.Reaper{
		Store:      matches.Store,
		Queue:      matches.Queue,
		Gateway:    gateway,
		Transport:  hub,
		Writer:     persist,
		Interval:   cfg.ReaperInterval,
		StaleAfter: cfg.StaleAfter,
		TicketTTL:  cfg.TicketTTL,
	}
	if cfg.R2().Enabled() {
		archiver, err := utils.NewR2Archiver(ctx, cfg.R2())
		if err != nil {
			return err
		}
		reaper.Archiver = archiver
		log.Infof("✅ Archiving retired matches to R2 bucket %s", cfg.R2Bucket)
	}
	sched, err := reaper.Start(ctx)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:               "hexbattle-server",
		DisableStartupMessage: true,
	})
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + middleware.ConnectionHeader,
		MaxAge:       86400, // 24 hours
	}))
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("HexBattle server running")
	})
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken))
	handlers.SetupMatchRoutes(app, matches, hub)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Errorf("Server error: %v", err)
		}
	}()

	log.Infof("✅ Server running on http://localhost:%s", cfg.Port)
	log.Infof("✅ CORS configured for origins: %s", strings.Join(cfg.AllowedOrigins, ","))

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Warnf("⚠️  HTTP shutdown: %v", err)
	}
	if err := sched.Shutdown(); err != nil {
		log.Warnf("⚠️  Reaper shutdown: %v", err)
	}
	// One last checkpoint so the durable copy matches memory.
	reaper.Sweep(shutdownCtx, time.Now())
	return persist.Close(shutdownCtx)
}
