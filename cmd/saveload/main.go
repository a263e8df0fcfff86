package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/TheGojiOG/saveload/internal/api"
	"github.com/TheGojiOG/saveload/internal/archive"
	"github.com/TheGojiOG/saveload/internal/auth"
	"github.com/TheGojiOG/saveload/internal/backup"
	"github.com/TheGojiOG/saveload/internal/config"
	"github.com/TheGojiOG/saveload/internal/console"
	"github.com/TheGojiOG/saveload/internal/database"
	"github.com/TheGojiOG/saveload/internal/host"
	"github.com/TheGojiOG/saveload/internal/logging"
	"github.com/TheGojiOG/saveload/internal/orchestrator"
	"github.com/TheGojiOG/saveload/internal/permissions"
	"github.com/TheGojiOG/saveload/internal/scheduler"
	"github.com/TheGojiOG/saveload/internal/supervisor"
	"github.com/TheGojiOG/saveload/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "token":
			if err := runToken(cfg, os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "saveload token: %v\n", err)
				os.Exit(2)
			}
			return
		case "migrate":
			runMigrations(cfg)
			return
		default:
			fmt.Fprintf(os.Stderr, "usage: saveload [token <actor> [--operator] | migrate]\n")
			os.Exit(2)
		}
	}

	// Set up logging
	if err := setupLogging(cfg); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logging.Close()

	if err := run(cfg); err != nil {
		log.Printf("saveload stopped with error: %v", err)
		logging.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// State store: the JSON file next to the archives, or SQLite
	var (
		store backup.Store
		db    *database.DB
	)
	switch cfg.State.Driver {
	case config.StateDriverSQLite:
		log.Println("Opening state database...")
		var err error
		db, err = database.Open(cfg.State.Path)
		if err != nil {
			return fmt.Errorf("failed to open state database: %w", err)
		}
		defer db.Close()
		store = backup.NewSQLiteStore(db.DB)
	default:
		store = backup.NewFileStore(cfg.State.Path)
	}

	// Initialize activity logger
	var sqlDB *sql.DB
	if db != nil {
		sqlDB = db.DB
	}
	activityLogger, err := logging.NewActivityLogger(sqlDB, cfg.Logging.ActivityDir)
	if err != nil {
		return fmt.Errorf("failed to initialize activity logger: %w", err)
	}
	defer activityLogger.Close()
	if sqlDB != nil && cfg.ActivityRetention() > 0 {
		if _, err := activityLogger.Prune(cfg.ActivityRetention()); err != nil {
			log.Printf("Failed to prune activity log: %v", err)
		}
	}

	archiver := archive.NewManager(archive.Options{
		Format: archive.Format{
			Type:        cfg.Saveload.Archive.Format,
			Compression: cfg.Saveload.Archive.Compression,
			Level:       cfg.Saveload.Archive.Level,
		},
		// archives never contain themselves or the registry state
		Exclude: []string{cfg.Saveload.SavePath, cfg.State.Path},
	})

	registry, err := backup.NewRegistry(backup.Options{
		WorkingDir: cfg.Server.WorkingDir,
		SaveDir:    cfg.Saveload.SavePath,
		MaxBackups: cfg.Saveload.MaxBackupCount,
		Archiver:   archiver,
		Store:      store,
		Timeout:    cfg.ArchiveTimeout(),
	})
	if err != nil {
		return err
	}

	// Managed server in a local screen session
	executor := host.NewLocalExecutor(cfg.Server.WorkingDir)
	screen := host.NewScreenHost(executor, host.ScreenOptions{
		SessionName:  cfg.Server.SessionName,
		WorkingDir:   cfg.Server.WorkingDir,
		StartCommand: cfg.Server.StartCommand,
		LogFile:      cfg.Server.LogFile,
		TeeLog:       cfg.Server.TeeLog,
		StopCommands: cfg.Server.StopCommands,
		StopTimeout:  cfg.StopTimeout(),
		PollInterval: cfg.PollInterval(),
	})
	quiescer := host.NewCommandQuiescer(screen, cfg.Server.QuiesceCommands, cfg.Server.ResumeCommands)

	hub := websocket.NewHub()
	perms := permissions.New(cfg.Saveload.PermissionLevel, cfg.Operators, cfg.Server.OpsFile)

	orch, err := orchestrator.New(orchestrator.Options{
		Config:      cfg,
		Registry:    registry,
		Host:        screen,
		Quiescer:    quiescer,
		Permissions: perms,
		Activity:    activityLogger,
		Feed:        hub,
	})
	if err != nil {
		return err
	}

	timers := scheduler.New(orch.PostTimer)
	orch.SetScheduler(timers)

	tree := supervisor.NewTree(logging.L(), supervisor.DefaultTreeConfig())
	tree.AddCoreService(orch)
	tree.AddCoreService(host.NewWatcher(screen, cfg.PollInterval(), orch.PostStopped))

	if cfg.Server.LogFile != "" {
		parser, err := console.NewChatParser(cfg.Server.ChatPattern, cfg.Saveload.CommandPrefix)
		if err != nil {
			return err
		}
		tree.AddCoreService(console.NewTailer(cfg.Server.LogFile, func(line string) {
			if chat, ok := parser.Parse(line); ok {
				orch.PostChat(chat.Actor, chat.Text)
			}
		}))
	} else {
		log.Println("No server log file configured, chat commands are disabled")
	}

	tree.AddAPIService(hub)
	if cfg.API.Enabled {
		jwtManager := auth.NewJWTManager(cfg.API.JWTSecret, cfg.TokenDuration())
		router := api.SetupRouter(cfg, orch, activityLogger, perms, jwtManager, hub)
		server := &http.Server{
			Addr:        fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
			Handler:     router,
			ReadTimeout: 15 * time.Second,
			// commands may run a whole backup
			WriteTimeout: cfg.ArchiveTimeout() + 30*time.Second,
			IdleTimeout:  60 * time.Second,
		}
		log.Printf("Starting API on %s", server.Addr)
		tree.AddAPIService(supervisor.NewHTTPService(server, 30*time.Second))
	}

	log.Printf("saveload started: %d backups, working dir %s, save dir %s", registry.Len(), cfg.Server.WorkingDir, cfg.Saveload.SavePath)

	// Wait for interrupt signal to gracefully shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)

	log.Println("Shutting down...")
	orch.Close()
	timers.Stop()

	if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(report) > 0 {
		log.Printf("Services did not stop in time: %v", report)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Println("saveload exited")
	return nil
}

func setupLogging(cfg *config.Config) error {
	if _, err := logging.Init(cfg.Logging); err != nil {
		return err
	}
	if cfg.Logging.File != "" {
		log.Printf("Logging to %s", cfg.Logging.File)
	}
	return nil
}

// runToken prints an API token for actor
func runToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	operator := fs.Bool("operator", false, "allow backup, restore and confirm")
	duration := fs.Duration("duration", cfg.TokenDuration(), "token lifetime")

	// the actor comes first: saveload token alice --operator
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return errors.New("usage: saveload token <actor> [--operator] [--duration 720h]")
	}
	actor := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	if cfg.API.JWTSecret == "" {
		return errors.New("api.jwt_secret is not configured")
	}

	token, err := auth.NewJWTManager(cfg.API.JWTSecret, *duration).GenerateToken(actor, *operator)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runMigrations(cfg *config.Config) {
	if cfg.State.Driver != config.StateDriverSQLite {
		log.Println("State driver is not sqlite, nothing to migrate")
		return
	}

	db, err := database.NewDB(cfg.State.Path)
	if err != nil {
		log.Fatalf("Failed to open state database: %v", err)
	}
	defer db.Close()

	log.Printf("Running database migrations on %s...", db.Path())
	if err := db.Migrate(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("Migrations completed successfully")
}
