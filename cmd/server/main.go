package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tablehub/tablehub/internal/api/http"
	"github.com/tablehub/tablehub/internal/application/auth"
	"github.com/tablehub/tablehub/internal/application/narration"
	"github.com/tablehub/tablehub/internal/application/room"
	"github.com/tablehub/tablehub/internal/application/solo"
	"github.com/tablehub/tablehub/internal/application/user"
	"github.com/tablehub/tablehub/internal/config"
	"github.com/tablehub/tablehub/internal/domain/adventure"
	"github.com/tablehub/tablehub/internal/domain/character"
	"github.com/tablehub/tablehub/internal/infrastructure/engine"
	"github.com/tablehub/tablehub/internal/infrastructure/postgres"
	"github.com/tablehub/tablehub/internal/infrastructure/sqlite"
	"github.com/tablehub/tablehub/internal/infrastructure/telemetry"
	"github.com/tablehub/tablehub/internal/infrastructure/ws"
	"github.com/tablehub/tablehub/internal/migrations"
)

// characterStore is a character repository that can also be seeded.
type characterStore interface {
	character.Repository
	Put(ctx context.Context, c *character.Character) error
}

type stores struct {
	characters characterStore
	adventures adventure.Repository
	auth       *auth.Service
	users      *user.Service
	close      func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "tablehub", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("telemetry error: %v", err)
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("storage error: %v", err)
	}
	defer st.close()

	if cfg.CharacterSeed != "" {
		n, err := seedCharacters(ctx, st.characters, cfg.CharacterSeed)
		if err != nil {
			log.Fatalf("character seed error: %v", err)
		}
		logger.Info().Int("characters", n).Str("file", cfg.CharacterSeed).Msg("characters seeded")
	}

	policy, err := narration.NewExpressionPolicy(cfg.ApprovalPolicy)
	if err != nil {
		log.Fatalf("approval policy error: %v", err)
	}
	narrationOpts := narration.Options{
		Policy:         policy,
		DenialEndsTurn: cfg.DenialEndsTurn,
		MaxToolRounds:  cfg.MaxToolRounds,
	}
	engineClient := engine.New(engine.Config{
		URL:     cfg.EngineURL,
		APIKey:  cfg.EngineAPIKey,
		Model:   cfg.EngineModel,
		Timeout: cfg.EngineTimeout,
	}, logger)

	registry := room.NewRegistry(room.Dependencies{
		Engine:     engineClient,
		Characters: st.characters,
		Narration:  narrationOpts,
		Logger:     logger,
	}, room.Options{
		MaxParticipants: cfg.RoomMaxParticipants,
		GracePeriod:     cfg.RoomGracePeriod,
	})
	soloSvc := solo.NewService(solo.Dependencies{
		Engine:     engineClient,
		Adventures: st.adventures,
		Characters: st.characters,
		Narration:  narrationOpts,
		Logger:     logger,
	})
	hub := ws.NewHub()

	apiServer := httpapi.NewServer(httpapi.Dependencies{
		Auth:                st.auth,
		Users:               st.users,
		Characters:          st.characters,
		Adventures:          st.adventures,
		Rooms:               registry,
		Solo:                soloSvc,
		Hub:                 hub,
		Logger:              logger,
		AuthRequired:        cfg.AuthRequired,
		SessionCookieName:   cfg.SessionCookieName,
		SessionCookieSecure: cfg.SessionCookieSecure,
	})

	httpServer := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ServerAddr).Str("store", cfg.StoreDriver).Bool("auth_required", cfg.AuthRequired).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if st.auth != nil {
		g.Go(func() error {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if _, err := st.auth.PurgeExpired(gctx); err != nil {
						logger.Warn().Err(err).Msg("purge expired sessions")
					}
				}
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		hub.Stop()
		registry.Close()
		err := httpServer.Shutdown(shutdownCtx)
		if terr := shutdownTracing(shutdownCtx); terr != nil {
			logger.Warn().Err(terr).Msg("tracing shutdown")
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}

// openStores connects the configured backend. Identity needs Postgres;
// the SQLite store carries adventures and characters only.
func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := postgres.RunMigrations(ctx, pool, migrationSource(cfg)); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return postgresStores(pool, cfg, logger), nil
	case config.StoreDriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &stores{
			characters: store.Characters(),
			adventures: store,
			close:      func() { _ = store.Close() },
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func postgresStores(pool *pgxpool.Pool, cfg *config.Config, logger zerolog.Logger) *stores {
	userRepo := postgres.NewUserRepository(pool)
	sessionRepo := postgres.NewSessionRepository(pool)
	return &stores{
		characters: postgres.NewCharacterRepository(pool),
		adventures: postgres.NewAdventureRepository(pool),
		auth:       auth.NewService(userRepo, sessionRepo, cfg.SessionTTL, logger),
		users:      user.NewService(userRepo, logger),
		close:      pool.Close,
	}
}

func migrationSource(cfg *config.Config) fs.FS {
	if cfg.MigrationsDir != "" {
		return os.DirFS(cfg.MigrationsDir)
	}
	return migrations.Postgres()
}

// seedCharacters upserts the character sheets listed in a JSON file.
func seedCharacters(ctx context.Context, store characterStore, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var sheets []*character.Character
	if err := json.Unmarshal(data, &sheets); err != nil {
		return 0, fmt.Errorf("decode %s: %w", path, err)
	}
	for _, c := range sheets {
		if c == nil || c.ID == "" {
			return 0, fmt.Errorf("character without id in %s", path)
		}
		if err := store.Put(ctx, c); err != nil {
			return 0, fmt.Errorf("put %s: %w", c.ID, err)
		}
	}
	return len(sheets), nil
}
