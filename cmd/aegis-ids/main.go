// Command aegis-ids runs the Identity Service's secure-channel permission
// and real-time delivery core: the REST control surface, the messaging
// gateway, and the voice signaling hub.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aegis-chat/aegis-ids/internal/api"
	"github.com/aegis-chat/aegis-ids/internal/apierr"
	"github.com/aegis-chat/aegis-ids/internal/audit"
	"github.com/aegis-chat/aegis-ids/internal/auth"
	"github.com/aegis-chat/aegis-ids/internal/channel"
	"github.com/aegis-chat/aegis-ids/internal/config"
	"github.com/aegis-chat/aegis-ids/internal/controlsurface"
	"github.com/aegis-chat/aegis-ids/internal/eventbus"
	"github.com/aegis-chat/aegis-ids/internal/gateway"
	"github.com/aegis-chat/aegis-ids/internal/httputil"
	"github.com/aegis-chat/aegis-ids/internal/member"
	"github.com/aegis-chat/aegis-ids/internal/metrics"
	"github.com/aegis-chat/aegis-ids/internal/override"
	"github.com/aegis-chat/aegis-ids/internal/permission"
	"github.com/aegis-chat/aegis-ids/internal/postgres"
	"github.com/aegis-chat/aegis-ids/internal/postgres/migrations"
	"github.com/aegis-chat/aegis-ids/internal/ratelimit"
	"github.com/aegis-chat/aegis-ids/internal/readstate"
	"github.com/aegis-chat/aegis-ids/internal/redisconn"
	"github.com/aegis-chat/aegis-ids/internal/role"
	servercfg "github.com/aegis-chat/aegis-ids/internal/server"
	"github.com/aegis-chat/aegis-ids/internal/securerule"
	"github.com/aegis-chat/aegis-ids/internal/voice"
	"github.com/aegis-chat/aegis-ids/internal/voicecontrol"
	"github.com/aegis-chat/aegis-ids/internal/voicehub"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("aegis-ids stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Str("env", cfg.ServerEnv).
		Msg("Starting aegis-ids")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard. Set an explicit origin when in production.")
	}

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := postgres.Migrate(cfg.DatabaseURL, migrations.FS, log.Logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	rdb, err := redisconn.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("Redis connected")

	// Repositories.
	servers := servercfg.NewPGRepository(db)
	channels := channel.NewPGRepository(db)
	roles := role.NewPGRepository(db)
	members := member.NewPGRepository(db)
	overrides := override.NewPGStore(db)
	voices := voice.NewPGRepository(db)
	readStates := readstate.NewPGRepository(db)
	auditRepo := audit.NewPGRepository(db)

	// Metrics.
	reg := prometheus.NewRegistry()
	collectors := metrics.New(reg)

	// Event bus.
	bus := eventbus.New(log.Logger)

	// Audit sink (publishes audit.created to the bus on every append).
	auditSink := audit.NewSink(auditRepo, bus, log.Logger)

	// Permission resolver, backed by a Redis-cached store adapter.
	permStore := permission.NewStoreAdapter(servers, roles, members, overrides)
	permCache := permission.NewRedisCache(rdb, cfg.PermissionCacheTTL)
	resolver := permission.NewResolver(permStore, permCache, log.Logger)

	// Secure-channel rate limiter, swept periodically to bound memory.
	limiter := ratelimit.New(cfg.RateLimitWindow, cfg.RateLimitCap)
	limiter.SetDenialCounter(collectors.RateLimiterDenials)

	// Rule engine.
	engine := securerule.NewEngine(channels, resolver, limiter, auditSink, securerule.Thresholds{
		LockdownBypassLevel:  cfg.LockdownBypassLevel,
		SecureViewLogsLevel:  cfg.SecureViewLogsLevel,
		SecureLockdownLevel:  cfg.SecureLockdownLevel,
		BlockDeleteLevel:     cfg.BlockDeleteLevel,
		RateLimitExemptLevel: cfg.RateLimitExemptLevel,
	}, log.Logger)
	engine.SetDecisionCounter(collectors.RuleEngineDecisions)

	// Messaging gateway.
	sessions := gateway.NewSessionStore(rdb, cfg.PermissionCacheTTL)
	gatewayHub := gateway.NewHub(bus, resolver, members, channels, readStates, sessions,
		cfg.TypingExpiry, collectors.GatewayConnections, log.Logger)

	// Voice signaling hub.
	voiceHub := voicehub.NewHub(voices, resolver, channels, bus, log.Logger)

	// Secure-channel control surface.
	surface := controlsurface.New(channels, roles, members, overrides, servers, resolver, permCache, engine,
		auditSink, bus, gatewayHub, cfg.MaxRolesPerServer, log.Logger)
	voiceSurface := voicecontrol.New(voices, channels, resolver, bus, cfg.VoiceHeartbeatTimeout, log.Logger)

	subCtx, subCancel := context.WithCancel(ctx)
	go limiter.Run(subCtx, cfg.RateLimitWindow)

	app := fiber.New(fiber.Config{
		AppName: "aegis-ids",
	})
	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))

	registerRoutes(app, cfg, db, rdb, surface, voiceSurface, roles, gatewayHub, voiceHub, reg)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down aegis-ids")
		gatewayHub.Shutdown()
		voiceHub.Shutdown()
		subCancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", cfg.Listen).Msg("Server listening")
	if err := app.Listen(cfg.Listen, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func registerRoutes(
	app *fiber.App,
	cfg *config.Config,
	db *pgxpool.Pool,
	rdb *redis.Client,
	surface *controlsurface.Surface,
	voiceSurface *voicecontrol.Surface,
	roles role.Repository,
	gatewayHub *gateway.Hub,
	voiceHub *voicehub.Hub,
	reg *prometheus.Registry,
) {
	requireAuth := auth.RequireAuth(cfg.JWTSecret, cfg.JWTIssuer)

	healthHandler := api.NewHealthHandler(db, rdb)
	app.Get("/health", healthHandler.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	servers := app.Group("/servers/:server", requireAuth)

	channelSecurity := api.NewChannelSecurityHandler(surface, log.Logger)
	servers.Post("/channels/:channel/secure", channelSecurity.SetSecure)
	servers.Delete("/channels/:channel/secure", channelSecurity.RemoveSecure)
	servers.Post("/channels/:channel/lockdown", channelSecurity.TriggerLockdown)
	servers.Delete("/channels/:channel/lockdown", channelSecurity.ReleaseLockdown)
	servers.Get("/channels/:channel/secure/audit", channelSecurity.ListAudit)

	overrideHandler := api.NewOverrideHandler(surface, log.Logger)
	servers.Get("/channels/:channel/user-overrides", overrideHandler.List)
	servers.Get("/channels/:channel/user-overrides/:user", overrideHandler.Get)
	servers.Put("/channels/:channel/user-overrides/:user", overrideHandler.Set)
	servers.Delete("/channels/:channel/user-overrides/:user", overrideHandler.Delete)

	roleHandler := api.NewRoleHandler(roles, surface, log.Logger)
	servers.Get("/roles", roleHandler.List)
	servers.Post("/roles", roleHandler.Create)
	servers.Patch("/roles/:role", roleHandler.Update)
	servers.Delete("/roles/:role", roleHandler.Delete)
	servers.Put("/roles/reorder", roleHandler.Reorder)
	servers.Post("/members/:user/roles", roleHandler.AssignMemberRole)
	servers.Delete("/members/:user/roles/:role", roleHandler.RemoveMemberRole)

	voiceHandler := api.NewVoiceHandler(voiceSurface, log.Logger)
	voiceGroup := app.Group("/voice/:server/:channel", requireAuth)
	voiceGroup.Post("/join", voiceHandler.Join)
	voiceGroup.Post("/leave", voiceHandler.Leave)
	voiceGroup.Post("/heartbeat", voiceHandler.Heartbeat)
	voiceGroup.Patch("/state", voiceHandler.SetState)
	voiceGroup.Post("/stage/request", voiceHandler.RequestStage)
	voiceGroup.Post("/stage/promote/:user", voiceHandler.PromoteStage)
	voiceGroup.Post("/stage/demote/:user", voiceHandler.DemoteStage)

	gatewayHandler := api.NewGatewayHandler(gatewayHub, cfg.JWTSecret, cfg.JWTIssuer)
	app.Get("/gateway/ws", gatewayHandler.Upgrade)

	voiceHubHandler := api.NewVoiceHubHandler(voiceHub, cfg.JWTSecret, cfg.JWTIssuer)
	app.Get("/voice/ws", voiceHubHandler.Upgrade)

	app.Use(func(c fiber.Ctx) error {
		return httputil.Fail(c, apierr.NotFound, "No matching route")
	})
}
