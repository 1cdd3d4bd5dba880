// Command chatbot is the main entrypoint for the chat bot. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Builds the event core: inbound queue, dispatch loop, permission and
//     cooldown gates, scheduler, and the module data store.
//   - Registers the feature modules (commands, alias, shoutout, attachments).
//   - Starts producers: IRC transport, timer ticks, stream status poller,
//     and the OAuth token refresher.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status,
//     /metrics, and /admin/command.
//
// Shutdown is graceful on SIGINT/SIGTERM: a sentinel drains the queue, then
// module shutdown hooks flush state in registration order.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/patchbay-tv/chatbot/admin"
	"github.com/patchbay-tv/chatbot/bot"
	"github.com/patchbay-tv/chatbot/chat"
	"github.com/patchbay-tv/chatbot/config"
	"github.com/patchbay-tv/chatbot/cooldown"
	"github.com/patchbay-tv/chatbot/db"
	"github.com/patchbay-tv/chatbot/dispatch"
	"github.com/patchbay-tv/chatbot/event"
	"github.com/patchbay-tv/chatbot/modules/alias"
	"github.com/patchbay-tv/chatbot/modules/attachments"
	"github.com/patchbay-tv/chatbot/modules/commands"
	"github.com/patchbay-tv/chatbot/modules/shoutout"
	"github.com/patchbay-tv/chatbot/oauth"
	"github.com/patchbay-tv/chatbot/permission"
	"github.com/patchbay-tv/chatbot/sched"
	"github.com/patchbay-tv/chatbot/server"
	"github.com/patchbay-tv/chatbot/store"
	"github.com/patchbay-tv/chatbot/telemetry"
	"github.com/patchbay-tv/chatbot/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	initLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	tracingShutdown, err := telemetry.InitTracing("chatbot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer tracingShutdown()

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Producer context: canceled on SIGINT/SIGTERM. The dispatch loop itself
	// runs on a background context so shutdown drains the queue through the
	// sentinel instead of aborting mid-flight.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(database, cfg.StoreFlushWorkers)
	if err != nil {
		slog.Error("failed to init module store", slog.Any("err", err))
		os.Exit(1)
	}
	defer st.Close()

	scheduler := sched.New()
	go scheduler.Run(ctx)

	registry := dispatch.NewRegistry()
	adminReg := admin.NewRegistry()

	perms, err := permission.Load(ctx, st)
	if err != nil {
		slog.Error("failed to load permission state", slog.Any("err", err))
		os.Exit(1)
	}

	botCtx := &bot.Context{
		Channel:  cfg.TwitchChannel,
		Registry: registry,
		Sched:    scheduler,
		Store:    st,
		Admin:    adminReg,
		Log:      slog.Default(),
	}

	// The loop is assigned below; the gate only calls Enqueue from its
	// scheduler callbacks, which cannot fire before the loop runs.
	var loop *dispatch.Loop
	cds, err := cooldown.Load(ctx, cooldown.Config{
		Store:    st,
		Schedule: scheduler.After,
		Enqueue:  func(e *event.Event) { loop.Enqueue(e) },
		Sender:   botCtx,
	})
	if err != nil {
		slog.Error("failed to load cooldown state", slog.Any("err", err))
		os.Exit(1)
	}
	if cds.Default() == 0 && cfg.DefaultCooldownSec > 0 {
		cds.SetDefault(cfg.DefaultCooldownSec)
	}

	loop = dispatch.NewLoop(dispatch.LoopConfig{
		Registry:    registry,
		Permissions: perms,
		Cooldowns:   cds,
		Admin:       adminReg,
		QueueSize:   cfg.QueueSize,
	})
	botCtx.Events = loop

	perms.RegisterAdmin(adminReg)
	cds.RegisterAdmin(adminReg)
	loop.OnShutdown(permission.ModuleID, perms.Shutdown)
	loop.OnShutdown(cooldown.ModuleID, cds.Shutdown)

	// Periodic timer ticks drive the cooldown runtime sweep (and any module
	// that subscribes to them).
	registry.Register(event.KindTimer, "cooldown-sweep", func(_ *event.Event) dispatch.Result {
		cds.Sweep()
		return dispatch.NotHandled
	})
	go func() {
		ticker := time.NewTicker(cfg.TimerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				loop.Enqueue(event.New(event.KindTimer))
			}
		}
	}()

	// Helix features need an app token (client credentials).
	if cfg.HelixReady() {
		botCtx.Helix = &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			ClientID:       cfg.TwitchClientID,
		}
		if cfg.TwitchChannel != "" {
			chat.StartStatusPoller(ctx, botCtx.Helix, cfg.TwitchChannel, cfg.StatusPollInterval, loop)
		}
		oauth.StartRefresher(ctx, database, cfg.TwitchClientID, cfg.TwitchClientSecret,
			cfg.TokenRefreshInterval, cfg.TokenRefreshWindow)
	}

	for _, m := range []bot.Module{commands.New(), alias.New(), shoutout.New(), attachments.New()} {
		if err := bot.Register(botCtx, loop, m); err != nil {
			slog.Error("module setup failed", slog.String("module", m.Name()), slog.Any("err", err))
			os.Exit(1)
		}
	}

	// IRC transport. The user token can come from env or from the token
	// store (populated out of band, kept fresh by the refresher).
	oauthToken := cfg.TwitchOAuthToken
	if oauthToken == "" {
		if access, _, _, _, err := db.GetOAuthToken(ctx, database, oauth.Provider); err == nil && access != "" {
			oauthToken = "oauth:" + access
			cfg.TwitchOAuthToken = oauthToken
		}
	}
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("chat transport disabled", slog.Any("reason", err))
	} else {
		irc := chat.New(cfg.TwitchChannel, cfg.TwitchBotUsername, oauthToken, loop)
		botCtx.Chat = irc
		go func() {
			if err := irc.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("chat transport exited", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/metrics/admin)
	handlers := server.NewHandlers(database, loop, cfg.TwitchChannel)
	server.Start(ctx, cfg.HTTPAddr, server.NewMux(handlers))

	go loop.Run(context.Background())

	// Block until shutdown signal, then drain through the sentinel.
	<-ctx.Done()
	slog.Info("shutting down")
	loop.Shutdown()
	<-loop.Done()
}

func initLogging() {
	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))
}
