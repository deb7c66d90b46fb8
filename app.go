package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"edumarket/api/config"
	"edumarket/api/conversion"
	"edumarket/api/database"
	"edumarket/api/events"
	"edumarket/api/handlers"
	"edumarket/api/kvstore"
	"edumarket/api/orchestrator"
	"edumarket/api/store"
	"edumarket/api/tracking"
	"edumarket/api/webhook"
)

const deviceGraphPrefix = "devicegraph:"

// app owns the long-lived resources of one process.
type app struct {
	cfg       *config.Config
	bus       *events.Bus
	registry  *orchestrator.Registry
	warehouse *store.AnalyticsStore
	users     *store.UserStore
	notifier  *webhook.Client
	closers   []func()
}

func setupLogging(ginMode string) {
	zerolog.TimeFieldFormat = time.RFC3339
	if ginMode == gin.ReleaseMode {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}

// newApp opens device storage and the engines. Warehouse and user database
// connections are opened only when withServices is set.
func newApp(ctx context.Context, cfg *config.Config, withServices bool) (*app, error) {
	a := &app{cfg: cfg, bus: events.NewBus()}

	root, err := a.openDeviceStorage(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	tc := cfg.Tracking
	attr, err := conversion.NewAttributor(tc.AttributionModel, tc.AttributionHalfLife, conversion.PositionWeights{
		First: tc.PositionWeights.First, Middle: tc.PositionWeights.Middle, Last: tc.PositionWeights.Last,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	engines, err := orchestrator.NewEngines(a.bus, kvstore.Namespace(root, deviceGraphPrefix), attr)
	if err != nil {
		a.close()
		return nil, err
	}

	opts := []orchestrator.RegistryOption{
		orchestrator.WithSiteHost(cfg.Server.SiteHost),
		orchestrator.WithAttributionWindow(cfg.Tracking.AttributionWindow),
		orchestrator.WithQuota(cfg.Storage.QuotaBytes),
		orchestrator.WithActiveTTL(cfg.Scheduler.ActiveVisitorTTL),
		orchestrator.WithDemo(cfg.DemoMode),
	}

	if withServices {
		if err := a.openServices(); err != nil {
			a.close()
			return nil, err
		}
		if geo := tracking.OpenGeoLocator(cfg.GeoIP.DatabasePath); geo != nil {
			a.closers = append(a.closers, geo.Close)
			opts = append(opts, orchestrator.WithLocator(geo))
		}
		if a.warehouse != nil {
			opts = append(opts, orchestrator.WithSink(a.warehouse))
		}
		a.notifier = webhook.New(cfg.Webhook.URL, cfg.Webhook.Timeout)
		opts = append(opts, orchestrator.WithNotifier(a.notifier))
	}

	a.registry = orchestrator.NewRegistry(root, engines, opts...)
	return a, nil
}

func (a *app) openDeviceStorage(ctx context.Context) (kvstore.Store, error) {
	switch backend := strings.ToLower(a.cfg.Storage.Backend); backend {
	case "", "memory":
		log.Warn().Msg("Using in-memory device storage, visitor data is lost on restart")
		return kvstore.NewMemory(0), nil
	case "sqlite":
		db, err := database.OpenSQLite(a.cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { db.Close() })
		return kvstore.NewSQLite(ctx, db, 0)
	case "redis":
		client, err := database.NewRedisClient(a.cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { client.Close() })
		return kvstore.NewRedis(client, "edumarket", 0), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// openServices connects the optional ClickHouse warehouse, the Postgres user
// database and the Kafka forwarder. A configured service that cannot be
// reached is an error.
func (a *app) openServices() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.cfg.ClickHouse.Addr != "" {
		ch, err := database.NewClickHouseDB(a.cfg.ClickHouse)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, ch.Close)
		if err := ch.Migrate(ctx); err != nil {
			return err
		}
		a.warehouse = store.NewAnalyticsStore(ch.Conn)
	} else {
		log.Warn().Msg("ClickHouse not configured, dashboard and event mirroring disabled")
	}

	if a.cfg.Postgres.DSN != "" {
		pg, err := database.NewPostgresDB(a.cfg.Postgres)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		a.users = store.NewUserStore(pg.DB)
	} else {
		log.Warn().Msg("Postgres not configured, dashboard sign-in disabled")
	}

	if fwd := events.NewKafkaForwarder(a.cfg.Kafka); fwd != nil {
		unsubscribe := a.bus.SubscribeAll(fwd.Publish)
		a.closers = append(a.closers, func() {
			unsubscribe()
			fwd.Close()
		})
		log.Info().Strs("brokers", a.cfg.Kafka.Brokers).Msg("Forwarding events to Kafka")
	}

	a.bus.SubscribeAll(func(_ context.Context, e events.Event) {
		log.Debug().Str("event", string(e.Name)).Str("visitor_id", e.VisitorID).Msg("Event published")
	})
	return nil
}

func (a *app) routerDeps() (handlers.Deps, error) {
	tokens, err := newTokenIssuer(a.cfg.Auth.JWTSecret)
	if err != nil {
		return handlers.Deps{}, err
	}
	d := handlers.Deps{
		Registry:      a.registry,
		Tokens:        tokens,
		Webhook:       a.notifier,
		APIKey:        a.cfg.Auth.DefaultAPIKey,
		Origins:       a.cfg.Server.AllowedOrigins,
		SecureCookies: a.cfg.Server.GinMode == gin.ReleaseMode,
	}
	// typed nils must not reach the interfaces
	if a.warehouse != nil {
		d.Warehouse = a.warehouse
	}
	if a.users != nil {
		d.Users = a.users
	}
	return d, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
