package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hyphanet/plugin-Library-sub002/archive"
	"github.com/hyphanet/plugin-Library-sub002/arcstore"
	"github.com/hyphanet/plugin-Library-sub002/protoindex"
	"github.com/hyphanet/plugin-Library-sub002/registry"
	"github.com/hyphanet/plugin-Library-sub002/util/cliutil"

	_ "github.com/joho/godotenv/autoload"
	_ "go.uber.org/automaxprocs"

	"github.com/adrg/xdg"
	"github.com/carlmjohnson/versioninfo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"gorm.io/plugin/opentelemetry/tracing"
)

var log = slog.Default().With("system", "libidx")

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func newApp() *cli.App {

	app := &cli.App{
		Name:    "libidx",
		Usage:   "build and query partially-loaded search indexes",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "store",
			Usage:   "directory of the local block archive",
			Value:   filepath.Join(xdg.DataHome, "libidx", "store"),
			EnvVars: []string{"LIBIDX_STORE"},
		},
		&cli.StringFlag{
			Name:    "store-kind",
			Usage:   "local block archive format: flatfs or pebble",
			Value:   "flatfs",
			EnvVars: []string{"LIBIDX_STORE_KIND"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "archive blocks in redis instead of the local store",
			EnvVars: []string{"LIBIDX_REDIS_URL"},
		},
		&cli.IntFlag{
			Name:    "cache-size",
			Usage:   "number of blocks cached in process, 0 to disable",
			Value:   4096,
			EnvVars: []string{"LIBIDX_CACHE_SIZE"},
		},
		&cli.IntFlag{
			Name:    "node-min",
			Usage:   "minimum degree of the trees of new indexes",
			Value:   protoindex.DefaultConfig().NodeMin,
			EnvVars: []string{"LIBIDX_NODE_MIN"},
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "number of archive workers",
			Value:   protoindex.DefaultConfig().Workers,
			EnvVars: []string{"LIBIDX_WORKERS"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string for the root registry",
			EnvVars: []string{"LIBIDX_DATABASE_URL", "DATABASE_URL"},
		},
		&cli.BoolFlag{
			Name:    "db-tracing",
			EnvVars: []string{"LIBIDX_DB_TRACING"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"LIBIDX_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "serve prometheus metrics on this address while running",
			EnvVars: []string{"LIBIDX_METRICS_LISTEN"},
		},
		&cli.BoolFlag{
			Name: "jaeger",
		},
		&cli.StringFlag{
			Name:    "otel-exporter-otlp-endpoint",
			EnvVars: []string{"OTEL_EXPORTER_OTLP_ENDPOINT"},
		},
		&cli.StringFlag{
			Name:    "env",
			Value:   "dev",
			EnvVars: []string{"ENVIRONMENT"},
			Usage:   "declared hosting environment (prod, qa, etc); used in traces",
		},
	}

	app.Before = setup
	app.After = func(cctx *cli.Context) error {
		shutdownOTEL()
		return nil
	}

	app.Commands = []*cli.Command{
		buildCmd,
		lookupCmd,
		dumpCmd,
		exportCarCmd,
		importCarCmd,
		resolveCmd,
	}

	return app
}

func setup(cctx *cli.Context) error {
	logger, err := cliutil.SetupSlog(cliutil.LogOptions{
		Level: cctx.String("log-level"),
	})
	if err != nil {
		return err
	}
	log = logger.With("system", "libidx")

	if err := setupOTEL(cctx); err != nil {
		return err
	}

	if addr := cctx.String("metrics-listen"); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Info("serving metrics", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error("failed to start metrics endpoint", "err", err)
			}
		}()
	}
	return nil
}

var tracerShutdown func(context.Context) error

func shutdownOTEL() {
	if tracerShutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tracerShutdown(ctx); err != nil {
		slog.Error("failed to shutdown trace exporter", "error", err)
	}
}

func setupOTEL(cctx *cli.Context) error {

	env := cctx.String("env")
	if env == "" {
		env = "dev"
	}
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String("libidx"),
		attribute.String("env", env),         // DataDog
		attribute.String("environment", env), // Others
		attribute.Int64("ID", 1),
	)

	if cctx.Bool("jaeger") {
		jaegerUrl := "http://localhost:14268/api/traces"
		exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerUrl)))
		if err != nil {
			return err
		}
		tp := tracesdk.NewTracerProvider(
			tracesdk.WithBatcher(exp),
			tracesdk.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		tracerShutdown = tp.Shutdown
	}

	// Enable OTLP HTTP exporter
	// For relevant environment variables:
	// https://pkg.go.dev/go.opentelemetry.io/otel/exporters/otlp/otlptrace#readme-environment-variables
	// At a minimum, you need to set
	// OTEL_EXPORTER_OTLP_ENDPOINT=http://localhost:4318
	if ep := cctx.String("otel-exporter-otlp-endpoint"); ep != "" {
		slog.Info("setting up trace exporter", "endpoint", ep)

		exp, err := otlptracehttp.New(cctx.Context)
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := tracesdk.NewTracerProvider(
			tracesdk.WithBatcher(exp),
			tracesdk.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		tracerShutdown = tp.Shutdown
	}

	return nil
}

// openBackend opens the block archive the global flags describe. The returned closer releases it.
func openBackend(cctx *cli.Context) (archive.Backend, io.Closer, error) {
	var (
		be     archive.Backend
		closer io.Closer = nopCloser{}
	)

	if rurl := cctx.String("redis-url"); rurl != "" {
		log.Info("using redis archive", "url", rurl)
		r, err := arcstore.NewRedis(cctx.Context, rurl, cctx.Int("cache-size"), 10*time.Minute)
		if err != nil {
			return nil, nil, err
		}
		// redis keeps its own in-process cache
		return r, r, nil
	}

	dir := cctx.String("store")
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, nil, err
	}
	switch kind := cctx.String("store-kind"); kind {
	case "flatfs":
		bs, err := arcstore.OpenFlatfs(dir)
		if err != nil {
			return nil, nil, err
		}
		be = bs
	case "pebble":
		p, err := arcstore.OpenPebble(dir)
		if err != nil {
			return nil, nil, err
		}
		be, closer = p, p
	default:
		return nil, nil, fmt.Errorf("unknown store kind %q (want flatfs or pebble)", kind)
	}
	log.Debug("opened local archive", "dir", dir, "kind", cctx.String("store-kind"))

	if n := cctx.Int("cache-size"); n > 0 {
		c, err := arcstore.NewCached(be, n)
		if err != nil {
			closer.Close()
			return nil, nil, err
		}
		be = c
	}
	return be, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func indexConfig(cctx *cli.Context) *protoindex.Config {
	cfg := protoindex.DefaultConfig()
	cfg.NodeMin = cctx.Int("node-min")
	cfg.Workers = cctx.Int("workers")
	cfg.Logger = log.With("system", "protoindex")
	return cfg
}

var errNoDatabase = errors.New("no registry database configured (set --database-url)")

// openRegistry returns nil, nil when no database is configured.
func openRegistry(cctx *cli.Context) (*registry.Registry, error) {
	dburl := cctx.String("database-url")
	if dburl == "" {
		return nil, nil
	}
	log.Info("setting up registry database", "url", dburl)
	db, err := cliutil.SetupDatabase(dburl, 4)
	if err != nil {
		return nil, err
	}
	if cctx.Bool("db-tracing") {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, err
		}
	}
	return registry.New(db)
}

func parseRoot(cctx *cli.Context) (archive.Locator, error) {
	return parseRootString(cctx.Args().First())
}

func parseRootString(s string) (archive.Locator, error) {
	if s == "" {
		return archive.Locator{}, fmt.Errorf("root locator argument is required")
	}
	return archive.ParseLocator(s)
}
