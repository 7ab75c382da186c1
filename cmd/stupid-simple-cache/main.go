package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ssc "github.com/bedynamictech/Stupid-Simple-Cache"
	"github.com/bedynamictech/Stupid-Simple-Cache/admin"
	"github.com/bedynamictech/Stupid-Simple-Cache/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// CLI flags
	configFlag         string
	listenFlag         string
	originFlag         string
	providerFlag       string
	cachePathFlag      string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", getenvDefault("SSC_CONFIG", ""), "Path to the yaml config file")
	flag.StringVar(&listenFlag, "listen", "", "Address to listen on (default :8080)")
	flag.StringVar(&originFlag, "origin", "", "Origin URL generating the pages")
	flag.StringVar(&providerFlag, "provider", "", "Cache provider: file, sqlite, leveldb or memory")
	flag.StringVar(&cachePathFlag, "cache-path", "", "Cache directory or database file")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	config, err := getConfig(configFlag)
	if err != nil {
		log.Fatal().Err(err).Str("file", configFlag).Msg("Could not read config")
	}
	applyFlags(&config)
	if err := config.validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	setupLogging(config)

	provider, err := openCache(config)
	if err != nil {
		log.Fatal().Err(err).Str("provider", config.Cache.Provider).Msg("Could not open cache")
	}
	defer provider.Close()

	m := metrics.New(true)
	gate := ssc.New(ssc.Config{
		Cache:         provider,
		Logger:        &log.Logger,
		TTL:           config.ttl,
		BrowserMaxAge: config.browserMaxAge,
		Whitelist:     ssc.ParseWhitelist(config.Whitelist),
		AdminPrefixes: config.prefixes(),
		Headers:       config.ResponseHeaders,
		Modules:       config.Modules,
		Coalesce:      config.Coalesce,
		Metrics:       m,
	})

	if config.ClearSchedule != "" {
		c, err := gate.ScheduleClear(config.ClearSchedule)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not schedule cache clear")
		}
		defer c.Stop()
	}

	origin, err := newOrigin(config.Origin, config.OriginHost, gate)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse origin url")
	}

	if config.Admin.Username == "" {
		log.Warn().Msg("No admin credentials configured, the admin pages will refuse every request")
	}
	adminHandler := admin.New(admin.Options{
		Cache:    gate,
		Prefix:   config.Admin.Path,
		Username: config.Admin.Username,
		Password: config.Admin.Password,
		Metrics:  m.Handler(),
		Logger:   &log.Logger,
	})

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Mount(config.Admin.Path, adminHandler)
	r.Handle("/*", gate.Middleware(origin))

	srv := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Msgf("Caching %s on %s (admin at %s)", config.Origin, config.Listen, config.Admin.Path)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server error")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Shutdown did not complete")
	}
}

// applyFlags lets flags given on the command line override the config file.
func applyFlags(config *Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			config.Listen = listenFlag
		case "origin":
			config.Origin = originFlag
		case "provider":
			config.Cache.Provider = providerFlag
		case "cache-path":
			config.Cache.Path = cachePathFlag
		case "vv":
			config.Log.Trace = verbosityTraceFlag
		case "log-file":
			config.Log.File = logFilenameFlag
		}
	})
}

// setupLogging sends logs to stdout and, if configured, a rotating log file.
func setupLogging(config Config) {
	logLevel := zerolog.DebugLevel
	if config.Log.Trace {
		logLevel = zerolog.TraceLevel
	}

	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if config.Log.File != "" {
		logOutputs = append(logOutputs, &lumberjack.Logger{
			Filename:   config.Log.File,
			MaxSize:    config.Log.MaxSize,
			MaxBackups: config.Log.MaxBackups,
			Compress:   config.Log.Compress,
			LocalTime:  true,
		})
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Timestamp().Str("version", version).Logger()
}
