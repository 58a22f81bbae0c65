package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"

	"github.com/relaycast/relaycast/pkg/api"
	"github.com/relaycast/relaycast/pkg/auth"
	"github.com/relaycast/relaycast/pkg/debug"
	"github.com/relaycast/relaycast/pkg/events"
	"github.com/relaycast/relaycast/pkg/logger"
	"github.com/relaycast/relaycast/pkg/platform"
	"github.com/relaycast/relaycast/pkg/retry"
	"github.com/relaycast/relaycast/pkg/session"
	"github.com/relaycast/relaycast/pkg/types"
	"github.com/relaycast/relaycast/pkg/upload"
)

type ServeOpts struct {
	ListenAddr string
	DebugAddr  string
	LogLevel   string

	StoreBackend   string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
	SessionTTL     time.Duration

	StaleTimeout  time.Duration
	SweepInterval time.Duration

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryJitter      float64

	MaxFileSize   uint64
	MaxChunkBytes int64

	ResumableBaseURL  string
	SegmentedEndpoint string
	MultipartBaseURL  string
	ContainerBaseURL  string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the upload orchestration server",
	Long: `Start the relaycast server: the session query API on the listen
address, plus metrics, health probes and pprof on the debug address.

Platform adapters are enabled by configuring their endpoint URLs; an
unconfigured platform rejects initialization with a validation error.`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.String("listen_addr", ":8080", "Address for the upload API")
	f.String("debug_addr", ":8090", "Address for metrics, health probes and pprof")
	f.String("log_level", "info", "Log level (debug, info, warn, error, fatal)")

	f.String("store_backend", "memory", "Session store backend (memory, redis)")
	f.String("redis_addr", "localhost:6379", "Redis address for the session store")
	f.String("redis_password", "", "Redis password")
	f.Int("redis_db", 0, "Redis database number")
	f.String("redis_key_prefix", "relaycast", "Redis key prefix")
	f.Duration("session_ttl", 0, "Session record TTL (default stale_timeout plus slack)")

	f.Duration("stale_timeout", upload.DefaultStaleTimeout, "Idle time before a session is reaped")
	f.Duration("sweep_interval", upload.DefaultSweepInterval, "How often the reaper scans for stale sessions")

	f.Int("retry_max_attempts", retry.DefaultConfig.MaxAttempts, "Attempts per adapter call, including the first")
	f.Duration("retry_base_delay", retry.DefaultConfig.BaseDelay, "Base delay seeding the retry backoff")
	f.Float64("retry_jitter", 0.2, "Backoff jitter fraction (0 disables)")

	f.Uint64("max_file_size", 0, "Service-wide upload size cap in bytes (0 = per-platform limits only)")
	f.Int64("max_chunk_bytes", api.DefaultMaxChunkBytes, "Largest accepted chunk request body")

	f.String("resumable_base_url", "", "Resumable-PUT platform API root")
	f.String("segmented_endpoint", "", "Segmented (INIT/APPEND/FINALIZE) platform command URL")
	f.String("multipart_base_url", "", "Multipart-chunk platform API root")
	f.String("container_base_url", "", "Container-publish platform API root")

	viper.BindPFlags(f)
}

func loadServeOpts(cmd *cobra.Command) ServeOpts {
	fl := NewFlagLoader(cmd)
	return ServeOpts{
		ListenAddr: fl.String("listen_addr"),
		DebugAddr:  fl.String("debug_addr"),
		LogLevel:   fl.String("log_level"),

		StoreBackend:   fl.String("store_backend"),
		RedisAddr:      fl.String("redis_addr"),
		RedisPassword:  fl.String("redis_password"),
		RedisDB:        fl.Int("redis_db"),
		RedisKeyPrefix: fl.String("redis_key_prefix"),
		SessionTTL:     fl.Duration("session_ttl"),

		StaleTimeout:  fl.Duration("stale_timeout"),
		SweepInterval: fl.Duration("sweep_interval"),

		RetryMaxAttempts: fl.Int("retry_max_attempts"),
		RetryBaseDelay:   fl.Duration("retry_base_delay"),
		RetryJitter:      fl.Float64("retry_jitter"),

		MaxFileSize:   fl.Uint64("max_file_size"),
		MaxChunkBytes: fl.Int64("max_chunk_bytes"),

		ResumableBaseURL:  fl.String("resumable_base_url"),
		SegmentedEndpoint: fl.String("segmented_endpoint"),
		MultipartBaseURL:  fl.String("multipart_base_url"),
		ContainerBaseURL:  fl.String("container_base_url"),
	}
}

func runServe(cmd *cobra.Command, args []string) {
	loadConfiguration("relaycast")
	opts := loadServeOpts(cmd)

	if lvl, err := zerolog.ParseLevel(opts.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	debug.SetNotReady()

	store := buildStore(opts)
	defer store.Close()

	registry := buildAdapters(opts)
	if len(registry.Platforms()) == 0 {
		logger.Warn().Msg("no platform endpoints configured; every initialization will be rejected")
	}

	emitter := buildEmitter()
	defer emitter.Close()

	creds := buildCredentials()

	orch := upload.New(store, registry, creds, emitter, upload.Config{
		Retry: retry.Config{
			MaxAttempts: opts.RetryMaxAttempts,
			BaseDelay:   opts.RetryBaseDelay,
			Jitter:      opts.RetryJitter,
		},
		MaxFileSize: opts.MaxFileSize,
	})
	defer orch.Close()

	reaper := upload.NewReaper(orch, store, upload.ReaperConfig{
		StaleTimeout:  opts.StaleTimeout,
		SweepInterval: opts.SweepInterval,
	})
	reaper.Start()
	defer reaper.Stop()

	debugSrv := &http.Server{Addr: opts.DebugAddr, Handler: debug.Mux()}
	go func() {
		logger.Info().Str("addr", opts.DebugAddr).Msg("debug server listening")
		if err := debugSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("debug server failed")
		}
	}()

	apiSrv := &http.Server{
		Addr:              opts.ListenAddr,
		Handler:           api.NewHandler(orch, api.Config{MaxChunkBytes: opts.MaxChunkBytes}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().
			Str("addr", opts.ListenAddr).
			Strs("platforms", platformNames(registry)).
			Str("store", opts.StoreBackend).
			Msg("upload API listening")
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("upload API failed")
		}
	}()

	debug.SetReady()

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stopChan

	logger.Info().Msg("shutting down")
	debug.SetNotReady()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("upload API shutdown failed")
	}
	if err := debugSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("debug server shutdown failed")
	}
}

func buildStore(opts ServeOpts) session.Store {
	ttl := opts.SessionTTL
	if ttl == 0 {
		// Slack past the stale cutoff so the reaper, not key expiry,
		// retires abandoned sessions.
		ttl = opts.StaleTimeout + 10*time.Minute
	}

	switch opts.StoreBackend {
	case "redis":
		store, err := session.NewRedisStore(session.RedisConfig{
			Addr:      opts.RedisAddr,
			Password:  opts.RedisPassword,
			DB:        opts.RedisDB,
			KeyPrefix: opts.RedisKeyPrefix,
			TTL:       ttl,
		})
		if err != nil {
			logger.Fatal().Err(err).Str("addr", opts.RedisAddr).Msg("redis session store unavailable")
		}
		return store
	case "memory":
		logger.Warn().Msg("memory session store selected; sessions do not survive restarts")
		return session.NewMemoryStore(ttl)
	default:
		logger.Fatal().Str("backend", opts.StoreBackend).Msg("unknown store backend")
		return nil
	}
}

func buildAdapters(opts ServeOpts) *platform.Registry {
	registry := platform.NewRegistry()
	if opts.ResumableBaseURL != "" {
		registry.Register(platform.NewResumablePut(platform.ResumablePutConfig{BaseURL: opts.ResumableBaseURL}))
	}
	if opts.SegmentedEndpoint != "" {
		registry.Register(platform.NewSegmented(platform.SegmentedConfig{Endpoint: opts.SegmentedEndpoint}))
	}
	if opts.MultipartBaseURL != "" {
		registry.Register(platform.NewMultipartChunk(platform.MultipartChunkConfig{BaseURL: opts.MultipartBaseURL}))
	}
	if opts.ContainerBaseURL != "" {
		registry.Register(platform.NewContainer(platform.ContainerConfig{BaseURL: opts.ContainerBaseURL}))
	}
	for _, a := range registry.Platforms() {
		if adapter, ok := registry.Get(a); ok {
			limits := adapter.Limits()
			logger.Info().
				Str("platform", a.String()).
				Str("max_file_size", humanize.Bytes(limits.MaxFileSize)).
				Str("chunk_size", humanize.Bytes(limits.ChunkSize)).
				Msg("platform enabled")
		}
	}
	return registry
}

func buildEmitter() *events.Emitter {
	var cfg events.Config
	if err := viper.UnmarshalKey("events", &cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid events configuration")
	}
	emitter, err := events.FromConfig(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("event publisher setup failed")
	}
	return emitter
}

// buildCredentials loads static bearer tokens from the "credentials" config
// section, keyed "<owner>/<platform>". Deployments with an external token
// service swap the provider in code; the static table covers single-tenant
// setups.
func buildCredentials() auth.CredentialProvider {
	provider := auth.NewStaticProvider()
	for key, token := range viper.GetStringMapString("credentials") {
		owner, plat, ok := strings.Cut(key, "/")
		if !ok || !types.Platform(plat).Valid() {
			logger.Fatal().Str("key", key).Msg(`credentials keys must look like "<owner>/<platform>"`)
		}
		provider.Set(owner, types.Platform(plat), &oauth2.Token{AccessToken: token})
	}
	return provider
}

func platformNames(registry *platform.Registry) []string {
	platforms := registry.Platforms()
	names := make([]string, 0, len(platforms))
	for _, p := range platforms {
		names = append(names, p.String())
	}
	return names
}
