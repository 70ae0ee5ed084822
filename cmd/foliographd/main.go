// Command foliographd runs the book-metadata HTTP service: ISBN/title/author
// enrichment, CSV import, and bookshelf-photo scanning, each streamed over a
// per-job WebSocket. Flag-struct layout follows the teacher's main.go
// (server/pgconfig/logconfig embedding).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/alecthomas/kong"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foliograph/foliograph/internal/analytics"
	"github.com/foliograph/foliograph/internal/cache"
	"github.com/foliograph/foliograph/internal/config"
	"github.com/foliograph/foliograph/internal/enrich"
	"github.com/foliograph/foliograph/internal/gqlbatch"
	"github.com/foliograph/foliograph/internal/logging"
	"github.com/foliograph/foliograph/internal/pipeline"
	"github.com/foliograph/foliograph/internal/progress"
	"github.com/foliograph/foliograph/internal/providers"
	"github.com/foliograph/foliograph/internal/ratelimit"
	"github.com/foliograph/foliograph/internal/store"
	"github.com/foliograph/foliograph/internal/transporthttp"
)

type cli struct {
	Serve server `cmd:"" help:"Run the HTTP server." default:"1"`
}

type server struct {
	pgconfig
	logconfig
	upstreamConfig

	Port int `default:"8788" help:"Port to serve traffic on."`
}

type pgconfig struct {
	PostgresHost     string `default:"localhost" help:"Postgres host."`
	PostgresUser     string `default:"postgres" help:"Postgres user."`
	PostgresPassword string `default:"" help:"Postgres password."`
	PostgresPort     int    `default:"5432" help:"Postgres port."`
	PostgresDatabase string `default:"foliograph" help:"Postgres database to use."`
}

func (c *pgconfig) dsn() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDatabase)
}

type logconfig struct {
	logging.Config
}

type upstreamConfig struct {
	VolumeCatalogURL string `default:"https://volumecatalog.example.com" help:"Volume-Catalog GraphQL endpoint."`
	OpenBibURL       string `default:"https://openbib.example.com" help:"Open-Bib REST endpoint."`
	ISBNRegistryURL  string `default:"https://isbnregistry.example.com" help:"ISBN-Registry XML endpoint."`
	MultimodalURL    string `default:"https://multimodal.example.com" help:"Multimodal-Model completion endpoint."`

	VolumeCatalogKey string `default:"" help:"Volume-Catalog API key."`
	OpenBibKey       string `default:"" help:"Open-Bib API key."`
	ISBNRegistryKey  string `default:"" help:"ISBN-Registry API key."`
	MultimodalKey    string `default:"" help:"Multimodal-Model API key."`

	UpstreamRPS float64 `default:"5" help:"Maximum outbound requests per second, per provider."`
}

func (s *server) Run() error {
	logger := logging.New(s.logconfig.Config, os.Stderr)

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, s.dsn())
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, store.Schema); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	kv := store.NewPGStore(pool)

	c, err := cache.New(kv, 1<<28)
	if err != nil {
		return fmt.Errorf("setting up cache: %w", err)
	}

	cfg := config.Default()
	clock := config.RealClock{}
	sink := analytics.LoggingSink{}

	orch := enrich.New(cfg, c, s.volumeCatalogClient(sink), s.openBibClient(sink), s.isbnRegistryClient(sink), clock)
	multimodal := s.multimodalClient(sink)

	limiter := ratelimit.New(cfg, kv, clock)
	registry := progress.NewRegistry(cfg, kv, clock)
	launcher := pipeline.NewLauncher(registry, cfg, clock)

	h := newHandler(cfg, orch, multimodal, c, registry, launcher)
	mux := h.routes()

	handler := ratelimit.Chain(limiter, ratelimit.RemoteAddrKey)(mux)

	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:     addr,
		Handler:  handler,
		ErrorLog: slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
	}

	logger.Info("listening", "addr", addr)
	return srv.ListenAndServe()
}

func (s *server) secret(key string) providers.Secret {
	if key == "" {
		return providers.StaticSecret("")
	}
	return providers.StaticSecret(key)
}

func (s *server) volumeCatalogClient(sink analytics.Sink) *providers.VolumeCatalogClient {
	gql := gqlbatch.NewBatchedClient(s.VolumeCatalogURL, s.httpClient(s.VolumeCatalogURL), s.UpstreamRPS, 10)
	return providers.NewVolumeCatalogClient(gql, s.secret(s.VolumeCatalogKey), sink)
}

func (s *server) openBibClient(sink analytics.Sink) *providers.OpenBibClient {
	return providers.NewOpenBibClient(s.httpClient(s.OpenBibURL), s.OpenBibURL, s.secret(s.OpenBibKey), sink)
}

func (s *server) isbnRegistryClient(sink analytics.Sink) *providers.ISBNRegistryClient {
	return providers.NewISBNRegistryClient(s.httpClient(s.ISBNRegistryURL), s.ISBNRegistryURL, s.secret(s.ISBNRegistryKey), sink)
}

func (s *server) multimodalClient(sink analytics.Sink) *providers.MultimodalClient {
	return providers.NewMultimodalClient(s.httpClient(s.MultimodalURL), s.MultimodalURL, s.secret(s.MultimodalKey), sink)
}

// httpClient builds the composable outbound transport stack (scoped,
// throttled, error-classifying) for one provider's base URL.
func (s *server) httpClient(rawBaseURL string) *http.Client {
	u, err := url.Parse(rawBaseURL)
	if err != nil {
		return &http.Client{}
	}
	transport := transporthttp.Build(u.Scheme, u.Host, s.UpstreamRPS, http.Header{})
	return &http.Client{Transport: transport}
}

func main() {
	kctx := kong.Parse(&cli{})
	if err := kctx.Run(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func init() {
	_, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.9),
		memlimit.WithLogger(slog.Default()),
		memlimit.WithProvider(
			memlimit.ApplyFallback(
				memlimit.FromCgroup,
				memlimit.FromSystem,
			),
		),
	)
	if err != nil {
		panic(err)
	}
}
