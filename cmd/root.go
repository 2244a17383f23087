package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/lepinkainen/deckhand/cmd/collection"
	"github.com/lepinkainen/deckhand/internal/config"
	"github.com/lepinkainen/humanlog"
	"github.com/spf13/viper"
)

var (
	importCollection = collection.ImportWithParams
	showCacheStats   = collection.ShowCacheStats
	resetCache       = collection.ResetCache
)

// CLI represents the complete command structure for the deckhand application
type CLI struct {
	// Global flags
	Verbose bool `short:"v" help:"Enable debug logging"`

	// Card service flags
	RateLimit   float64 `help:"Maximum requests per second to the card service (default 10)"`
	Concurrency int     `help:"Maximum concurrent requests to the card service (default 4)"`

	// Cache flags
	CacheBackend string `help:"Session cache backend: sqlite, memory or redis (default sqlite)"`
	CacheDBFile  string `help:"Path to cache SQLite database file (default ./cache.db)"`
	CacheTTL     string `help:"Cache time-to-live duration (e.g., 720h for 30 days)"`
	RedisAddr    string `help:"Redis address for the redis cache backend"`

	// Datastore flags
	DatastoreDB string `help:"Path to collection SQLite database (default ./deckhand.db)"`

	Import ImportCmd `cmd:"" help:"Import and enrich a card collection"`
	Cache  CacheCmd  `cmd:"" help:"Inspect or clear the card cache"`
}

// ImportCmd represents the import command and its subcommands
type ImportCmd struct {
	CSV        CSVCmd        `cmd:"" name:"csv" help:"Import a collection CSV export"`
	Decklist   DecklistCmd   `cmd:"" help:"Import a plain-text decklist"`
	Structured StructuredCmd `cmd:"" help:"Import a YAML or JSON card list"`
}

// ImportFlags are shared by every import subcommand
type ImportFlags struct {
	Input      string `short:"f" help:"Path to the file to import"`
	Collection string `short:"c" help:"Collection name for stored rows (defaults to the file name)"`
	JSONOutput string `help:"Write the enriched collection to this JSON file"`
	Overwrite  bool   `help:"Overwrite an existing JSON output file"`
	NoStore    bool   `help:"Do not write the collection to the datastore"`
}

// CSVCmd represents the csv import command
type CSVCmd struct {
	ImportFlags `embed:""`
}

// DecklistCmd represents the decklist import command
type DecklistCmd struct {
	ImportFlags `embed:""`
}

// StructuredCmd represents the structured import command
type StructuredCmd struct {
	ImportFlags `embed:""`
}

// CacheCmd represents the cache command and its subcommands
type CacheCmd struct {
	Stats CacheStatsCmd `cmd:"" help:"Show session cache entry count and size"`
	Reset CacheResetCmd `cmd:"" help:"Remove every cached card"`
}

// CacheStatsCmd represents the cache stats command
type CacheStatsCmd struct{}

// CacheResetCmd represents the cache reset command
type CacheResetCmd struct{}

// Execute runs the Kong-based CLI
func Execute() {
	initLogging(logLevelFromEnv())
	initConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli CLI

	kctx := kong.Parse(&cli,
		kong.Name("deckhand"),
		kong.Description("Import card collections and enrich them with canonical card data."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	if cli.Verbose {
		initLogging(slog.LevelDebug)
	}
	updateGlobalConfig(&cli)

	if err := kctx.Run(); err != nil {
		slog.Error("Command failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	config.SetDefaults()
	config.BindEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Info("Config file not found, writing default config file...")
			if err := viper.SafeWriteConfig(); err != nil {
				slog.Error("Error writing config file", "error", err)
			}
		} else {
			slog.Error("Fatal error config file", "error", err)
			os.Exit(1)
		}
	}
}

// updateGlobalConfig copies explicitly given flags over config file values.
func updateGlobalConfig(cli *CLI) {
	if cli.RateLimit != 0 {
		viper.Set("ratelimit.persecond", cli.RateLimit)
	}
	if cli.Concurrency != 0 {
		viper.Set("ratelimit.concurrency", cli.Concurrency)
	}

	if cli.CacheBackend != "" {
		viper.Set("cache.backend", cli.CacheBackend)
	}
	if cli.CacheDBFile != "" {
		viper.Set("cache.dbfile", cli.CacheDBFile)
	}
	if cli.CacheTTL != "" {
		viper.Set("cache.ttl", cli.CacheTTL)
	}
	if cli.RedisAddr != "" {
		viper.Set("cache.redis.addr", cli.RedisAddr)
	}

	if cli.DatastoreDB != "" {
		viper.Set("datastore.dbfile", cli.DatastoreDB)
	}
}

// Run methods for each command

func (c *CSVCmd) Run(ctx context.Context) error {
	return c.run(ctx, collection.FormatCSV)
}

func (d *DecklistCmd) Run(ctx context.Context) error {
	return d.run(ctx, collection.FormatDecklist)
}

func (s *StructuredCmd) Run(ctx context.Context) error {
	return s.run(ctx, collection.FormatStructured)
}

func (f *ImportFlags) run(ctx context.Context, format collection.Format) error {
	if f.Input == "" {
		return fmt.Errorf("input file is required (provide via --input flag)")
	}

	return importCollection(ctx, collection.ImportParams{
		Format:     format,
		Input:      f.Input,
		Collection: f.Collection,
		JSONOutput: f.JSONOutput,
		Overwrite:  f.Overwrite,
		NoStore:    f.NoStore,
	})
}

func (c *CacheStatsCmd) Run(ctx context.Context) error {
	return showCacheStats(ctx)
}

func (c *CacheResetCmd) Run(ctx context.Context) error {
	return resetCache(ctx)
}

// logLevelFromEnv reads DECKHAND_LOG_LEVEL, defaulting to info.
func logLevelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv(config.EnvPrefix + "_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func initLogging(level slog.Level) {
	handler := humanlog.NewHandler(os.Stdout, &humanlog.Options{
		Level: level,
	})

	slog.SetDefault(slog.New(handler))
}
