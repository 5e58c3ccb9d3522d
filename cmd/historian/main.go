// cmd/historian drains queued game records from Redis into Postgres.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jason-s-yu/dyad/internal/cache"
	"github.com/jason-s-yu/dyad/internal/catalog"
	"github.com/jason-s-yu/dyad/internal/database"
	"github.com/jason-s-yu/dyad/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	redisAddr   string
	redisDB     int
	databaseURL string
	queue       string
	batchSize   int
	flushDelay  time.Duration
	verbose     bool
}

func (c *Config) validate() error {
	if c.databaseURL == "" {
		return errors.New("--database-url is required")
	}
	if c.batchSize < 1 {
		return fmt.Errorf("invalid batch size: %d", c.batchSize)
	}
	if c.flushDelay <= 0 {
		return errors.New("--flush-delay must be positive")
	}
	return nil
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("DYAD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "dyad-historian",
		Short:         "Persists queued game records.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&cfg.redisAddr, "redis-addr", "localhost:6379", "redis address (env: DYAD_REDIS_ADDR)")
	fs.IntVar(&cfg.redisDB, "redis-db", 0, "redis database index (env: DYAD_REDIS_DB)")
	fs.StringVar(&cfg.databaseURL, "database-url", "", "postgres connection string (env: DYAD_DATABASE_URL)")
	fs.StringVar(&cfg.queue, "record-queue", cache.DefaultQueueName, "redis list to drain (env: DYAD_RECORD_QUEUE)")
	fs.IntVar(&cfg.batchSize, "batch-size", 20, "records per transaction (env: DYAD_BATCH_SIZE)")
	fs.DurationVar(&cfg.flushDelay, "flush-delay", 500*time.Millisecond, "longest a record waits in a partial batch (env: DYAD_FLUSH_DELAY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "log every flush (env: DYAD_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SilenceUsage = true
	return cmd
}

func run(ctx context.Context, cfg *Config) error {
	logger := logrus.New()
	if cfg.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	cat := catalog.Default()
	terminal, _ := cat.At(len(cat) - 1)
	store, err := database.Connect(ctx, cfg.databaseURL, terminal.ID)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	rdb, err := cache.ConnectRedis(ctx, cfg.redisAddr, cfg.redisDB)
	if err != nil {
		return err
	}
	defer rdb.Close()

	svc := historian.New(cache.NewRecordQueue(rdb, cfg.queue), store, logger)
	svc.BatchSize = cfg.batchSize
	svc.FlushDelay = cfg.flushDelay
	return svc.Run(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.CheckErr(newCmd(&Config{}).ExecuteContext(ctx))
}
