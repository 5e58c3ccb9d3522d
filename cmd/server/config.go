// cmd/server/config.go
package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jason-s-yu/dyad/internal/cache"
	"github.com/jason-s-yu/dyad/internal/models"
	"github.com/jason-s-yu/dyad/internal/presence"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const releaseVersion = "0.4.0"

type Config struct {
	bind        string
	port        int
	backend     string
	redisAddr   string
	redisDB     int
	databaseURL string
	presenceTTL time.Duration
	development bool
	recordMode  string
	recordQueue string
	publicKey   string
	origins     []string
	infoTypes   []string
	rate        float64
	burst       int
	verbose     bool
}

func (c *Config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	switch c.backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown backend %q (want memory or redis)", c.backend)
	}
	switch c.recordMode {
	case "direct", "queue":
	default:
		return fmt.Errorf("unknown record mode %q (want direct or queue)", c.recordMode)
	}
	if c.needsRedis() && c.redisAddr == "" {
		return errors.New("--redis-addr is required by the redis backend and the queue record mode")
	}
	if c.presenceTTL <= 0 {
		return errors.New("--presence-ttl must be positive")
	}
	if c.rate < 0 || c.burst < 0 {
		return errors.New("--rate and --burst must not be negative")
	}
	if _, err := c.pairingInfoTypes(); err != nil {
		return err
	}
	return nil
}

func (c *Config) needsRedis() bool {
	return c.backend == "redis" || c.recordMode == "queue"
}

func (c *Config) pairingInfoTypes() ([]models.InfoType, error) {
	out := make([]models.InfoType, 0, len(c.infoTypes))
	for _, s := range c.infoTypes {
		it := models.InfoType(strings.ToUpper(strings.TrimSpace(s)))
		switch it {
		case models.InfoTypeInfo, models.InfoTypeChat, models.InfoTypeVideo:
			out = append(out, it)
		case "":
		default:
			return nil, fmt.Errorf("unknown info type %q", s)
		}
	}
	return out, nil
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("DYAD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "dyad-server",
		Short:         "Pairs idle participants and runs them through a sequence of two-player games.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: DYAD_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: DYAD_PORT)")
	fs.StringVar(&cfg.backend, "backend", "memory", "presence and channel backend, memory or redis (env: DYAD_BACKEND)")
	fs.StringVar(&cfg.redisAddr, "redis-addr", "localhost:6379", "redis address (env: DYAD_REDIS_ADDR)")
	fs.IntVar(&cfg.redisDB, "redis-db", 0, "redis database index (env: DYAD_REDIS_DB)")
	fs.StringVar(&cfg.databaseURL, "database-url", "", "postgres connection string; empty keeps no records (env: DYAD_DATABASE_URL)")
	fs.DurationVar(&cfg.presenceTTL, "presence-ttl", presence.DefaultTTL, "how long an idle connection stays pairable (env: DYAD_PRESENCE_TTL)")
	fs.BoolVar(&cfg.development, "development", false, "allow pairs that already finished together (env: DYAD_DEVELOPMENT)")
	fs.StringVar(&cfg.recordMode, "record-mode", "direct", "write game records directly or through the redis queue (env: DYAD_RECORD_MODE)")
	fs.StringVar(&cfg.recordQueue, "record-queue", cache.DefaultQueueName, "redis list for queued game records (env: DYAD_RECORD_QUEUE)")
	fs.StringVar(&cfg.publicKey, "public-key", "", "ed25519 public key of the token issuer; empty generates a throwaway pair (env: DYAD_PUBLIC_KEY)")
	fs.StringSliceVar(&cfg.origins, "origin", []string{"*"}, "accepted websocket origin patterns (env: DYAD_ORIGIN)")
	fs.StringSliceVar(&cfg.infoTypes, "info-types", []string{"INFO", "CHAT", "VIDEO"}, "channels offered to each pair (env: DYAD_INFO_TYPES)")
	fs.Float64Var(&cfg.rate, "rate", 20, "inbound messages per second per connection, 0 disables (env: DYAD_RATE)")
	fs.IntVar(&cfg.burst, "burst", 40, "inbound message burst per connection (env: DYAD_BURST)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "log every message (env: DYAD_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("dyad-server v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
