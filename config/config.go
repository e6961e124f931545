// Package config resolves process configuration from flags, QUIZARENA_*
// environment variables, and defaults, in that priority order. The
// flag/viper/pflag wiring (SetEnvPrefix, SetEnvKeyReplacer, AutomaticEnv,
// VisitAll binding each flag to its env var) is adapted from
// Seednode-partybox's config.go, generalized from a single-process game
// server's flag set to quizarena's Postgres/Redis/gameengine settings.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/quizarena/engine/gameengine"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every setting the quizarenad process needs to boot.
type Config struct {
	Bind string
	Port int

	DatabaseURL string
	RedisAddr   string

	AllowedOrigin string

	PollInterval time.Duration

	Engine gameengine.Config
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("--database-url (or QUIZARENA_DATABASE_URL) is required")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("--redis-addr (or QUIZARENA_REDIS_ADDR) is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("--timer-poll-interval must be positive")
	}
	return nil
}

// Addr is the address net/http.Server should listen on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// New builds the root cobra.Command that resolves a Config and invokes
// run with it. Mirrors Seednode-partybox's newCmd: a viper instance
// bound to every pflag so QUIZARENA_<FLAG_NAME> overrides an unset
// flag, defaults named in spec.md §6 for the gameengine.Config fields.
func New(run func(cmd *cobra.Command, cfg *Config) error) *cobra.Command {
	cfg := &Config{Engine: gameengine.DefaultConfig()}

	v := viper.New()
	v.SetEnvPrefix("QUIZARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "quizarenad",
		Short:         "Realtime multiplayer quiz game orchestration server",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd, cfg)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: QUIZARENA_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: QUIZARENA_PORT)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "Postgres connection string (env: QUIZARENA_DATABASE_URL)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "127.0.0.1:6379", "Redis address for live state, timers, and the event bus (env: QUIZARENA_REDIS_ADDR)")
	fs.StringVar(&cfg.AllowedOrigin, "allowed-origin", "*", "CORS allowed origin for the HTTP/WS gateway (env: QUIZARENA_ALLOWED_ORIGIN)")
	fs.DurationVar(&cfg.PollInterval, "timer-poll-interval", time.Second, "how often the timer service polls for due jobs (env: QUIZARENA_TIMER_POLL_INTERVAL)")

	fs.IntVar(&cfg.Engine.MatchingRatingBand, "matching-rating-band", cfg.Engine.MatchingRatingBand, "max Elo gap for matchmaking; accepted but not read by this process, which does no matchmaking (env: QUIZARENA_MATCHING_RATING_BAND)")
	fs.IntVar(&cfg.Engine.MatchmakingTimeoutSeconds, "matchmaking-timeout-seconds", cfg.Engine.MatchmakingTimeoutSeconds, "matchmaking timeout; accepted but not read by this process, which does no matchmaking (env: QUIZARENA_MATCHMAKING_TIMEOUT_SECONDS)")
	fs.IntVar(&cfg.Engine.FFFDefaultDurationMinutes, "fff-default-duration-minutes", cfg.Engine.FFFDefaultDurationMinutes, "default Fastest Finger First match length (env: QUIZARENA_FFF_DEFAULT_DURATION_MINUTES)")
	fs.IntVar(&cfg.Engine.FFFMaxPerQuestionMs, "fff-max-per-question-ms", cfg.Engine.FFFMaxPerQuestionMs, "per-question timeout in Fastest Finger First (env: QUIZARENA_FFF_MAX_PER_QUESTION_MS)")
	fs.IntVar(&cfg.Engine.QuestionBatchSize, "question-batch-size", cfg.Engine.QuestionBatchSize, "questions fetched per session provision (env: QUIZARENA_QUESTION_BATCH_SIZE)")
	fs.IntVar(&cfg.Engine.CountdownSeconds, "countdown-seconds", cfg.Engine.CountdownSeconds, "Group Play lobby countdown length; not read: the lobby always counts down 10s (env: QUIZARENA_COUNTDOWN_SECONDS)")
	fs.IntVar(&cfg.Engine.KFactor, "elo-k-factor", cfg.Engine.KFactor, "Elo K-factor (env: QUIZARENA_ELO_K_FACTOR)")
	fs.IntVar(&cfg.Engine.BotDefaultRating, "bot-default-rating", cfg.Engine.BotDefaultRating, "rating for a freshly created bot; not read: bots always get sessionstore.BotDefaultRating (1200) (env: QUIZARENA_BOT_DEFAULT_RATING)")
	fs.IntVar(&cfg.Engine.MaxConcurrentSessions, "max-concurrent-sessions", cfg.Engine.MaxConcurrentSessions, "soft cap on concurrent sessions; not read: no session cap is enforced (env: QUIZARENA_MAX_CONCURRENT_SESSIONS)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})

	return cmd
}
