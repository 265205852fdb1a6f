// Package config loads runtime configuration with viper. Precedence,
// highest to lowest: environment variables with the INTAKE_ prefix, an
// optional YAML config file, built-in defaults. All safety-relevant knobs
// (breaker thresholds, timeout budgets, rules directory) are data here, not
// code.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	ListenAddr string
	Debug      bool

	PostgresURL string
	RedisAddr   string

	OpenAIKey     string
	GenerateModel string
	ClassifyModel string

	RulesDir string

	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	TextTurnBudget   time.Duration
	VoiceTurnBudget  time.Duration
	GenerateTimeout  time.Duration
	ClassifyTimeout  time.Duration
	TranslateTimeout time.Duration

	// RequireProbabilisticPass makes the response safety classifier treat
	// a failed probabilistic call as an unsafe verdict.
	RequireProbabilisticPass bool

	HistoryDepth int
}

// Load resolves configuration from defaults, the optional config file at
// path (empty means ./config.yaml if present), and INTAKE_* environment
// variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		// Implicit discovery: a missing file is fine, defaults and env apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("INTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		ListenAddr: v.GetString("listen_addr"),
		Debug:      v.GetBool("debug"),

		PostgresURL: v.GetString("postgres.url"),
		RedisAddr:   v.GetString("redis.addr"),

		OpenAIKey:     v.GetString("openai.api_key"),
		GenerateModel: v.GetString("openai.generate_model"),
		ClassifyModel: v.GetString("openai.classify_model"),

		RulesDir: v.GetString("rules.dir"),

		BreakerFailureThreshold: v.GetInt("breaker.failure_threshold"),
		BreakerCooldown:         v.GetDuration("breaker.cooldown"),

		TextTurnBudget:   v.GetDuration("budgets.text_turn"),
		VoiceTurnBudget:  v.GetDuration("budgets.voice_turn"),
		GenerateTimeout:  v.GetDuration("budgets.generate"),
		ClassifyTimeout:  v.GetDuration("budgets.classify"),
		TranslateTimeout: v.GetDuration("budgets.translate"),

		RequireProbabilisticPass: v.GetBool("safety.require_probabilistic_pass"),

		HistoryDepth: v.GetInt("history.depth"),
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("debug", false)

	v.SetDefault("postgres.url", "")
	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.generate_model", "gpt-4o-mini")
	v.SetDefault("openai.classify_model", "")

	v.SetDefault("rules.dir", "rules")

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cooldown", time.Minute)

	v.SetDefault("budgets.text_turn", 1500*time.Millisecond)
	v.SetDefault("budgets.voice_turn", 3*time.Second)
	v.SetDefault("budgets.generate", time.Second)
	v.SetDefault("budgets.classify", 600*time.Millisecond)
	v.SetDefault("budgets.translate", 600*time.Millisecond)

	v.SetDefault("safety.require_probabilistic_pass", false)

	v.SetDefault("history.depth", 10)
}
