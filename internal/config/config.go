package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"selective-alpha/internal/ml/barrier"
	"selective-alpha/internal/pipeline"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

type Config struct {
	DatabaseURL  string
	RedisURL     string   `default:"localhost:6379"`
	KafkaBrokers []string `default:"[]"`
	KafkaTopic   string   `default:"pipeline.selections" validate:"required"`
	APIKey       string
	HTTPAddr     string   `default:":8080" validate:"required"`
	LogLevel     string   `default:"info" validate:"oneof=debug info warn error"`
	LogFormat    string   `default:"json" validate:"oneof=json console"`

	Tracing  Tracing
	Pipeline Pipeline
	Ingest   Ingest
}

type Tracing struct {
	Enabled     bool    `default:"true"`
	Endpoint    string  `default:"localhost:4317"`
	SampleRatio float64 `default:"1" validate:"gte=0,lte=1"`
}

type Pipeline struct {
	Enabled         bool     `default:"true"`
	Eps             float64  `default:"0.1" validate:"gt=0,lt=1"`
	Horizon         int      `default:"5" validate:"min=1"`
	Splits          int      `default:"5" validate:"min=2"`
	TakeProfit      float64  `default:"0.04" validate:"gte=0"`
	StopLoss        float64  `default:"0.03" validate:"gte=0,lt=1"`
	MaxHold         int      `default:"5" validate:"min=1"`
	RetThresh       float64  `default:"0.04" validate:"gte=0"`
	RiskAversion    float64  `default:"5" validate:"gte=0"`
	TurnoverPenalty float64  `default:"0.01" validate:"gte=0"`
	MaxWeight       float64  `default:"0.2" validate:"gt=0,lte=1"`
	Symbols         []string `default:"[]"`
	Interval        string   `default:"1d" validate:"oneof=1h 4h 1d"`
	LookbackBars    int      `default:"500" validate:"min=60"`
	PollSecs        int      `default:"3600" validate:"min=1"`
	CacheTTLSecs    int      `default:"86400" validate:"min=1"`
	Workers         int      `default:"4" validate:"min=1"`
}

// Ingest controls the CoinGecko candle refresh feeding the candle store.
type Ingest struct {
	Enabled   bool `default:"false"`
	PollSecs  int  `default:"1800" validate:"min=60"`
	Days      int  `default:"90" validate:"min=1,max=90"`
	FearGreed bool `default:"true"`
	// CoinIDs maps a symbol to its CoinGecko id, e.g. BTC=bitcoin.
	CoinIDs map[string]string
}

// RunnerConfig maps the environment settings onto the pipeline runner.
// Settings without an env key keep the runner defaults.
func (p Pipeline) RunnerConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Eps = p.Eps
	cfg.Horizon = p.Horizon
	cfg.Splits = p.Splits
	cfg.Barrier = barrier.Config{TakeProfit: p.TakeProfit, StopLoss: p.StopLoss, MaxHold: p.MaxHold}
	cfg.RetThresh = p.RetThresh
	cfg.Portfolio.RiskAversion = p.RiskAversion
	cfg.Portfolio.TurnoverPenalty = p.TurnoverPenalty
	cfg.Portfolio.MaxWeight = p.MaxWeight
	cfg.Workers = p.Workers
	return cfg
}

func (p Pipeline) CacheTTL() time.Duration {
	return time.Duration(p.CacheTTLSecs) * time.Second
}

var validate = validator.New()

// Load applies struct defaults, overlays the environment and validates the
// result. Unparseable values keep their default with a warning.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, candle store and model registry disabled")
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	} else {
		log.Warn().Msgf("REDIS_URL not set, defaulting to %s", cfg.RedisURL)
	}
	if v := splitList(os.Getenv("KAFKA_BROKERS")); len(v) > 0 {
		cfg.KafkaBrokers = v
	}
	setString(&cfg.KafkaTopic, "KAFKA_TOPIC")
	cfg.APIKey = strings.TrimSpace(os.Getenv("API_KEY"))
	if cfg.APIKey == "" {
		log.Warn().Msg("API_KEY not set, pipeline routes are unauthenticated")
	}
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	setString(&cfg.LogFormat, "LOG_FORMAT")
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	if v := strings.TrimSpace(os.Getenv("TRACING_ENABLED")); v != "" {
		cfg.Tracing.Enabled = !strings.EqualFold(v, "false")
	}
	setString(&cfg.Tracing.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setFloat(&cfg.Tracing.SampleRatio, "TRACE_SAMPLE_RATIO")

	p := &cfg.Pipeline
	if v := strings.TrimSpace(os.Getenv("PIPELINE_ENABLED")); v != "" {
		p.Enabled = strings.EqualFold(v, "true")
	}
	setFloat(&p.Eps, "PIPELINE_EPS")
	setInt(&p.Horizon, "PIPELINE_HORIZON")
	setInt(&p.Splits, "PIPELINE_SPLITS")
	setFloat(&p.TakeProfit, "PIPELINE_TP")
	setFloat(&p.StopLoss, "PIPELINE_SL")
	setInt(&p.MaxHold, "PIPELINE_MAX_HOLD")
	setFloat(&p.RetThresh, "PIPELINE_RET_THRESH")
	setFloat(&p.RiskAversion, "PIPELINE_RISK_AVERSION")
	setFloat(&p.TurnoverPenalty, "PIPELINE_TURNOVER_PENALTY")
	setFloat(&p.MaxWeight, "PIPELINE_MAX_WEIGHT")
	if v := splitList(os.Getenv("PIPELINE_SYMBOLS")); len(v) > 0 {
		p.Symbols = v
	}
	setString(&p.Interval, "PIPELINE_INTERVAL")
	setInt(&p.LookbackBars, "PIPELINE_LOOKBACK_BARS")
	setInt(&p.PollSecs, "PIPELINE_POLL_SECS")
	setInt(&p.CacheTTLSecs, "PIPELINE_CACHE_TTL_SECS")
	setInt(&p.Workers, "PIPELINE_WORKERS")

	in := &cfg.Ingest
	if v := strings.TrimSpace(os.Getenv("INGEST_ENABLED")); v != "" {
		in.Enabled = strings.EqualFold(v, "true")
	}
	setInt(&in.PollSecs, "INGEST_POLL_SECS")
	setInt(&in.Days, "INGEST_DAYS")
	if v := strings.TrimSpace(os.Getenv("INGEST_FEAR_GREED")); v != "" {
		in.FearGreed = !strings.EqualFold(v, "false")
	}
	in.CoinIDs = parsePairs(os.Getenv("INGEST_COIN_IDS"))

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msgf("invalid integer, keeping %d", *dst)
		return
	}
	*dst = n
}

func setFloat(dst *float64, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msgf("invalid number, keeping %g", *dst)
		return
	}
	*dst = n
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.ToUpper(strings.TrimSpace(part)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parsePairs reads "SYM=id,SYM2=id2". Keys are upper-cased, values kept.
func parsePairs(raw string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(part, "=")
		k, v = strings.ToUpper(strings.TrimSpace(k)), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			if strings.TrimSpace(part) != "" {
				log.Warn().Str("pair", part).Msg("ignoring malformed INGEST_COIN_IDS entry")
			}
			continue
		}
		out[k] = v
	}
	return out
}
