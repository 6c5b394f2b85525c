package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del daemon. Los valores efectivos se
// resuelven en orden: tabla settings > entorno > archivo.
type Config struct {
	App             AppConfig             `yaml:"app"`
	Trading         TradingConfig         `yaml:"trading"`
	DayNight        DayNightConfig        `yaml:"day_night"`
	Execution       ExecutionConfig       `yaml:"execution"`
	RollingQuantile RollingQuantileConfig `yaml:"rolling_quantile"`
	Loops           LoopsConfig           `yaml:"loops"`
	APIs            APIConfig             `yaml:"apis"`
	Storage         StorageConfig         `yaml:"storage"`
	Ops             OpsConfig             `yaml:"ops"`
	Settlement      SettlementConfig      `yaml:"settlement"`
	Log             LogConfig             `yaml:"log"`
}

// AppConfig son los parámetros globales.
type AppConfig struct {
	Timezone string `yaml:"timezone"`
}

// TradingConfig controla señal, CAP y stake.
type TradingConfig struct {
	Assets              []string `yaml:"assets" validate:"min=1"`
	PriceCap            float64  `yaml:"price_cap" validate:"gt=0,lt=1"`
	ConfirmDelaySeconds int64    `yaml:"confirm_delay_seconds" validate:"gt=0"`
	CapMinTicks         int      `yaml:"cap_min_ticks" validate:"gt=0"`
	WindowSeconds       int64    `yaml:"window_seconds"`
	WarmupSeconds       int64    `yaml:"warmup_seconds"`
	StakeAmountUSDC     float64  `yaml:"stake_amount_usdc" validate:"gt=0"`
}

// DayNightConfig controla el régimen día/noche y la política de calidad.
type DayNightConfig struct {
	DayStartHour          int     `yaml:"day_start_hour" validate:"min=0,max=23"`
	DayEndHour            int     `yaml:"day_end_hour" validate:"min=0,max=23"`
	BaseDayMinQuality     float64 `yaml:"base_day_min_quality"`
	BaseNightMinQuality   float64 `yaml:"base_night_min_quality"`
	SwitchStreakAt        int     `yaml:"switch_streak_at"`
	StartStrictAfterNWins int     `yaml:"start_strict_after_n_wins"`
	StrictQualityIncr     float64 `yaml:"strict_quality_increment"`
	NightMaxWinStreak     int     `yaml:"night_max_win_streak"`
	NightAutotradeEnabled bool    `yaml:"night_autotrade_enabled"`
	NightSessionMode      string  `yaml:"night_session_mode" validate:"oneof=OFF SOFT HARD"`
	MaxResponseSeconds    int64   `yaml:"max_response_seconds"`
}

// ExecutionConfig selecciona paper o live.
type ExecutionConfig struct {
	Mode string `yaml:"mode" validate:"oneof=paper live"`
}

// RollingQuantileConfig controla la fuente alternativa de umbrales STRICT.
type RollingQuantileConfig struct {
	Enabled            bool    `yaml:"enabled"`
	RollingDays        int     `yaml:"rolling_days"`
	MaxSamples         int     `yaml:"max_samples"`
	MinSamples         int     `yaml:"min_samples"`
	StrictFallbackMult float64 `yaml:"strict_fallback_mult"`
	StrictDayQ         string  `yaml:"strict_day_q"`
	StrictNightQ       string  `yaml:"strict_night_q"`
}

// LoopsConfig son los periodos de los dos loops.
type LoopsConfig struct {
	TickSeconds int `yaml:"tick_seconds"`
	SnapSeconds int `yaml:"snap_seconds"`
}

// APIConfig contiene los base URLs de las APIs externas.
type APIConfig struct {
	GammaBase   string `yaml:"gamma_base"`
	CLOBBase    string `yaml:"clob_base"`
	BinanceBase string `yaml:"binance_base"`
}

// StorageConfig controla dónde se persiste el ledger.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// OpsConfig controla el listener de operaciones.
type OpsConfig struct {
	Listen string `yaml:"listen"`
}

// SettlementConfig controla la resolución de outcomes.
type SettlementConfig struct {
	TimeoutSeconds int64 `yaml:"timeout_seconds"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga el YAML y el .env si existe, aplica overrides de entorno,
// defaults y validación. Una config inválida es fatal para el proceso.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validate: %w", err)
	}
	return &cfg, nil
}

// Resolve aplica las overrides de la tabla settings sobre una copia de la
// config. Es una función pura: no muta el receptor ni lee estado global.
func (c Config) Resolve(settings map[string]string) Config {
	out := c
	for key, value := range settings {
		switch key {
		case "trading.price_cap":
			setFloat(&out.Trading.PriceCap, value)
		case "trading.cap_min_ticks":
			setInt(&out.Trading.CapMinTicks, value)
		case "trading.confirm_delay_seconds":
			setInt64(&out.Trading.ConfirmDelaySeconds, value)
		case "trading.stake_amount_usdc":
			setFloat(&out.Trading.StakeAmountUSDC, value)
		case "day_night.base_day_min_quality":
			setFloat(&out.DayNight.BaseDayMinQuality, value)
		case "day_night.base_night_min_quality":
			setFloat(&out.DayNight.BaseNightMinQuality, value)
		case "day_night.switch_streak_at":
			setInt(&out.DayNight.SwitchStreakAt, value)
		case "day_night.strict_quality_increment":
			setFloat(&out.DayNight.StrictQualityIncr, value)
		case "day_night.night_max_win_streak":
			setInt(&out.DayNight.NightMaxWinStreak, value)
		case "day_night.night_autotrade_enabled":
			setBool(&out.DayNight.NightAutotradeEnabled, value)
		case "day_night.night_session_mode":
			if value == "OFF" || value == "SOFT" || value == "HARD" {
				out.DayNight.NightSessionMode = value
			}
		case "day_night.max_response_seconds":
			setInt64(&out.DayNight.MaxResponseSeconds, value)
		case "execution.mode":
			if value == "paper" || value == "live" {
				out.Execution.Mode = value
			}
		}
	}
	return out
}

// TickInterval devuelve el periodo del loop de orquestación.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Loops.TickSeconds) * time.Second
}

// SnapInterval devuelve el periodo del snapshot worker.
func (c *Config) SnapInterval() time.Duration {
	return time.Duration(c.Loops.SnapSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("EXECUTION_MODE"); v != "" {
		cfg.Execution.Mode = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("OPS_LISTEN"); v != "" {
		cfg.Ops.Listen = v
	}
}

// setDefaults asegura valores sensatos para todo lo no configurado.
func setDefaults(cfg *Config) {
	if cfg.App.Timezone == "" {
		cfg.App.Timezone = "Europe/Zurich"
	}
	if len(cfg.Trading.Assets) == 0 {
		cfg.Trading.Assets = []string{"BTC", "ETH"}
	}
	if cfg.Trading.PriceCap <= 0 {
		cfg.Trading.PriceCap = 0.55
	}
	if cfg.Trading.ConfirmDelaySeconds <= 0 {
		cfg.Trading.ConfirmDelaySeconds = 120
	}
	if cfg.Trading.CapMinTicks <= 0 {
		cfg.Trading.CapMinTicks = 3
	}
	if cfg.Trading.WindowSeconds <= 0 {
		cfg.Trading.WindowSeconds = 3600
	}
	if cfg.Trading.WarmupSeconds <= 0 {
		cfg.Trading.WarmupSeconds = 7200
	}
	if cfg.Trading.StakeAmountUSDC <= 0 {
		cfg.Trading.StakeAmountUSDC = 10
	}
	if cfg.DayNight.DayStartHour == 0 && cfg.DayNight.DayEndHour == 0 {
		cfg.DayNight.DayStartHour = 8
		cfg.DayNight.DayEndHour = 22
	}
	if cfg.DayNight.BaseDayMinQuality <= 0 {
		cfg.DayNight.BaseDayMinQuality = 50
	}
	if cfg.DayNight.BaseNightMinQuality <= 0 {
		cfg.DayNight.BaseNightMinQuality = 60
	}
	if cfg.DayNight.SwitchStreakAt <= 0 {
		cfg.DayNight.SwitchStreakAt = 3
	}
	if cfg.DayNight.StartStrictAfterNWins <= 0 {
		cfg.DayNight.StartStrictAfterNWins = 3
	}
	if cfg.DayNight.StrictQualityIncr <= 0 {
		cfg.DayNight.StrictQualityIncr = 5
	}
	if cfg.DayNight.NightMaxWinStreak <= 0 {
		cfg.DayNight.NightMaxWinStreak = 5
	}
	if cfg.DayNight.NightSessionMode == "" {
		cfg.DayNight.NightSessionMode = "SOFT"
	}
	if cfg.DayNight.MaxResponseSeconds <= 0 {
		cfg.DayNight.MaxResponseSeconds = 600
	}
	if cfg.Execution.Mode == "" {
		cfg.Execution.Mode = "paper"
	}
	if cfg.RollingQuantile.RollingDays <= 0 {
		cfg.RollingQuantile.RollingDays = 14
	}
	if cfg.RollingQuantile.MaxSamples <= 0 {
		cfg.RollingQuantile.MaxSamples = 500
	}
	if cfg.RollingQuantile.MinSamples <= 0 {
		cfg.RollingQuantile.MinSamples = 50
	}
	if cfg.RollingQuantile.StrictFallbackMult <= 0 {
		cfg.RollingQuantile.StrictFallbackMult = 1.25
	}
	if cfg.RollingQuantile.StrictDayQ == "" {
		cfg.RollingQuantile.StrictDayQ = "p95"
	}
	if cfg.RollingQuantile.StrictNightQ == "" {
		cfg.RollingQuantile.StrictNightQ = "p95"
	}
	if cfg.Loops.TickSeconds <= 0 {
		cfg.Loops.TickSeconds = 60
	}
	if cfg.Loops.SnapSeconds <= 0 {
		cfg.Loops.SnapSeconds = 30
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "martin.db"
	}
	if cfg.Ops.Listen == "" {
		cfg.Ops.Listen = ":9801"
	}
	if cfg.Settlement.TimeoutSeconds <= 0 {
		cfg.Settlement.TimeoutSeconds = 7200
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func setFloat(dst *float64, raw string) {
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		*dst = v
	}
}

func setInt(dst *int, raw string) {
	if v, err := strconv.Atoi(raw); err == nil {
		*dst = v
	}
}

func setInt64(dst *int64, raw string) {
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*dst = v
	}
}

func setBool(dst *bool, raw string) {
	if v, err := strconv.ParseBool(raw); err == nil {
		*dst = v
	}
}
