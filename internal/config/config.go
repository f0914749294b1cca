package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr         string
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceTestnet   bool
	QuoteAsset       string
	JWTIssuer        string
	JWTSecret        string
	JWTTTL           time.Duration
	ControlTokenHash string
	JournalDSN       string
	JobsFile         string
	HedgeMode        bool
	StrictSymbolSide bool
	DefensiveCheck   bool
	LedgerTTL        time.Duration
	PendingTTL       time.Duration
	MaxBumpPercent   string
	LogLevel         string
	BotMode          string
}

func Load() (Config, error) {
	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.BinanceAPIKey = os.Getenv("BINANCE_API_KEY")
	if c.BinanceAPIKey == "" {
		missing = append(missing, "BINANCE_API_KEY")
	}
	c.BinanceAPISecret = os.Getenv("BINANCE_API_SECRET")
	if c.BinanceAPISecret == "" {
		missing = append(missing, "BINANCE_API_SECRET")
	}
	c.JWTIssuer = os.Getenv("JWT_ISSUER")
	if c.JWTIssuer == "" {
		missing = append(missing, "JWT_ISSUER")
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	jwtTTL := os.Getenv("JWT_TTL")
	if jwtTTL == "" {
		missing = append(missing, "JWT_TTL")
	} else {
		d, err := time.ParseDuration(jwtTTL)
		if err != nil {
			return c, err
		}
		c.JWTTTL = d
	}
	c.ControlTokenHash = os.Getenv("CONTROL_TOKEN_HASH")
	if c.ControlTokenHash == "" {
		missing = append(missing, "CONTROL_TOKEN_HASH")
	}
	c.JobsFile = os.Getenv("JOBS_FILE")
	if c.JobsFile == "" {
		missing = append(missing, "JOBS_FILE")
	}
	c.JournalDSN = os.Getenv("JOURNAL_DSN")
	c.QuoteAsset = os.Getenv("QUOTE_ASSET")
	if c.QuoteAsset == "" {
		c.QuoteAsset = "USDT"
	}
	var err error
	if c.BinanceTestnet, err = boolEnv("BINANCE_TESTNET", false); err != nil {
		return c, err
	}
	if c.HedgeMode, err = boolEnv("HEDGE_MODE", true); err != nil {
		return c, err
	}
	if c.StrictSymbolSide, err = boolEnv("STRICT_SYMBOL_SIDE", false); err != nil {
		return c, err
	}
	if c.DefensiveCheck, err = boolEnv("DEFENSIVE_POSITION_CHECK", true); err != nil {
		return c, err
	}
	if c.LedgerTTL, err = durationEnv("LEDGER_TTL", 0); err != nil {
		return c, err
	}
	if c.PendingTTL, err = durationEnv("PENDING_TTL", 30*time.Second); err != nil {
		return c, err
	}
	c.MaxBumpPercent = os.Getenv("MAX_BUMP_PERCENT")
	c.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.BotMode = strings.ToLower(strings.TrimSpace(os.Getenv("BOT_MODE")))
	if c.BotMode == "" {
		c.BotMode = "development"
	}
	if c.BotMode != "development" && c.BotMode != "production" {
		return c, errors.New("invalid BOT_MODE: use development or production")
	}
	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}

func boolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def, errors.New("invalid " + key)
	}
	return b, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def, errors.New("invalid " + key)
	}
	return d, nil
}
