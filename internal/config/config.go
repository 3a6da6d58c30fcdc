package config

import (
	"os"
	"strings"
	"time"

	"monsoon/internal/errors"
	"monsoon/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix         = "MONSOON"
	DefaultAddr       = "localhost:8080"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "console"
	DefaultBuffer     = 1
	DefaultTokenTTL   = 90 * 24 * time.Hour
	DefaultCacheTTL   = time.Second
	DefaultPeriod     = time.Second
	defaultConfigName = "monsoon"
)

// Config holds the runtime settings of the monsoon server.
type Config struct {
	Addr            string        `mapstructure:"addr"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	SamplingPeriod  time.Duration `mapstructure:"sampling_period"`
	SampleBuffer    int           `mapstructure:"sample_buffer"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	AuthEnabled     bool          `mapstructure:"auth_enabled"`
	AuthSecret      string        `mapstructure:"auth_secret"`
	TokenExpiry     time.Duration `mapstructure:"token_expiry"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	AllowedIPs      []string      `mapstructure:"allowed_ips"`
	TLSCert         string        `mapstructure:"tls_cert"`
	TLSKey          string        `mapstructure:"tls_key"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	PrintToken      bool          `mapstructure:"print_token"`
	ServerName      string        `mapstructure:"server_name"`
}

// Load reads configuration from, in increasing priority: defaults, the
// config file, a .env file, MONSOON_* environment variables, and args.
func Load(args []string) (*Config, error) {
	errFactory := errors.New()

	// A missing .env is the common case.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	flags := newFlagSet()
	if err := flags.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	if err := v.BindPFlags(flags); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, flags); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	cfg.AllowedOrigins = splitList(cfg.AllowedOrigins)
	cfg.AllowedIPs = splitList(cfg.AllowedIPs)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", DefaultAddr)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_format", DefaultLogFormat)
	v.SetDefault("sampling_period", DefaultPeriod)
	v.SetDefault("sample_buffer", DefaultBuffer)
	v.SetDefault("delivery_timeout", time.Duration(0))
	v.SetDefault("auth_enabled", true)
	v.SetDefault("auth_secret", "")
	v.SetDefault("token_expiry", DefaultTokenTTL)
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("allowed_ips", []string{})
	v.SetDefault("tls_cert", "")
	v.SetDefault("tls_key", "")
	v.SetDefault("cache_ttl", DefaultCacheTTL)
	v.SetDefault("print_token", false)
	v.SetDefault("server_name", "monsoon-agent")
}

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("monsoon", pflag.ContinueOnError)
	flags.String("config", "", "Path to a TOML config file")
	flags.String("addr", DefaultAddr, "Listen address")
	flags.String("log-level", DefaultLogLevel, "Log level: debug, info, warn, error")
	flags.String("log-format", DefaultLogFormat, "Log format: console or json")
	flags.Duration("sampling-period", DefaultPeriod, "Sleep between CPU sample ticks")
	flags.Int("sample-buffer", DefaultBuffer, "Undelivered sample batches buffered per subscriber")
	flags.Duration("delivery-timeout", 0, "How long a tick waits on a full subscriber (0 = one sampling period)")
	flags.Bool("auth-enabled", true, "Require a token on the WebSocket endpoint")
	flags.Duration("token-expiry", DefaultTokenTTL, "Lifetime of generated tokens")
	flags.StringSlice("allowed-origins", nil, "Allowed CORS origins")
	flags.StringSlice("allowed-ips", nil, "Client IPs allowed besides localhost (empty = all)")
	flags.String("tls-cert", "", "TLS certificate file")
	flags.String("tls-key", "", "TLS key file")
	flags.Duration("cache-ttl", DefaultCacheTTL, "TTL of cached memory and host info")
	flags.Bool("print-token", false, "Print a WebSocket token and exit")
	flags.String("server-name", "monsoon-agent", "Server name embedded in printed tokens")

	// Flag names use dashes, config keys use underscores.
	flags.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "-", "_"))
	})

	return flags
}

func readConfigFile(v *viper.Viper, flags *pflag.FlagSet) error {
	errFactory := errors.New()

	path, _ := flags.GetString("config")
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
	} else {
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/monsoon")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

// splitList accepts both list values and a single comma separated
// string, which is what MONSOON_ALLOWED_ORIGINS yields.
func splitList(values []string) []string {
	var out []string
	for _, o := range values {
		for _, part := range strings.Split(o, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks value ranges that viper cannot express.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if _, ok := logger.ParseLevel(c.LogLevel); !ok {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return errFactory.WithData(errors.ErrInvalidConfig, "log_format="+c.LogFormat)
	}
	if c.SamplingPeriod <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, "sampling_period="+c.SamplingPeriod.String())
	}
	if c.DeliveryTimeout < 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, "delivery_timeout="+c.DeliveryTimeout.String())
	}
	if c.SampleBuffer < 1 {
		return errFactory.WithData(errors.ErrInvalidConfig, "sample_buffer must be at least 1")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errFactory.WithData(errors.ErrInvalidConfig, "tls_cert and tls_key must be set together")
	}

	return nil
}

// EffectiveDeliveryTimeout defaults the delivery timeout to one sampling period.
func (c *Config) EffectiveDeliveryTimeout() time.Duration {
	if c.DeliveryTimeout > 0 {
		return c.DeliveryTimeout
	}
	return c.SamplingPeriod
}

// TLSEnabled reports whether both TLS files are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}
