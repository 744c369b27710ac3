// Package config loads settled's configuration from an optional TOML file
// and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"github.com/xraph/settle"
	audithook "github.com/xraph/settle/audit_hook"
	"github.com/xraph/settle/gateway"
	"github.com/xraph/settle/notify"
)

// Config is the full daemon configuration.
type Config struct {
	DB        Database  `mapstructure:"db"`
	Gateway   Gateway   `mapstructure:"gateway"`
	SMS       SMS       `mapstructure:"sms"`
	Reconcile Reconcile `mapstructure:"reconcile"`
	HTTP      HTTP      `mapstructure:"http"`
	Kafka     Kafka     `mapstructure:"kafka"`
	Log       Log       `mapstructure:"log"`
}

// Database selects and addresses the payments database.
type Database struct {
	// Driver is one of mysql, postgres, sqlite, mongo or memory.
	Driver string `mapstructure:"driver" validate:"oneof=mysql postgres sqlite mongo memory"`

	// DSN overrides the discrete connection fields. For sqlite it is the
	// database file path, for mongo the connection URI.
	DSN string `mapstructure:"dsn" validate:"required_if=Driver sqlite,required_if=Driver postgres,required_if=Driver mongo"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name" validate:"required"`

	// EngineClock takes the unsettled window from the process clock instead
	// of the MySQL server's NOW(). Only safe when all writers store UTC.
	EngineClock bool `mapstructure:"engine_clock"`

	// RetryInterval is the reconnect period while storage is degraded.
	RetryInterval time.Duration `mapstructure:"retry_interval" validate:"gt=0"`
}

// Gateway holds the payment gateway credentials and endpoints.
type Gateway struct {
	ClientID     string  `mapstructure:"client_id" validate:"required"`
	ClientSecret string  `mapstructure:"client_secret" validate:"required"`
	AuthURL      string  `mapstructure:"auth_url" validate:"required,url"`
	APIURL       string  `mapstructure:"api_url" validate:"required,url"`
	RateLimit    float64 `mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst    int     `mapstructure:"rate_burst" validate:"gte=0"`
}

// SMS configures the voucher notification endpoint.
type SMS struct {
	URL     string        `mapstructure:"url" validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// Reconcile tunes the polling loop.
type Reconcile struct {
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	Lookback     time.Duration `mapstructure:"lookback" validate:"gt=0"`
	SettleGuard  time.Duration `mapstructure:"settle_guard" validate:"gte=0"`
	Concurrency  int           `mapstructure:"concurrency" validate:"gte=1,lte=256"`
}

// HTTP configures the admin server. An empty Addr disables it.
type HTTP struct {
	Addr string `mapstructure:"addr"`
}

// Kafka configures the audit trail publisher. No brokers disables it.
type Kafka struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Log configures the process logger.
type Log struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// Default returns a Config with development defaults. Gateway credentials
// have no default and must be supplied.
func Default() Config {
	return Config{
		DB: Database{
			Driver:        "mysql",
			Host:          "localhost",
			Port:          3306,
			User:          "settle",
			Name:          "settle",
			RetryInterval: time.Minute,
		},
		Gateway: Gateway{
			AuthURL:   gateway.DefaultAuthURL,
			APIURL:    gateway.DefaultAPIURL,
			RateLimit: 20,
			RateBurst: 5,
		},
		SMS: SMS{
			URL:     notify.DefaultSMSURL,
			Timeout: notify.DefaultSMSTimeout,
		},
		Reconcile: Reconcile{
			PollInterval: settle.DefaultPollInterval,
			Lookback:     settle.DefaultLookback,
			SettleGuard:  settle.DefaultSettleGuard,
			Concurrency:  settle.DefaultConcurrency,
		},
		HTTP: HTTP{Addr: ":8080"},
		Kafka: Kafka{
			Topic: audithook.DefaultTopic,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// envKeys maps environment variables to configuration paths.
var envKeys = map[string]string{
	"DB_DRIVER":           "db.driver",
	"DB_DSN":              "db.dsn",
	"DB_HOST":             "db.host",
	"DB_PORT":             "db.port",
	"DB_USER":             "db.user",
	"DB_PASS":             "db.password",
	"DB_NAME":             "db.name",
	"DB_RETRY_INTERVAL":   "db.retry_interval",
	"DB_ENGINE_CLOCK":     "db.engine_clock",
	"IOTEC_CLIENT_ID":     "gateway.client_id",
	"IOTEC_CLIENT_SECRET": "gateway.client_secret",
	"IOTEC_AUTH_URL":      "gateway.auth_url",
	"IOTEC_API_URL":       "gateway.api_url",
	"SMS_API_URL":         "sms.url",
	"POLL_INTERVAL":       "reconcile.poll_interval",
	"LOOKBACK":            "reconcile.lookback",
	"SETTLE_GUARD":        "reconcile.settle_guard",
	"CONCURRENCY":         "reconcile.concurrency",
	"HTTP_ADDR":           "http.addr",
	"KAFKA_BROKERS":       "kafka.brokers",
	"KAFKA_TOPIC":         "kafka.topic",
	"LOG_LEVEL":           "log.level",
	"LOG_FORMAT":          "log.format",
}

// Load reads path (skipped when empty), applies environment overrides from
// os.LookupEnv on top and validates the result.
func Load(path string) (Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an injectable environment lookup.
func LoadWith(path string, lookup func(string) (string, bool)) (Config, error) {
	raw := map[string]any{}
	if path != "" {
		if _, err := toml.DecodeFile(path, &raw); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	for env, key := range envKeys {
		if v, ok := lookup(env); ok && v != "" {
			setPath(raw, key, v)
		}
	}

	cfg := Default()
	if err := decode(raw, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	var multi settle.MultiError
	for _, fe := range verrs {
		multi.Add(settle.ValidationError{
			Field:   strings.TrimPrefix(fe.Namespace(), "Config."),
			Message: fmt.Sprintf("failed %q (value %v)", fe.Tag(), fe.Value()),
		})
	}
	return fmt.Errorf("config: %w", multi)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func decode(raw map[string]any, out *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			durationHook,
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("config: decode: %w", err)
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// durationHook accepts Go duration strings ("5s") and bare integers, which
// are milliseconds.
func durationHook(_, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		s := strings.TrimSpace(v)
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond, nil
		}
		return time.ParseDuration(s)
	case int64:
		return time.Duration(v) * time.Millisecond, nil
	case int:
		return time.Duration(v) * time.Millisecond, nil
	case float64:
		return time.Duration(v * float64(time.Millisecond)), nil
	default:
		return data, nil
	}
}

// setPath stores v at a dotted key, creating intermediate tables.
func setPath(m map[string]any, key string, v any) {
	parts := strings.Split(key, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = v
}
