package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	StoreURL     string `mapstructure:"store_url"`
	StoreAnonKey string `mapstructure:"store_anon_key"`

	ListenAddr      string        `mapstructure:"listen_addr"`
	DefaultChannel  string        `mapstructure:"default_channel"`
	SessionSecret   string        `mapstructure:"session_secret"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	CookieSecure    bool          `mapstructure:"cookie_secure"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	AdminEmails     string        `mapstructure:"admin_emails"`

	TelegramToken    string        `mapstructure:"telegram_token"`
	TelegramChatID   int64         `mapstructure:"telegram_chat_id"`
	BotHandleTimeout time.Duration `mapstructure:"bot_handle_timeout"`
}

// MissingError reports required configuration values that are absent.
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Keys, ", "))
}

// New reads the configuration bound by SetupCommon and validates it.
func New() (*Config, error) {
	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.StoreURL) == "" {
		missing = append(missing, "store_url")
	}
	if strings.TrimSpace(c.StoreAnonKey) == "" {
		missing = append(missing, "store_anon_key")
	}
	if len(missing) > 0 {
		return &MissingError{Keys: missing}
	}

	u, err := url.Parse(c.StoreURL)
	if err != nil {
		return fmt.Errorf("parsing store_url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "postgres", "postgresql", "memory":
	default:
		return fmt.Errorf("unsupported store_url scheme %q", u.Scheme)
	}
	return nil
}

const redacted = "[redacted]"

// String masks credentials, including a password in store_url, so the config
// can be logged.
func (c Config) String() string {
	type plain Config
	out := plain(c)
	if u, err := url.Parse(out.StoreURL); err == nil {
		out.StoreURL = u.Redacted()
	}
	for _, secret := range []*string{&out.StoreAnonKey, &out.SessionSecret, &out.TelegramToken} {
		if *secret != "" {
			*secret = redacted
		}
	}
	return fmt.Sprintf("%+v", out)
}

// Admins returns the bootstrap admin emails.
func (c *Config) Admins() []string {
	var out []string
	for _, e := range strings.Split(c.AdminEmails, ",") {
		e = strings.TrimSpace(e)
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

func SetupCommon() {
	if err := godotenv.Load(); err != nil {
		logrus.Debugf("no .env file loaded: %v", err)
	}

	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("default_channel", "general")
	viper.SetDefault("session_ttl", "720h")
	viper.SetDefault("refresh_interval", "30s")
	viper.SetDefault("request_timeout", "10s")
	viper.SetEnvPrefix("CHAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	viper.MustBindEnv("store_url")
	viper.MustBindEnv("store_anon_key")
	viper.MustBindEnv("session_secret")
	viper.MustBindEnv("cookie_secure")
	viper.MustBindEnv("admin_emails")
	viper.MustBindEnv("telegram_token")
	viper.MustBindEnv("telegram_chat_id")
	viper.AutomaticEnv()
}
