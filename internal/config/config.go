// Package config loads bridge configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all process-level configuration, read once at startup.
type Config struct {
	Env string // "production" enables JSON logging; anything else is dev mode.

	// Vendor credentials.
	RehauEmail    string
	RehauPassword string

	// Vendor OAuth2 application registration (fixed per vendor app, but
	// overridable for staging environments).
	VendorClientID    string
	VendorAuthURL     string
	VendorTokenURL    string
	VendorRedirectURI string
	VendorAPIBaseURL  string
	VendorMQTTURL     string

	// Local (home automation) broker.
	MQTTHost     string
	MQTTPort     int
	MQTTUser     string
	MQTTPassword string

	// Reload/refresh intervals.
	ZoneReloadInterval         time.Duration
	TokenRefreshInterval       time.Duration
	ReferentialsReloadInterval time.Duration
	LiveDataInterval           time.Duration

	// Command retry.
	CommandRetryTimeout time.Duration
	CommandMaxRetries   int

	// Display.
	UseGroupInNames bool

	// 2FA mailbox.
	POP3Provider string // "basic", "gmail", "outlook"
	POP3Host     string
	POP3Port     int
	POP3User     string
	POP3Password string
	POP3Timeout  time.Duration
	TwoFASender  string // expected From address of the verification email

	// Gmail/Outlook XOAUTH2 fields (only read when POP3Provider selects them).
	MailOAuthClientID     string
	MailOAuthClientSecret string
	MailOAuthRefreshToken string

	// Durable token/referential cache (optional; disabled when DatabaseURL is empty).
	DatabaseURL      string
	TokenStoreSecret string // hex-encoded 32-byte AES key; empty disables at-rest encryption

	// Admin HTTP surface.
	AdminListenAddr string

	// Sentry DSN for fatal-error reporting; empty disables Sentry.
	SentryDSN string

	// Testing hooks.
	ForceFreshLogin                bool
	ForceTokenExpired              bool
	SimulateDisconnectAfterSeconds int
}

// Load reads configuration from environment variables, applying the
// documented defaults.
func Load() Config {
	return Config{
		Env: getEnv("ENV", "development"),

		RehauEmail:    os.Getenv("REHAU_EMAIL"),
		RehauPassword: os.Getenv("REHAU_PASSWORD"),

		VendorClientID:    getEnv("VENDOR_CLIENT_ID", "nea-smart-2.0-app"),
		VendorAuthURL:     getEnv("VENDOR_AUTH_URL", "https://accounts.rehau.com/auth-srv/authorize"),
		VendorTokenURL:    getEnv("VENDOR_TOKEN_URL", "https://accounts.rehau.com/token-srv/token"),
		VendorRedirectURI: getEnv("VENDOR_REDIRECT_URI", "com.rehau.neasmart2://callback"),
		VendorAPIBaseURL:  getEnv("VENDOR_API_BASE_URL", "https://api.rehau.com"),
		VendorMQTTURL:     getEnv("VENDOR_MQTT_URL", "wss://mqtt.rehau.com/mqtt"),

		MQTTHost:     getEnv("MQTT_HOST", "localhost"),
		MQTTPort:     getEnvAsInt("MQTT_PORT", 1883),
		MQTTUser:     os.Getenv("MQTT_USER"),
		MQTTPassword: os.Getenv("MQTT_PASSWORD"),

		ZoneReloadInterval:         getEnvAsDuration("ZONE_RELOAD_INTERVAL", 300*time.Second),
		TokenRefreshInterval:       getEnvAsDuration("TOKEN_REFRESH_INTERVAL", 21600*time.Second),
		ReferentialsReloadInterval: getEnvAsDuration("REFERENTIALS_RELOAD_INTERVAL", 86400*time.Second),
		LiveDataInterval:           getEnvAsDuration("LIVE_DATA_INTERVAL", 300*time.Second),

		CommandRetryTimeout: getEnvAsDuration("COMMAND_RETRY_TIMEOUT", 30*time.Second),
		CommandMaxRetries:   getEnvAsInt("COMMAND_MAX_RETRIES", 3),

		UseGroupInNames: getEnvAsBool("USE_GROUP_IN_NAMES", false),

		POP3Provider: getEnv("POP3_PROVIDER", "basic"),
		POP3Host:     os.Getenv("POP3_HOST"),
		POP3Port:     getEnvAsInt("POP3_PORT", 995),
		POP3User:     os.Getenv("POP3_USER"),
		POP3Password: os.Getenv("POP3_PASSWORD"),
		POP3Timeout:  getEnvAsDuration("POP3_TIMEOUT", 600*time.Second),
		TwoFASender:  getEnv("TWO_FA_SENDER", "noreply@rehau.com"),

		MailOAuthClientID:     os.Getenv("MAIL_OAUTH_CLIENT_ID"),
		MailOAuthClientSecret: os.Getenv("MAIL_OAUTH_CLIENT_SECRET"),
		MailOAuthRefreshToken: os.Getenv("MAIL_OAUTH_REFRESH_TOKEN"),

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		TokenStoreSecret: os.Getenv("TOKENSTORE_SECRET_KEY"),

		AdminListenAddr: getEnv("ADMIN_LISTEN_ADDR", ":8090"),

		SentryDSN: os.Getenv("SENTRY_DSN"),

		ForceFreshLogin:                getEnvAsBool("FORCE_FRESH_LOGIN", false),
		ForceTokenExpired:              getEnvAsBool("FORCE_TOKEN_EXPIRED", false),
		SimulateDisconnectAfterSeconds: getEnvAsInt("SIMULATE_DISCONNECT_AFTER_SECONDS", 0),
	}
}

// Validate performs the startup configuration checks that must fail fast,
// without retry, before any network connection is attempted.
func (c Config) Validate() error {
	if c.RehauEmail == "" || c.RehauPassword == "" {
		return errMissing("REHAU_EMAIL/REHAU_PASSWORD")
	}
	switch c.POP3Provider {
	case "basic", "gmail", "outlook":
	default:
		return errMissing("POP3_PROVIDER must be one of basic, gmail, outlook")
	}
	if c.CommandMaxRetries < 0 {
		return errMissing("COMMAND_MAX_RETRIES must be >= 0")
	}
	return nil
}

type configError string

func (e configError) Error() string { return string(e) }

func errMissing(what string) error {
	return configError("config: missing or invalid " + what)
}

// Helper to read a plain string env var with a default.
func getEnv(name, defaultVal string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultVal
}

// Helper to read boolean env vars
func getEnvAsBool(name string, defaultVal bool) bool {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvAsInt(name string, defaultVal int) int {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

// getEnvAsDuration accepts either a bare integer (seconds) or a Go
// duration string like "90s".
func getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(valStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(valStr); err == nil {
		return d
	}
	return defaultVal
}
