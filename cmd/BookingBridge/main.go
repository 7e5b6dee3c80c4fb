package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/BookingBridge/internal/api"
	"github.com/BTreeMap/BookingBridge/internal/assistant"
	"github.com/BTreeMap/BookingBridge/internal/lockfile"
	"github.com/BTreeMap/BookingBridge/internal/scheduling"
	"github.com/BTreeMap/BookingBridge/internal/store"
	"github.com/BTreeMap/BookingBridge/internal/twiliowhatsapp"
	"github.com/BTreeMap/BookingBridge/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for BookingBridge state data
	DefaultStateDir = "/var/lib/bookingbridge"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "bookingbridge.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	// One instance per state directory: the SQLite turn log does not tolerate
	// concurrent writers from separate processes.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	assistantOpts := buildAssistantOptions(flags)
	schedOpts := buildSchedulingOptions(flags)
	twilioOpts := buildTwilioOptions(flags)
	storeOpts := buildStoreOptions(flags)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping BookingBridge with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	if err := api.Run(assistantOpts, schedOpts, twilioOpts, storeOpts, apiOpts); err != nil {
		slog.Error("BookingBridge failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("BookingBridge exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir      string
	DatabaseURL   string
	OpenAIKey     string
	AssistantID   string
	SchedulingURL string
	BookingURL    string
	Timezone      string
	TwilioSID     string
	TwilioToken   string
	TwilioFrom    string
	APIAddr       string
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	openaiKey     *string
	assistantID   *string
	schedulingURL *string
	bookingURL    *string
	timezone      *string
	twilioSID     *string
	twilioToken   *string
	twilioFrom    *string
	apiAddr       *string
}

// initializeLogger sets up structured logging; BOOKINGBRIDGE_DEBUG enables debug level.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("BOOKINGBRIDGE_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:      os.Getenv("BOOKINGBRIDGE_STATE_DIR"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		AssistantID:   os.Getenv("OPENAI_ASSISTANT_ID"),
		SchedulingURL: os.Getenv("SCHEDULING_API_URL"),
		BookingURL:    os.Getenv("BOOKING_URL"),
		Timezone:      os.Getenv("SCHEDULING_TIMEZONE"),
		TwilioSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:    os.Getenv("TWILIO_FROM_NUMBER"),
		APIAddr:       os.Getenv("API_ADDR"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No BOOKINGBRIDGE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"BOOKINGBRIDGE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_ASSISTANT_ID_SET", config.AssistantID != "",
		"SCHEDULING_API_URL_SET", config.SchedulingURL != "",
		"BOOKING_URL_SET", config.BookingURL != "",
		"SCHEDULING_TIMEZONE", config.Timezone,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "",
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for BookingBridge data (overrides $BOOKINGBRIDGE_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN for the turn log (overrides $DATABASE_URL)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		assistantID:   flag.String("assistant-id", config.AssistantID, "OpenAI assistant identifier (overrides $OPENAI_ASSISTANT_ID)"),
		schedulingURL: flag.String("scheduling-api-url", config.SchedulingURL, "scheduling provider endpoint (overrides $SCHEDULING_API_URL)"),
		bookingURL:    flag.String("booking-url", config.BookingURL, "generic booking link shown in replies (overrides $BOOKING_URL)"),
		timezone:      flag.String("timezone", config.Timezone, "IANA timezone of the scheduling provider (overrides $SCHEDULING_TIMEZONE)"),
		twilioSID:     flag.String("twilio-account-sid", config.TwilioSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:   flag.String("twilio-auth-token", config.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:    flag.String("twilio-from", config.TwilioFrom, "Twilio WhatsApp sender number (overrides $TWILIO_FROM_NUMBER)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"assistantIDSet", *flags.assistantID != "",
		"schedulingURLSet", *flags.schedulingURL != "",
		"apiAddr", *flags.apiAddr)

	// Follow an overridden state directory when the DSN still points at the default
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// buildAssistantOptions constructs assistant client configuration options
func buildAssistantOptions(flags Flags) []assistant.Option {
	var opts []assistant.Option
	if *flags.openaiKey != "" {
		opts = append(opts, assistant.WithAPIKey(*flags.openaiKey))
	}
	if *flags.assistantID != "" {
		opts = append(opts, assistant.WithAssistantID(*flags.assistantID))
	}
	return opts
}

// buildSchedulingOptions constructs scheduling client configuration options
func buildSchedulingOptions(flags Flags) []scheduling.Option {
	var opts []scheduling.Option
	if *flags.schedulingURL != "" {
		opts = append(opts, scheduling.WithBaseURL(*flags.schedulingURL))
	}
	return opts
}

// buildTwilioOptions constructs Twilio client configuration options
func buildTwilioOptions(flags Flags) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if *flags.twilioSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(*flags.twilioSID))
	}
	if *flags.twilioToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(*flags.twilioToken))
	}
	if *flags.twilioFrom != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(*flags.twilioFrom))
	}
	return opts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var opts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
			opts = append(opts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
			opts = append(opts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var opts []api.Option
	if *flags.apiAddr != "" {
		opts = append(opts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.bookingURL != "" {
		opts = append(opts, api.WithBookingURL(*flags.bookingURL))
	}
	if *flags.timezone != "" {
		opts = append(opts, api.WithTimezone(*flags.timezone))
	}
	return opts
}
