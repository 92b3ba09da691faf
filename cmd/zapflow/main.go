package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/zapflow/zapflow/internal/api"
	"github.com/zapflow/zapflow/internal/flow"
	"github.com/zapflow/zapflow/internal/messaging"
	"github.com/zapflow/zapflow/internal/store"
	"github.com/zapflow/zapflow/internal/util"
	"github.com/zapflow/zapflow/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ZapFlow state data
	DefaultStateDir = "/var/lib/zapflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "zapflow.db"
)

func main() {
	// Load environment configuration before the logger so the debug toggle applies
	config := loadEnvironmentConfig()

	// Initialize structured logger
	initializeLogger()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Build module options
	waOpts := buildWhatsAppOptions(flags)
	storeOpts := buildStoreOptions(flags)
	engineOpts := buildEngineOptions(flags)
	apiOpts := buildAPIOptions(flags)
	twilioOpts := buildTwilioOptions(flags)

	// Start the service
	slog.Info("Bootstrapping ZapFlow with configured modules")
	slog.Debug("Module options counts", "whatsapp", len(waOpts), "store", len(storeOpts), "engine", len(engineOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "backend", *flags.backend)
	if err := api.Run(*flags.backend, waOpts, storeOpts, twilioOpts, engineOpts, apiOpts); err != nil {
		slog.Error("ZapFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ZapFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	WhatsAppDSN        string
	DatabaseURL        string
	StateDir           string
	APIAddr            string
	Backend            string
	InactivityMinutes  int
	BroadcastDelaySecs int
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioFromNumber   string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput           *string
	numeric            *bool
	stateDir           *string
	dbDSN              *string
	apiAddr            *string
	backend            *string
	inactivityMinutes  *int
	broadcastDelaySecs *int
	twilioAccountSID   *string
	twilioAuthToken    *string
	twilioFromNumber   *string
}

// initializeLogger sets up structured logging, defaulting to info level with
// a ZAPFLOW_DEBUG escape hatch
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("ZAPFLOW_DEBUG", false) {
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
		WhatsAppDSN:        os.Getenv("WHATSAPP_DB_DSN"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		StateDir:           os.Getenv("ZAPFLOW_STATE_DIR"),
		APIAddr:            os.Getenv("API_ADDR"),
		Backend:            os.Getenv("MESSAGING_BACKEND"),
		InactivityMinutes:  util.ParseIntEnv("INACTIVITY_TIMEOUT_MINUTES", 10),
		BroadcastDelaySecs: util.ParseIntEnv("BROADCAST_DELAY_SECONDS", 5),
		TwilioAccountSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:   os.Getenv("TWILIO_FROM_NUMBER"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No ZAPFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("ZAPFLOW_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// Default to WhatsApp DSN if specific not set
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = config.DatabaseURL
		if config.DatabaseURL != "" {
			slog.Debug("Using DATABASE_URL as WHATSAPP_DB_DSN", "dsn_set", true)
		}
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDSN)
	}

	slog.Debug("environment variables loaded",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"ZAPFLOW_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"MESSAGING_BACKEND", config.Backend,
		"INACTIVITY_TIMEOUT_MINUTES", config.InactivityMinutes,
		"BROADCAST_DELAY_SECONDS", config.BroadcastDelaySecs,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:           flag.String("qr-output", "", "path to write login QR code"),
		numeric:            flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:           flag.String("state-dir", config.StateDir, "state directory for ZapFlow data (overrides $ZAPFLOW_STATE_DIR)"),
		dbDSN:              flag.String("db-dsn", config.WhatsAppDSN, "database DSN for WhatsApp session and flow store (overrides $WHATSAPP_DB_DSN or $DATABASE_URL)"),
		apiAddr:            flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		backend:            flag.String("backend", config.Backend, "messaging backend: whatsapp or twilio (overrides $MESSAGING_BACKEND)"),
		inactivityMinutes:  flag.Int("inactivity-minutes", config.InactivityMinutes, "minutes of silence before the inactivity message (overrides $INACTIVITY_TIMEOUT_MINUTES)"),
		broadcastDelaySecs: flag.Int("broadcast-delay-seconds", config.BroadcastDelaySecs, "seconds between broadcast sends (overrides $BROADCAST_DELAY_SECONDS)"),
		twilioAccountSID:   flag.String("twilio-account-sid", config.TwilioAccountSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioAuthToken:    flag.String("twilio-auth-token", config.TwilioAuthToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFromNumber:   flag.String("twilio-from", config.TwilioFromNumber, "Twilio WhatsApp sender number (overrides $TWILIO_FROM_NUMBER)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"backend", *flags.backend,
		"inactivityMinutes", *flags.inactivityMinutes,
		"broadcastDelaySecs", *flags.broadcastDelaySecs)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.WhatsAppDSN && config.WhatsAppDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	// Ensure state directory exists if we're using a file-based DSN
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
		slog.Debug("State directory created successfully", "state_dir", stateDir)
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.dbDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.dbDSN))
	}
	return waOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		// Check if it's a PostgreSQL DSN using the shared detection function
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			// Assume SQLite for file paths
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildEngineOptions constructs conversation engine configuration options
func buildEngineOptions(flags Flags) []flow.Option {
	var engineOpts []flow.Option
	if *flags.inactivityMinutes > 0 {
		engineOpts = append(engineOpts, flow.WithInactivityTimeout(time.Duration(*flags.inactivityMinutes)*time.Minute))
	}
	return engineOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.broadcastDelaySecs > 0 {
		apiOpts = append(apiOpts, api.WithBroadcastDelay(time.Duration(*flags.broadcastDelaySecs)*time.Second))
	}
	return apiOpts
}

// buildTwilioOptions constructs Twilio backend configuration options
func buildTwilioOptions(flags Flags) []messaging.TwilioOption {
	var twilioOpts []messaging.TwilioOption
	if *flags.twilioAccountSID != "" {
		twilioOpts = append(twilioOpts, messaging.WithAccountSID(*flags.twilioAccountSID))
	}
	if *flags.twilioAuthToken != "" {
		twilioOpts = append(twilioOpts, messaging.WithAuthToken(*flags.twilioAuthToken))
	}
	if *flags.twilioFromNumber != "" {
		twilioOpts = append(twilioOpts, messaging.WithFromWhats(*flags.twilioFromNumber))
	}
	return twilioOpts
}
