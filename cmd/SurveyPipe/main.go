package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/SurveyPipe/internal/api"
	"github.com/BTreeMap/SurveyPipe/internal/identity"
	"github.com/BTreeMap/SurveyPipe/internal/messaging"
	"github.com/BTreeMap/SurveyPipe/internal/store"
	"github.com/BTreeMap/SurveyPipe/internal/survey"
	"github.com/BTreeMap/SurveyPipe/internal/twiliosms"
	"github.com/BTreeMap/SurveyPipe/internal/util"
	"github.com/BTreeMap/SurveyPipe/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for SurveyPipe state data
	DefaultStateDir = "/var/lib/surveypipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "surveypipe.db"
	// DefaultSurveysDir is the default directory for survey YAML definitions
	DefaultSurveysDir = "surveys"
	// ChannelTwilio selects SMS delivery through the Twilio webhook
	ChannelTwilio = "twilio"
	// ChannelWhatsApp selects WhatsApp delivery through whatsmeow
	ChannelWhatsApp = "whatsapp"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	if *flags.identitySalt == "" {
		slog.Error("IDENTITY_SALT is required; refusing to store unhashed phone numbers")
		os.Exit(1)
	}

	slog.Info("Bootstrapping SurveyPipe with configured modules")
	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir,
		"surveys_dir", *flags.surveysDir,
		"dsn_set", *flags.dbDSN != "",
		"channel", *flags.channel,
		"api_addr", *flags.apiAddr,
		"default_survey", *flags.defaultSurvey)

	if err := run(flags); err != nil {
		slog.Error("SurveyPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("SurveyPipe exited successfully")
}

// run wires the store, loader, messaging channel, and API server, then blocks
// until the process receives SIGINT or SIGTERM.
func run(flags Flags) error {
	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	hasher, err := identity.NewHasher(*flags.identitySalt)
	if err != nil {
		return err
	}

	loader := survey.NewLoader(*flags.surveysDir)
	respHandler := messaging.NewResponseHandler(st, loader, hasher, *flags.defaultSurvey)

	msgService, validator, err := buildMessagingChannel(flags)
	if err != nil {
		return err
	}

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.publicURL != "" {
		apiOpts = append(apiOpts, api.WithPublicURL(*flags.publicURL))
	}
	server := api.NewServer(st, loader, respHandler, msgService, validator, apiOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return server.Run(ctx)
}

// Config holds environment configuration
type Config struct {
	DatabaseURL   string
	StateDir      string
	SurveysDir    string
	IdentitySalt  string
	DefaultSurvey string
	Channel       string
	APIAddr       string
	PublicURL     string
	WhatsAppDSN   string
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	surveysDir    *string
	dbDSN         *string
	identitySalt  *string
	defaultSurvey *string
	channel       *string
	apiAddr       *string
	publicURL     *string
	whatsappDSN   *string
	qrOutput      *string
	numeric       *bool
	skipSignature bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
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
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("SURVEYPIPE_STATE_DIR"),
		SurveysDir:    os.Getenv("SURVEYS_DIR"),
		IdentitySalt:  os.Getenv("IDENTITY_SALT"),
		DefaultSurvey: os.Getenv("DEFAULT_SURVEY"),
		Channel:       os.Getenv("SURVEYPIPE_CHANNEL"),
		APIAddr:       os.Getenv("API_ADDR"),
		PublicURL:     os.Getenv("PUBLIC_URL"),
		WhatsAppDSN:   os.Getenv("WHATSAPP_DB_DSN"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SURVEYPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.SurveysDir == "" {
		config.SurveysDir = DefaultSurveysDir
		slog.Debug("No SURVEYS_DIR set, using default", "default_surveys_dir", config.SurveysDir)
	}
	if config.Channel == "" {
		config.Channel = ChannelTwilio
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"SURVEYPIPE_STATE_DIR", config.StateDir,
		"SURVEYS_DIR", config.SurveysDir,
		"IDENTITY_SALT_SET", config.IdentitySalt != "",
		"DEFAULT_SURVEY", config.DefaultSurvey,
		"SURVEYPIPE_CHANNEL", config.Channel,
		"API_ADDR", config.APIAddr,
		"PUBLIC_URL_SET", config.PublicURL != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for SurveyPipe data (overrides $SURVEYPIPE_STATE_DIR)"),
		surveysDir:    flag.String("surveys-dir", config.SurveysDir, "directory containing survey YAML definitions (overrides $SURVEYS_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN for session and response storage (overrides $DATABASE_URL)"),
		identitySalt:  flag.String("identity-salt", config.IdentitySalt, "salt for hashing phone numbers (overrides $IDENTITY_SALT)"),
		defaultSurvey: flag.String("default-survey", config.DefaultSurvey, "survey ID used when no start word matches (overrides $DEFAULT_SURVEY)"),
		channel:       flag.String("channel", config.Channel, "messaging channel: twilio or whatsapp (overrides $SURVEYPIPE_CHANNEL)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		publicURL:     flag.String("public-url", config.PublicURL, "externally visible base URL for webhook signature validation (overrides $PUBLIC_URL)"),
		whatsappDSN:   flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "database DSN for the whatsmeow store (overrides $WHATSAPP_DB_DSN)"),
		qrOutput:      flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:       flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		skipSignature: util.ParseBoolEnv("SKIP_SIGNATURE_VALIDATION", false),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"surveysDir", *flags.surveysDir,
		"dbDSN_set", *flags.dbDSN != "",
		"channel", *flags.channel,
		"apiAddr", *flags.apiAddr,
		"skip_signature_validation", flags.skipSignature)

	// Follow the state directory when the DSN was derived from it
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) != "postgres" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore constructs the session store based on the configured DSN.
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		st, err := store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
	if err != nil {
		return nil, err
	}
	return st, nil
}

// buildMessagingChannel constructs the outbound messaging service and, for the
// Twilio channel, the webhook signature validator.
func buildMessagingChannel(flags Flags) (messaging.Service, api.SignatureValidator, error) {
	switch *flags.channel {
	case ChannelWhatsApp:
		var waOpts []whatsapp.Option
		if *flags.whatsappDSN != "" {
			waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDSN))
		}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, nil, err
		}
		return messaging.NewWhatsAppService(client), nil, nil
	default:
		client, err := twiliosms.NewClient()
		if err != nil {
			return nil, nil, err
		}
		if flags.skipSignature {
			slog.Warn("Webhook signature validation disabled; do not use in production")
			return messaging.NewTwilioService(client), nil, nil
		}
		return messaging.NewTwilioService(client), client, nil
	}
}
