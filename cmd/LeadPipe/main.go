package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/api"
	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/util"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
	"github.com/joho/godotenv"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Default configuration constants
const (
	// DefaultStateDir holds the lock file and, by default, the WhatsApp device store.
	DefaultStateDir = "/var/lib/leadpipe"
	// DefaultWhatsAppDBFileName is the whatsmeow SQLite file inside the state directory.
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultReaperInterval is how often expired sessions are swept.
	DefaultReaperInterval = time.Hour
)

// Lead notification transports.
const (
	NotifyViaNone     = ""
	NotifyViaTwilio   = "twilio"
	NotifyViaWhatsApp = "whatsapp"
)

func main() {
	config := loadEnvironmentConfig()
	if err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], &config); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	closeLog := initializeLogger(config.Debug, config.LogFile)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping LeadPipe", "state_dir", config.StateDir, "store", storeKind(config.DatabaseURL), "api_addr", config.APIAddr, "notify_via", config.NotifyVia)
	if err := run(ctx, config); err != nil {
		slog.Error("LeadPipe failed", "error", err)
		closeLog()
		os.Exit(1)
	}
	slog.Info("LeadPipe exited successfully")
}

// Config holds the resolved runtime configuration.
type Config struct {
	StateDir       string
	DatabaseURL    string
	EncryptionKey  string
	OpenAIKey      string
	OpenAIModel    string
	GenAITimeout   time.Duration
	APIAddr        string
	NudgeDelay     time.Duration
	SessionExpiry  time.Duration
	ReaperInterval time.Duration
	Escalation     string
	Hotline        string
	NotifyTo       string
	NotifyVia      string
	WhatsAppDSN    string
	QROutput       string
	NumericCode    bool
	LogFile        string
	Debug          bool
}

// initializeLogger installs the default slog logger. With a log file, JSON
// records go to stdout and to a rotating file; otherwise text goes to stdout.
// The returned func closes the file.
func initializeLogger(debug bool, logFile string) func() {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if logFile == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)))
		return func() {}
	}
	rotating := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(io.MultiWriter(os.Stdout, rotating), opts)))
	return func() { rotating.Close() }
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		StateDir:       util.GetEnv("LEADPIPE_STATE_DIR", DefaultStateDir),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		EncryptionKey:  os.Getenv("LEADPIPE_ENCRYPTION_KEY"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    os.Getenv("OPENAI_MODEL"),
		GenAITimeout:   util.ParseDurationEnv("GENAI_TIMEOUT", genai.DefaultTimeout),
		APIAddr:        util.GetEnv("API_ADDR", api.DefaultAddr),
		NudgeDelay:     util.ParseDurationEnv("NUDGE_DELAY", flow.DefaultNudgeDelay),
		SessionExpiry:  util.ParseDurationEnv("SESSION_EXPIRY", flow.DefaultSessionExpiry),
		ReaperInterval: util.ParseDurationEnv("REAPER_INTERVAL", DefaultReaperInterval),
		Escalation:     os.Getenv("ESCALATION_POLICY"),
		Hotline:        util.GetEnv("ADMISSIONS_HOTLINE", flow.DefaultHotline),
		NotifyTo:       os.Getenv("LEAD_NOTIFY_TO"),
		NotifyVia:      strings.ToLower(strings.TrimSpace(os.Getenv("LEAD_NOTIFY_VIA"))),
		WhatsAppDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		LogFile:        os.Getenv("LEADPIPE_LOG_FILE"),
		Debug:          util.ParseBoolEnv("LEADPIPE_DEBUG", false),
	}
	return config
}

// parseCommandLineFlags overrides config with command line flags.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config *Config) error {
	envStateDir := config.StateDir

	fs.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for the lock file and WhatsApp device store (overrides $LEADPIPE_STATE_DIR)")
	fs.StringVar(&config.DatabaseURL, "db-dsn", config.DatabaseURL, "session store DSN: postgres DSN or SQLite path; empty keeps sessions in memory (overrides $DATABASE_URL)")
	fs.StringVar(&config.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key; empty disables reply phrasing (overrides $OPENAI_API_KEY)")
	fs.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.DurationVar(&config.NudgeDelay, "nudge-delay", config.NudgeDelay, "idle time before a nudge (overrides $NUDGE_DELAY)")
	fs.DurationVar(&config.SessionExpiry, "session-expiry", config.SessionExpiry, "idle time before an incomplete session is reaped (overrides $SESSION_EXPIRY)")
	fs.DurationVar(&config.ReaperInterval, "reaper-interval", config.ReaperInterval, "expired session sweep interval (overrides $REAPER_INTERVAL)")
	fs.StringVar(&config.Escalation, "escalation-policy", config.Escalation, "keep or clear collected data on escalation (overrides $ESCALATION_POLICY)")
	fs.StringVar(&config.NotifyVia, "notify-via", config.NotifyVia, "lead notification transport: twilio, whatsapp or empty (overrides $LEAD_NOTIFY_VIA)")
	fs.StringVar(&config.QROutput, "qr-output", config.QROutput, "path to write the WhatsApp login QR code")
	fs.BoolVar(&config.NumericCode, "numeric-code", config.NumericCode, "print the WhatsApp pairing code instead of a QR code")
	fs.BoolVar(&config.Debug, "debug", config.Debug, "enable debug logging (overrides $LEADPIPE_DEBUG)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	if config.StateDir != envStateDir {
		slog.Debug("state directory overridden by flag", "env", envStateDir, "flag", config.StateDir)
	}

	if _, ok := flow.ParseEscalationPolicy(config.Escalation); !ok {
		return fmt.Errorf("invalid escalation policy %q: want keep or clear", config.Escalation)
	}
	switch config.NotifyVia {
	case NotifyViaNone, NotifyViaTwilio, NotifyViaWhatsApp:
	default:
		return fmt.Errorf("invalid notify transport %q: want twilio, whatsapp or empty", config.NotifyVia)
	}
	if config.NotifyVia != NotifyViaNone && config.NotifyTo == "" {
		return fmt.Errorf("LEAD_NOTIFY_TO is required when notifications go via %s", config.NotifyVia)
	}
	return nil
}

func storeKind(dsn string) string {
	if dsn == "" {
		return "memory"
	}
	return store.DetectDSNType(dsn)
}

// buildStoreOptions maps the DSN to the matching store backend.
func buildStoreOptions(config Config) []store.Option {
	switch storeKind(config.DatabaseURL) {
	case "memory":
		return nil
	case "postgres":
		return []store.Option{store.WithPostgresDSN(config.DatabaseURL)}
	default:
		return []store.Option{store.WithSQLiteDSN(config.DatabaseURL)}
	}
}

// buildGenAIOptions returns nil when phrasing is disabled.
func buildGenAIOptions(config Config) []genai.Option {
	if config.OpenAIKey == "" {
		return nil
	}
	opts := []genai.Option{genai.WithAPIKey(config.OpenAIKey), genai.WithTimeout(config.GenAITimeout)}
	if config.OpenAIModel != "" {
		opts = append(opts, genai.WithModel(config.OpenAIModel))
	}
	return opts
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(config Config) []whatsapp.Option {
	opts := []whatsapp.Option{whatsapp.WithDBDSN(config.WhatsAppDSN)}
	if config.QROutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(config.QROutput))
	}
	if config.NumericCode {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}
