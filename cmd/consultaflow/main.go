package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/smartia-br/consultaflow/internal/api"
	"github.com/smartia-br/consultaflow/internal/calendar"
	"github.com/smartia-br/consultaflow/internal/flow"
	"github.com/smartia-br/consultaflow/internal/intent"
	"github.com/smartia-br/consultaflow/internal/lockfile"
	"github.com/smartia-br/consultaflow/internal/messaging"
	"github.com/smartia-br/consultaflow/internal/models"
	"github.com/smartia-br/consultaflow/internal/reminder"
	"github.com/smartia-br/consultaflow/internal/scheduler"
	"github.com/smartia-br/consultaflow/internal/store"
	"github.com/smartia-br/consultaflow/internal/util"
	"github.com/smartia-br/consultaflow/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ConsultaFlow state data
	DefaultStateDir = "/var/lib/consultaflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "consultaflow.db"
	// DefaultDeviceDBFileName is the default SQLite filename for the
	// whatsmeow device store
	DefaultDeviceDBFileName = "whatsmeow.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	if err := run(flags); err != nil {
		slog.Error("ConsultaFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ConsultaFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL   string
	DeviceDSN     string
	StateDir      string
	Channel       string
	APIAddr       string
	Timezone      string
	CalendarCreds string
	CalendarID    string
	KeywordsFile  string
	Cron24h       string
	Cron2h        string
	CronNoShow    string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      *string
	numeric       *bool
	stateDir      *string
	dbDSN         *string
	deviceDSN     *string
	channel       *string
	apiAddr       *string
	timezone      *string
	calendarCreds *string
	calendarID    *string
	keywordsFile  *string
	cron24h       *string
	cron2h        *string
	cronNoShow    *string
	runJob        *string
}

// initializeLogger sets up structured logging. CONSULTAFLOW_DEBUG=true lowers
// the level to debug.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("CONSULTAFLOW_DEBUG", false) {
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
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		DeviceDSN:     os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:      os.Getenv("CONSULTAFLOW_STATE_DIR"),
		Channel:       os.Getenv("WHATSAPP_CHANNEL"),
		APIAddr:       os.Getenv("API_ADDR"),
		Timezone:      os.Getenv("CLINIC_TIMEZONE"),
		CalendarCreds: os.Getenv("GOOGLE_CALENDAR_CREDENTIALS"),
		CalendarID:    os.Getenv("GOOGLE_CALENDAR_ID"),
		KeywordsFile:  os.Getenv("INTENT_KEYWORDS_FILE"),
		Cron24h:       os.Getenv("REMINDER_CRON_24H"),
		Cron2h:        os.Getenv("REMINDER_CRON_2H"),
		CronNoShow:    os.Getenv("NOSHOW_CRON"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CONSULTAFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.Timezone == "" {
		config.Timezone = calendar.DefaultTimezone
	}
	if config.DeviceDSN == "" {
		config.DeviceDSN = filepath.Join(config.StateDir, DefaultDeviceDBFileName)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.DeviceDSN != "",
		"CONSULTAFLOW_STATE_DIR", config.StateDir,
		"WHATSAPP_CHANNEL", config.Channel,
		"API_ADDR", config.APIAddr,
		"CLINIC_TIMEZONE", config.Timezone,
		"GOOGLE_CALENDAR_CREDENTIALS_SET", config.CalendarCreds != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:      flag.String("qr-output", "", "path to write login QR code (whatsmeow channel only)"),
		numeric:       flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for ConsultaFlow data (overrides $CONSULTAFLOW_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "application database DSN (overrides $DATABASE_URL)"),
		deviceDSN:     flag.String("device-db-dsn", config.DeviceDSN, "whatsmeow device database DSN (overrides $WHATSAPP_DB_DSN)"),
		channel:       flag.String("channel", config.Channel, "WhatsApp provider: meta, twilio, zenvia or whatsmeow (overrides $WHATSAPP_CHANNEL)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		timezone:      flag.String("timezone", config.Timezone, "clinic timezone (overrides $CLINIC_TIMEZONE)"),
		calendarCreds: flag.String("calendar-credentials", config.CalendarCreds, "Google Calendar service account credentials file (overrides $GOOGLE_CALENDAR_CREDENTIALS)"),
		calendarID:    flag.String("calendar-id", config.CalendarID, "Google Calendar ID (overrides $GOOGLE_CALENDAR_ID)"),
		keywordsFile:  flag.String("keywords-file", config.KeywordsFile, "JSON file with custom intent keywords (overrides $INTENT_KEYWORDS_FILE)"),
		cron24h:       flag.String("cron-24h", config.Cron24h, "cron expression for the 24h reminder sweep (overrides $REMINDER_CRON_24H)"),
		cron2h:        flag.String("cron-2h", config.Cron2h, "cron expression for the 2h reminder sweep (overrides $REMINDER_CRON_2H)"),
		cronNoShow:    flag.String("cron-no-shows", config.CronNoShow, "cron expression for the no-show sweep (overrides $NOSHOW_CRON)"),
		runJob:        flag.String("run-job", "", "run one job and exit: 24h, 2h, no-shows or metrics"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"channel", *flags.channel,
		"apiAddr", *flags.apiAddr,
		"runJob", *flags.runJob)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	for _, dsn := range []string{*flags.dbDSN, *flags.deviceDSN} {
		if dsn == "" || store.DetectDSNType(dsn) == "postgres" {
			continue
		}
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create state directory %s: %w", dir, err)
		}
	}
	return nil
}

// run wires the modules together and starts either a one-shot job or the API server.
func run(flags Flags) error {
	ctx := context.Background()

	// File-based state cannot be shared between instances, so hold an
	// exclusive lock on the state directory for the lifetime of the process.
	if usesFileState(flags) {
		lock, err := lockfile.AcquireLock(*flags.stateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	loc, err := time.LoadLocation(*flags.timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", *flags.timezone, err)
	}

	st, err := store.New(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	msgService, waClient, err := buildMessagingService(flags)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging: %w", err)
	}
	if waClient != nil {
		defer waClient.Disconnect()
	}

	job := reminder.NewJob(st, msgService, reminder.WithLocation(loc))

	// One-shot job mode replaces the API server entirely.
	if *flags.runJob != "" {
		return runOneShotJob(ctx, job, *flags.runJob)
	}

	cal, err := buildCalendarService(ctx, flags)
	if err != nil {
		return fmt.Errorf("failed to initialize calendar: %w", err)
	}

	orchOpts := []flow.Option{flow.WithLocation(loc)}
	if cal != nil {
		orchOpts = append(orchOpts, flow.WithCalendar(cal))
	}
	if *flags.keywordsFile != "" {
		kw, err := intent.LoadKeywords(*flags.keywordsFile)
		if err != nil {
			return fmt.Errorf("failed to load intent keywords: %w", err)
		}
		orchOpts = append(orchOpts, flow.WithClassifier(intent.NewClassifier(intent.WithKeywords(kw))))
	}
	orchestrator := flow.NewOrchestrator(st, msgService, orchOpts...)

	// The whatsmeow channel pushes messages directly instead of delivering
	// webhooks, so inbound events bypass the webhook parser.
	if waClient != nil {
		waClient.OnMessage(func(msg models.ParsedMessage) {
			if err := orchestrator.ProcessMessage(context.Background(), msg); err != nil {
				slog.Error("main: failed to process whatsmeow message", "messageID", msg.ID, "error", err)
			}
		})
	}

	sched, err := buildScheduler(ctx, flags, job)
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	if sched != nil {
		defer sched.Stop()
	}

	server := api.NewServer(st, msgService, orchestrator, job, buildAPIOptions(flags)...)
	return server.Run()
}

// usesFileState reports whether any configured backend stores files in the
// state directory.
func usesFileState(flags Flags) bool {
	if *flags.dbDSN != "" && store.DetectDSNType(*flags.dbDSN) != "postgres" {
		return true
	}
	if models.Channel(*flags.channel) == models.ChannelWhatsmeow && store.DetectDSNType(*flags.deviceDSN) != "postgres" {
		return true
	}
	return false
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgres")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildMessagingService constructs the messaging service for the configured
// channel. For the whatsmeow channel it also returns the connected device
// client so the caller can subscribe to inbound messages.
func buildMessagingService(flags Flags) (messaging.Service, *whatsapp.Client, error) {
	channel := models.Channel(*flags.channel)
	if channel != models.ChannelWhatsmeow {
		svc, err := messaging.New(messaging.WithChannel(channel))
		return svc, nil, err
	}

	waOpts := []whatsapp.Option{whatsapp.WithDBDSN(*flags.deviceDSN)}
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	waClient, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, nil, err
	}
	svc, err := messaging.New(
		messaging.WithChannel(models.ChannelWhatsmeow),
		messaging.WithWhatsmeowSender(waClient),
	)
	if err != nil {
		waClient.Disconnect()
		return nil, nil, err
	}
	return svc, waClient, nil
}

// buildCalendarService constructs the Google Calendar service when credentials
// are configured. Without credentials booking attempts fail gracefully.
func buildCalendarService(ctx context.Context, flags Flags) (calendar.Service, error) {
	if *flags.calendarCreds == "" {
		slog.Warn("main: no calendar credentials configured, bookings will be rejected")
		return nil, nil
	}
	calOpts := []calendar.Option{
		calendar.WithCredentialsFile(*flags.calendarCreds),
		calendar.WithTimezone(*flags.timezone),
	}
	if *flags.calendarID != "" {
		calOpts = append(calOpts, calendar.WithCalendarID(*flags.calendarID))
	}
	return calendar.NewGoogleService(ctx, calOpts...)
}

// buildScheduler registers the configured cron sweeps. Returns nil when no
// cron expression is set.
func buildScheduler(ctx context.Context, flags Flags, job *reminder.Job) (*scheduler.Scheduler, error) {
	type cronJob struct {
		expr string
		name string
		run  func()
	}
	jobs := []cronJob{
		{*flags.cron24h, "reminders_24h", func() { logSweep(job.Run24hReminders(ctx)) }},
		{*flags.cron2h, "reminders_2h", func() { logSweep(job.Run2hReminders(ctx)) }},
		{*flags.cronNoShow, "no_show_sweep", func() {
			summary, err := job.SweepNoShows(ctx)
			if err != nil {
				slog.Error("main: no-show sweep failed", "error", err)
				return
			}
			slog.Info("main: no-show sweep finished", "found", summary.NoShowsFound, "processed", summary.Processed)
		}},
	}

	var sched *scheduler.Scheduler
	for _, j := range jobs {
		if j.expr == "" {
			continue
		}
		if sched == nil {
			sched = scheduler.NewScheduler()
		}
		if err := sched.AddJob(j.expr, j.run); err != nil {
			sched.Stop()
			return nil, fmt.Errorf("invalid cron expression %q for %s: %w", j.expr, j.name, err)
		}
		slog.Info("main: scheduled sweep", "job", j.name, "cron", j.expr)
	}
	return sched, nil
}

func logSweep(summary reminder.SweepSummary, err error) {
	if err != nil {
		slog.Error("main: reminder sweep failed", "job", summary.Job, "error", err)
		return
	}
	slog.Info("main: reminder sweep finished",
		"job", summary.Job,
		"found", summary.AppointmentsFound,
		"sent", summary.RemindersSent,
		"failed", summary.RemindersFailed)
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.channel != "" {
		apiOpts = append(apiOpts, api.WithChannel(models.Channel(*flags.channel)))
	}
	return apiOpts
}

// runOneShotJob runs a single sweep and prints its summary as JSON, matching
// the behavior expected by external cron or container schedulers.
func runOneShotJob(ctx context.Context, job *reminder.Job, name string) error {
	var result interface{}
	var err error
	switch name {
	case "24h":
		result, err = job.Run24hReminders(ctx)
	case "2h":
		result, err = job.Run2hReminders(ctx)
	case "no-shows":
		result, err = job.SweepNoShows(ctx)
	case "metrics":
		result, err = job.ComputeMetrics(ctx)
	default:
		return fmt.Errorf("unknown job %q: expected 24h, 2h, no-shows or metrics", name)
	}
	if err != nil {
		return fmt.Errorf("job %s failed: %w", name, err)
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode job result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
