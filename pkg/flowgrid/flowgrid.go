package flowgrid

import (
	"context"
	"database/sql"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/flowgrid/flowgrid/internal/config"
	"github.com/flowgrid/flowgrid/internal/controllers"
	"github.com/flowgrid/flowgrid/internal/engine"
	"github.com/flowgrid/flowgrid/internal/migrations"
	"github.com/flowgrid/flowgrid/internal/repository"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/core"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lmittmann/tint"

	_ "github.com/go-sql-driver/mysql"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Start boots the workflow engine and HTTP server. Callers may pass their own
// mux to add routes; nil gets a fresh one. This call blocks until the HTTP
// server stops.
func Start(mux *http.ServeMux) error {
	databaseType := config.GetSystemSettingString(config.DATABASE_TYPE)
	if databaseType != config.DATABASE_TYPE_POSTGRES && databaseType != config.DATABASE_TYPE_MYSQL && databaseType != config.DATABASE_TYPE_SQLLITE {
		panic("FGRID_DATABASE_TYPE must be set to one of the following values: POSTGRES, MYSQL, SQLLITE")
	}

	var db *sql.DB
	if databaseType == config.DATABASE_TYPE_POSTGRES {
		db = setupPostgresDatabase()
		defer db.Close()
	}
	if databaseType == config.DATABASE_TYPE_SQLLITE {
		db = setupSqlLiteDatabase()
		defer db.Close()
	}
	if databaseType == config.DATABASE_TYPE_MYSQL {
		db = setupMysqlDatabase()
		defer db.Close()
	}

	clock := &core.RealClock{}
	templateRepo := repository.NewTemplateRepository(db, clock)
	instanceRepo := repository.NewInstanceRepository(db, clock)
	stepRepo := repository.NewStepExecutionRepository(db, clock)
	approvalRepo := repository.NewApprovalRepository(db, clock)
	triggerRepo := repository.NewTriggerRepository(db, clock)
	scheduleRepo := repository.NewScheduleRepository(db, clock)
	rollbackRepo := repository.NewRollbackRepository(db, clock)
	eventRepo := repository.NewEventLogRepository(db, clock)
	executorRepo := repository.NewExecutorRepository(db)
	userRepo := repository.NewUserRepository(db, clock)

	defaultTimeout, _ := time.ParseDuration(config.GetSystemSettingString(config.STEP_DEFAULT_TIMEOUT))
	defaultRetryDelay, _ := time.ParseDuration(config.GetSystemSettingString(config.STEP_DEFAULT_RETRY_DELAY))

	eng := engine.NewEngine(engine.Deps{
		Templates:         templateRepo,
		Instances:         instanceRepo,
		Steps:             stepRepo,
		Chains:            approvalRepo,
		Triggers:          triggerRepo,
		Schedules:         scheduleRepo,
		Rollbacks:         rollbackRepo,
		Recorder:          engine.NewRecorder(eventRepo, clock),
		Dispatcher:        engine.NewHTTPDispatcher(),
		Notifier:          engine.LogNotifier{},
		Clock:             clock,
		DefaultTimeout:    defaultTimeout,
		DefaultRetryDelay: defaultRetryDelay,
	})
	templateStore := engine.NewTemplateStore(templateRepo, clock)
	manager := engine.NewManager(eng, instanceRepo, executorRepo, clock)
	scheduler := engine.NewScheduler(eng, scheduleRepo, clock)

	ctx := context.Background()
	go func() {
		if err := manager.StartEngine(ctx); err != nil {
			slog.Error("Engine failed to start", "error", err)
			os.Exit(1)
		}
	}()
	schedulerInterval, err := time.ParseDuration(config.GetSystemSettingString(config.ENGINE_SCHEDULER_INTERVAL))
	if err != nil {
		schedulerInterval = 15 * time.Second
	}
	go scheduler.Run(ctx, schedulerInterval)

	if mux == nil {
		mux = http.NewServeMux()
	}
	controllers.NewAuthController(userRepo).RegisterRoutes(mux)
	controllers.NewTemplatesController(templateStore, eng, userRepo).RegisterRoutes(mux)
	controllers.NewInstancesController(eng, userRepo).RegisterRoutes(mux)
	controllers.NewApprovalsController(eng, userRepo).RegisterRoutes(mux)
	controllers.NewTriggersController(eng, scheduler, userRepo).RegisterRoutes(mux)
	controllers.NewUsersController(userRepo).RegisterRoutes(mux)
	controllers.NewExecutorsController(executorRepo, userRepo).RegisterRoutes(mux)

	addr := ":" + config.GetSystemSettingString(config.ENGINE_SERVER_WEB_PORT)
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		addr = v
	}
	slog.Info("Starting HTTP server", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("HTTP server failed", "error", err)
		return err
	}
	return nil
}

func setupPostgresDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("FGRID_DATABASE_URL must be set when using the POSTGRES database type")
	}
	slog.Info("Using Postgres database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("postgres", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening Postgres database")
	dbPostgres, err := sql.Open("postgres", dbURL)
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbPostgres
}

func setupSqlLiteDatabase() *sql.DB {
	fileName := config.GetSystemSettingString(config.DATABASE_SQLLITE_FILE_NAME)
	if fileName == "" {
		panic("FGRID_DATABASE_SQLLITE_FILE_NAME must be set")
	}
	dbURL := "sqlite3://" + fileName
	slog.Info("Using SQLite database", "file", fileName)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("sqllite3", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening SQLite database")
	dbSqlLite, err := sql.Open("sqlite3", fileName)
	if err != nil {
		log.Fatalf("Failed to open SQLite DB: %v", err)
	}
	if err := dbSqlLite.Ping(); err != nil {
		log.Fatalf("Failed to ping SQLite DB: %v", err)
	}
	return dbSqlLite
}

func setupMysqlDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("FGRID_DATABASE_URL must be set when using the MYSQL database type")
	}
	if !strings.Contains(dbURL, "parseTime=true") {
		panic("FGRID_DATABASE_URL must contain 'parseTime=true' for MySQL")
	}
	if !strings.HasPrefix(dbURL, "mysql://") {
		panic("FGRID_DATABASE_URL must start with 'mysql://' for MySQL")
	}

	slog.Info("Using MySQL database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("mysql", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening MySQL database")
	dbMysql, err := sql.Open("mysql", strings.Replace(dbURL, "mysql://", "", 1))
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbMysql
}

func runMigrationsFromEmbed(migrationsPath string, dbURL string) error {
	sub, err := fs.Sub(migrations.FS, migrationsPath)
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// SetupLogger installs a tinted slog handler as the process default.
func SetupLogger() {
	w := os.Stderr
	slog.SetDefault(slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}
