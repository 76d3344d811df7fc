package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	alarmapp "waterwatch/internal/alarms/application"
	alarmrepo "waterwatch/internal/alarms/infrastructure/postgres"
	alarmhttp "waterwatch/internal/alarms/interfaces/http"
	alarmnotify "waterwatch/internal/alarms/notify"
	"waterwatch/internal/audit"
	"waterwatch/internal/auth"
	"waterwatch/internal/config"
	"waterwatch/internal/delta"
	"waterwatch/internal/eventing"
	"waterwatch/internal/historian"
	"waterwatch/internal/observability/metrics"
	"waterwatch/internal/reports"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Fatalf("timezone error: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	if err := alarmrepo.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir, logger); err != nil {
		logger.Fatalf("migrations error: %v", err)
	}

	historianDB := db
	if cfg.HistorianDSN != cfg.DatabaseURL {
		historianDB, err = sql.Open("pgx", cfg.HistorianDSN)
		if err != nil {
			logger.Fatalf("historian db open error: %v", err)
		}
		defer historianDB.Close()
	}

	metrics.Init()

	cfgStore, err := config.NewStore(cfg.MonitoringConfig, config.WithLogger(logger))
	if err != nil {
		logger.Fatalf("monitoring config error: %v", err)
	}

	bus := eventing.NewBus(logger)
	auditRepo := audit.NewRepository(db)

	alarmEventRepo := alarmrepo.NewAlarmEventRepository(db)
	deliveryRepo := alarmrepo.NewDeliveryRepository(db)
	thresholdRepo := alarmrepo.NewThresholdRepository(db)
	contactRepo := alarmrepo.NewContactRepository(db)

	historianClient, err := historian.NewClient(historianDB, cfgStore,
		historian.WithTable(cfg.HistorianTable),
	)
	if err != nil {
		logger.Fatalf("historian client error: %v", err)
	}

	engine, err := delta.NewEngine(func(tag string) delta.CounterSpec {
		return cfgStore.Snapshot().CounterSpec(tag)
	}, delta.WithLogger(logger))
	if err != nil {
		logger.Fatalf("delta engine error: %v", err)
	}

	evaluator, err := alarmapp.NewEvaluator(
		alarmapp.WithSanityFactorSource(func() float64 { return cfgStore.Snapshot().SanityFactor }),
		alarmapp.WithEvaluatorLogger(logger),
	)
	if err != nil {
		logger.Fatalf("evaluator error: %v", err)
	}

	lifecycle, err := alarmapp.NewService(alarmEventRepo, cfgStore,
		alarmapp.WithBus(bus),
		alarmapp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("alarm lifecycle error: %v", err)
	}
	reconcileCtx, cancelReconcile := context.WithTimeout(context.Background(), 30*time.Second)
	if err := lifecycle.ReconcileOpen(reconcileCtx); err != nil {
		logger.Printf("open alarm reconciliation failed err=%v", err)
	}
	cancelReconcile()

	renderer := alarmnotify.NewRenderer(cfgStore)
	dispatcherOpts := []alarmapp.DispatcherOption{
		alarmapp.WithInterval(cfg.PollInterval),
		alarmapp.WithWorkers(cfg.PollWorkers),
		alarmapp.WithDispatcherLogger(logger),
		alarmapp.WithMessageRenderer(renderer.Render),
		alarmapp.WithStatusBoard(alarmapp.NewStatusBoard()),
		alarmapp.WithDispatcherBus(bus),
	}
	if cfg.SMSGatewayURL != "" {
		gateway, err := alarmnotify.NewHTTPGateway(cfg.SMSGatewayURL, cfg.SMSGatewayToken)
		if err != nil {
			logger.Fatalf("sms gateway error: %v", err)
		}
		notifier, err := alarmnotify.NewNotifier(gateway, contactRepo, deliveryRepo, cfgStore, loc,
			alarmnotify.WithLogger(logger),
		)
		if err != nil {
			logger.Fatalf("notifier error: %v", err)
		}
		dispatcherOpts = append(dispatcherOpts, alarmapp.WithNotifier(notifier))
	} else {
		logger.Printf("SMS_GATEWAY_URL not set, notifications disabled")
	}

	dispatcher, err := alarmapp.NewDispatcher(thresholdRepo, historianClient, engine, evaluator, lifecycle, cfgStore, loc, dispatcherOpts...)
	if err != nil {
		logger.Fatalf("dispatcher error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	reportService, err := reports.NewService(historianClient, engine, alarmEventRepo, cfgStore, loc, reports.WithLogger(logger))
	if err != nil {
		logger.Fatalf("report service error: %v", err)
	}
	reportScheduler, err := reports.NewScheduler(reportService, cfg.ReportDir, loc,
		reports.WithRunAt(cfg.ReportHour, cfg.ReportMinute),
		reports.WithSchedulerLogger(logger),
		reports.WithOnDone(func(date time.Time, paths []string) {
			entry := audit.Entry{
				Actor:        "scheduler",
				Role:         "system",
				Action:       audit.ActionReportGenerated,
				ResourceType: "report",
				ResourceID:   date.Format("2006-01-02"),
			}
			if err := auditRepo.Log(context.Background(), entry); err != nil {
				logger.Printf("report audit write failed err=%v", err)
			}
		}),
	)
	if err != nil {
		logger.Fatalf("report scheduler error: %v", err)
	}
	go reportScheduler.Run(ctx)

	broker := alarmhttp.NewSSEBroker()
	broker.Attach(bus)

	apiHandler, err := alarmhttp.NewHandler(lifecycle, dispatcher, thresholdRepo, deliveryRepo, cfgStore, auditRepo, logger)
	if err != nil {
		logger.Fatalf("api handler error: %v", err)
	}
	reportHandler, err := reports.NewHandler(reportService, loc)
	if err != nil {
		logger.Fatalf("report handler error: %v", err)
	}

	mux := http.NewServeMux()
	apiHandler.Register(mux)
	mux.Handle("/api/v1/events/stream", alarmhttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/reports/daily", reportHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/api/v1/events/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type appConfig struct {
	DatabaseURL      string
	HistorianDSN     string
	HistorianTable   string
	MonitoringConfig string
	MigrationsDir    string
	HTTPAddr         string
	Timezone         string
	PollInterval     time.Duration
	PollWorkers      int
	SMSGatewayURL    string
	SMSGatewayToken  string
	ReportDir        string
	ReportHour       int
	ReportMinute     int
	JWTSecret        string
}

func loadConfig() appConfig {
	cfg := appConfig{
		DatabaseURL:      getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HistorianTable:   getenvDefault("HISTORIAN_TABLE", "tag_history"),
		MonitoringConfig: getenvDefault("MONITORING_CONFIG", ""),
		MigrationsDir:    getenvDefault("MIGRATIONS_DIR", "migrations"),
		HTTPAddr:         getenvDefault("HTTP_ADDR", ":8080"),
		Timezone:         getenvDefault("SITE_TZ", "Local"),
		PollInterval:     getenvDuration("POLL_INTERVAL", 60*time.Second),
		PollWorkers:      getenvIntDefault("POLL_WORKERS", 8),
		SMSGatewayURL:    getenvDefault("SMS_GATEWAY_URL", ""),
		SMSGatewayToken:  getenvDefault("SMS_GATEWAY_TOKEN", ""),
		ReportDir:        getenvDefault("REPORT_DIR", "reports"),
		ReportHour:       getenvIntDefault("REPORT_HOUR", reports.DefaultRunHour),
		ReportMinute:     getenvIntDefault("REPORT_MINUTE", reports.DefaultRunMinute),
		JWTSecret:        getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
	}
	cfg.HistorianDSN = getenvDefault("HISTORIAN_DSN", cfg.DatabaseURL)
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
