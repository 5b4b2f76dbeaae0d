package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/farmgoods/internal/auth"
	"github.com/ariefcatur/farmgoods/internal/config"
	"github.com/ariefcatur/farmgoods/internal/events"
	"github.com/ariefcatur/farmgoods/internal/httpx"
	kafkax "github.com/ariefcatur/farmgoods/internal/kafka"
	"github.com/ariefcatur/farmgoods/internal/logging"
	"github.com/ariefcatur/farmgoods/internal/memory"
	"github.com/ariefcatur/farmgoods/internal/metrics"
	"github.com/ariefcatur/farmgoods/internal/notify"
	"github.com/ariefcatur/farmgoods/internal/orders"
	"github.com/ariefcatur/farmgoods/internal/otp"
	"github.com/ariefcatur/farmgoods/internal/postgres"
	"github.com/ariefcatur/farmgoods/internal/pricing"
	"github.com/ariefcatur/farmgoods/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.MustNewLogger(cfg.ServiceName, cfg.Env)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.SessionTTLShort, cfg.SessionTTLLong)
	if err != nil {
		log.Fatal("issuer_init_failed", zap.Error(err))
	}
	policy, err := pricing.NewPolicy(cfg.WholesaleThreshold, cfg.WholesaleRate)
	if err != nil {
		log.Fatal("pricing_init_failed", zap.Error(err))
	}

	// Stores
	var (
		orderStore orders.Store
		otpStore   otp.Store
		users      auth.UserFinder
	)
	switch cfg.StoreDriver {
	case "memory":
		l := memory.New()
		orderStore, otpStore, users = l.Orders(), l.OTP(), l.Users()
		log.Warn("memory_store_in_use")
	default:
		if cfg.AutoMigrate {
			if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
				log.Fatal("migrate_failed", zap.Error(err))
			}
		}
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("db_connect_failed", zap.Error(err))
		}
		defer db.Close()
		orderStore, otpStore, users = &orders.Repo{DB: db}, &otp.Repo{DB: db}, &auth.Repo{DB: db}
	}

	// Redis (optional)
	rdb := redisx.New(cfg.RedisAddr)
	if rdb != nil {
		defer rdb.Close()
	}

	// Kafka producer (optional)
	var (
		publisher events.Publisher = events.Discard
		prod      *kafkax.Producer
	)
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
		prod.Start(ctx)
		publisher = prod
	}

	var mailer otp.Mailer = &notify.LogMailer{Log: log}
	if cfg.Mailer == "kafka" && prod != nil {
		mailer = &notify.KafkaMailer{Events: publisher, Producer: cfg.ServiceName}
	}

	orderSvc := &orders.Service{
		Store:    orderStore,
		Policy:   policy,
		Events:   publisher,
		Metrics:  m,
		Log:      log.With(zap.String("component", "orders")),
		Producer: cfg.ServiceName,
	}
	engine := &otp.Engine{
		Store:      otpStore,
		Mailer:     mailer,
		Issuer:     issuer,
		Metrics:    m,
		Log:        log.With(zap.String("component", "otp")),
		TTL:        cfg.OTPTTL,
		ResetGrace: cfg.ResetGrace,
	}

	router := httpx.NewAPI(log,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		issuer,
		&httpx.AuthHandler{OTP: engine, Login: &auth.Authenticator{Users: users, Issuer: issuer}},
		&httpx.OrdersHandler{Service: orderSvc, Redis: rdb},
	)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		log.Info("http_listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http_listen_failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting_down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	if prod != nil {
		prod.Close() // close inbox -> flush & close writer
		prod.WaitClosed()
	}
	cancel()
}
