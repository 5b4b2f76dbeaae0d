package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/farmgoods/internal/config"
	"github.com/ariefcatur/farmgoods/internal/events"
	kafkax "github.com/ariefcatur/farmgoods/internal/kafka"
	"github.com/ariefcatur/farmgoods/internal/logging"
	"github.com/ariefcatur/farmgoods/internal/notify"
	"github.com/ariefcatur/farmgoods/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.LoadWorker()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	service := cfg.ServiceName + "-mailer"
	log := logging.MustNewLogger(service, cfg.Env)
	defer func() { _ = log.Sync() }()

	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal("kafka_brokers_required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis dedup (optional)
	rdb := redisx.New(cfg.RedisAddr)
	if rdb != nil {
		defer rdb.Close()
	}

	d := &notify.Dispatcher{
		Sender: &notify.SMTPSender{
			Addr:     cfg.SMTPAddr,
			From:     cfg.SMTPFrom,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			Timeout:  cfg.SMTPTimeout,
		},
		Redis:       rdb,
		ServiceName: service,
		Log:         log,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.MailerGroup, events.TopicOTPIssued, cfg.MailerWorkers, log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("mailer_consumer_started",
			zap.String("group", cfg.MailerGroup),
			zap.String("topic", events.TopicOTPIssued),
			zap.Int("workers", cfg.MailerWorkers))
		if err := cons.Start(ctx, d.HandleOTPIssued); err != nil {
			log.Error("consumer_exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting_down_consumer")
	cancel()
	<-done
}
