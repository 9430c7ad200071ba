package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/flashsale/internal/health"
	"github.com/vladislavdragonenkov/flashsale/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/flashsale/internal/metrics"
	"github.com/vladislavdragonenkov/flashsale/internal/service/admission"
	"github.com/vladislavdragonenkov/flashsale/internal/service/expiry"
	"github.com/vladislavdragonenkov/flashsale/internal/service/finalizer"
	"github.com/vladislavdragonenkov/flashsale/internal/service/meta"
	"github.com/vladislavdragonenkov/flashsale/internal/service/outbox"
	"github.com/vladislavdragonenkov/flashsale/internal/service/payment"
	"github.com/vladislavdragonenkov/flashsale/internal/service/recovery"
	"github.com/vladislavdragonenkov/flashsale/internal/service/reconciler"
	"github.com/vladislavdragonenkov/flashsale/internal/service/token"
	"github.com/vladislavdragonenkov/flashsale/internal/service/validation"
	"github.com/vladislavdragonenkov/flashsale/internal/version"
)

const consumerMaxRetries = 3

// Run собирает сервис допуска и держит его до отмены контекста.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	campaignMetrics := metrics.NewCampaignMetrics()

	tokenSvc, err := token.NewService(deps.KV, token.Config{
		Secret:         []byte(cfg.TokenSecret),
		ReservationTTL: cfg.ReservationTTL,
		ApprovalTTL:    cfg.ApprovalTTL,
	}, campaignMetrics)
	if err != nil {
		return fmt.Errorf("create token service: %w", err)
	}

	metaSvc := meta.NewService(deps.KV, meta.NewHTTPCatalogClient(cfg.CatalogBaseURL, cfg.CatalogSystemToken), cfg.MetaCacheTTL)
	validationSvc := validation.NewService(deps.Snapshots)

	// Поведенческие события идут только через брокер; в локальном режиме
	// аналитики нет.
	var notifier admission.ApprovalNotifier
	if campaignPublisher, ok := deps.Publisher.(*kafka.CampaignPublisher); ok {
		notifier = &behaviorNotifier{publisher: campaignPublisher}
	}

	admissionSvc := admission.NewService(deps.Admission, metaSvc, validationSvc, notifier, campaignMetrics)
	recoverySvc := recovery.NewService(deps.Failures, campaignMetrics)
	paymentSvc := payment.NewService(tokenSvc, deps.Publisher, recoverySvc)

	strategies := map[domain.CampaignType]finalizer.Strategy{
		domain.CampaignTypeFirstComeFirstServe: finalizer.NewFCFSStrategy(deps.Entries),
		domain.CampaignTypePurchase:            finalizer.NewPurchaseStrategy(deps.Entries, campaignMetrics),
	}
	finalizerSvc := finalizer.NewService(strategies, deps.Locker, recoverySvc, campaignMetrics, finalizer.Options{
		LockWait:  cfg.LockWait,
		LockLease: cfg.LockLease,
	})

	if deps.Loopback != nil {
		deps.Loopback.SetHandler(finalizerSvc.Finalize)
	}

	recoveryScheduler := recovery.NewScheduler(deps.Failures, deps.Publisher, campaignMetrics,
		recovery.WithInterval(cfg.RecoveryInterval),
		recovery.WithBatchSize(cfg.RecoveryBatchSize),
		recovery.WithMaxRetries(cfg.RecoveryMaxRetries),
	)
	stockReconciler := reconciler.NewScheduler(deps.Activities, deps.Products, deps.Admission, campaignMetrics, reconciler.Options{
		Interval: cfg.ReconcileInterval,
		Lookback: cfg.ReconcileLookback,
	})
	expiryListener := expiry.NewListener(deps.ExpiredKeys, deps.Admission, deps.KV, campaignMetrics)

	var outboxWorker *outbox.Worker
	if campaignPublisher, ok := deps.Publisher.(*kafka.CampaignPublisher); ok {
		outboxWorker = outbox.NewWorker(deps.OutboxRepo, campaignPublisher,
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(campaignPublisher),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
		)
	}

	var consumer *kafka.Consumer
	if deps.Producer != nil {
		consumer, err = kafka.NewConsumerWithDLQ(
			deps.KafkaBrokers,
			cfg.KafkaGroupID,
			[]string{kafka.TopicCampaignCommand, kafka.TopicPaymentRetry},
			finalizerSvc.HandleMessage,
			deps.Producer,
			consumerMaxRetries,
		)
		if err != nil {
			return fmt.Errorf("create kafka consumer: %w", err)
		}
	}

	if deps.Subscriber != nil {
		if err := deps.Subscriber.Start(ctx); err != nil {
			return fmt.Errorf("start expired key subscriber: %w", err)
		}
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	var wg sync.WaitGroup
	runWorker := func(run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(workerCtx)
		}()
	}
	runWorker(recoveryScheduler.Run)
	runWorker(stockReconciler.Run)
	runWorker(expiryListener.Run)
	if outboxWorker != nil {
		runWorker(outboxWorker.Run)
	}

	if consumer != nil {
		if err := consumer.Start(workerCtx); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		logger.WithField("group_id", cfg.KafkaGroupID).Info("kafka consumer started")
	}

	healthHandler := healthcheck.NewHandler(version.String())
	registerHealthCheckers(healthHandler, deps)
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	api := NewAPI(admissionSvc, tokenSvc, paymentSvc)
	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.Routes()}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	stop := func() {
		shutdownHTTP(apiSrv, logger)
		cancelWorkers()
		if consumer != nil {
			if err := consumer.Stop(); err != nil {
				logger.WithError(err).Warn("failed to stop kafka consumer")
			}
		}
		wg.Wait()
		if deps.Subscriber != nil {
			deps.Subscriber.Wait()
		}
		shutdownHTTP(metricsSrv, logger)
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервис")
		stop()
		return ctx.Err()
	case err := <-errCh:
		stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// registerHealthCheckers подключает проверки внешних хранилищ; in-memory
// реализации проверок не требуют.
func registerHealthCheckers(handler *healthcheck.Handler, deps *Dependencies) {
	if deps.RedisStore != nil {
		store := deps.RedisStore
		handler.RegisterChecker("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return store.Ping(ctx)
		})
	}
	if deps.PostgresStore != nil {
		store := deps.PostgresStore
		handler.RegisterChecker("postgres", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return store.Ping(ctx)
		})
	}
}

// behaviorNotifier отправляет событие допуска в аналитический топик.
type behaviorNotifier struct {
	publisher *kafka.CampaignPublisher
}

func (n *behaviorNotifier) NotifyApproved(activityID, userID, order int64) error {
	return n.publisher.PublishBehavior(kafka.NewApprovedEvent(activityID, userID, order))
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
