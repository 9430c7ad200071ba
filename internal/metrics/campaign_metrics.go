package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CampaignMetrics содержит метрики воронки допуска и финализации.
type CampaignMetrics struct {
	// Счётчики первой фазы
	reservations        *prometheus.CounterVec
	reservationDuration prometheus.Histogram

	// Счётчики токенов
	tokensIssued    prometheus.Counter
	tokensConfirmed prometheus.Counter
	tokenRejections prometheus.Counter

	// Финализация
	entriesFinalized *prometheus.CounterVec
	finalizeDuration prometheus.Histogram
	stockExhausted   prometheus.Counter

	// Восстановление и компенсации
	failuresCaptured  prometheus.Counter
	retriesPublished  prometheus.Counter
	retriesExhausted  prometheus.Counter
	slotsReleased     prometheus.Counter
	activitiesSynced  prometheus.Counter
	outboxEvents      prometheus.Counter
	inFlightFinalized prometheus.Gauge
}

// NewCampaignMetrics создаёт новый экземпляр метрик воронки.
func NewCampaignMetrics() *CampaignMetrics {
	return newCampaignMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newCampaignMetricsWithRegisterer(registerer prometheus.Registerer) *CampaignMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CampaignMetrics{
		reservations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "flashsale_reservations_total",
			Help: "Total number of slot reservation attempts by outcome",
		}, []string{"outcome"}),
		reservationDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "flashsale_reservation_duration_seconds",
			Help:    "Duration of slot reservation attempts in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		tokensIssued: registerCounter(registerer, prometheus.CounterOpts{
			Name: "flashsale_reservation_tokens_issued_total",
			Help: "Total number of reservation tokens issued",
		}),
		tokensConfirmed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "flashsale_reservation_tokens_confirmed_total",
			Help: "Total number of reservation tokens confirmed exactly once",
		}),
		tokenRejections: registerCounter(registerer, prometheus.CounterOpts{
			Name: "flashsale_token_rejections_total",
			Help: "Total number of invalid, expired or foreign token presentations",
		}),
		entriesFinalized: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "flashsale_entries_finalized_total",
			Help: "Total number of finalized participation entries by result",
		}, []string{"result"}),
		finalizeDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "flashsale_finalize_duration_seconds",
			Help:    "Duration of entry finalization in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stockExhausted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "flashsale_stock_exhausted_total",
			Help: "Total number of finalizations rejected due to exhausted stock",
		}),
		failuresCaptured: registerCounter(registerer, prometheus.CounterOpts{
			Name: "flashsale_payment_failures_captured_total",
			Help: "Total number of payment failures captured to the durable log",
		}),
		retriesPublished: registerCounter(registerer, prometheus.CounterOpts{
			Name: "flashsale_payment_retries_published_total",
			Help: "Total number of recovered commands republished to the retry channel",
		}),
		retriesExhausted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "flashsale_payment_retries_exhausted_total",
			Help: "Total number of failure log records that hit the retry ceiling",
		}),
		slotsReleased: registerCounter(registerer, prometheus.CounterOpts{
			Name: "flashsale_slots_released_total",
			Help: "Total number of slots released after reservation token expiry",
		}),
		activitiesSynced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "flashsale_activities_synced_total",
			Help: "Total number of ended activities reconciled with product stock",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "flashsale_outbox_events_total",
			Help: "Total number of outbox events published",
		}),
		inFlightFinalized: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "flashsale_finalizations_in_flight",
			Help: "Number of finalizations currently being processed",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordReservation учитывает попытку резервации с её исходом.
func (m *CampaignMetrics) RecordReservation(outcome string, duration time.Duration) {
	m.reservations.WithLabelValues(outcome).Inc()
	m.reservationDuration.Observe(duration.Seconds())
}

// RecordTokenIssued увеличивает счётчик выпущенных токенов.
func (m *CampaignMetrics) RecordTokenIssued() {
	m.tokensIssued.Inc()
}

// RecordTokenConfirmed увеличивает счётчик подтверждённых токенов.
func (m *CampaignMetrics) RecordTokenConfirmed() {
	m.tokensConfirmed.Inc()
}

// RecordTokenRejected увеличивает счётчик отклонённых токенов.
func (m *CampaignMetrics) RecordTokenRejected() {
	m.tokenRejections.Inc()
}

// RecordEntryFinalized учитывает результат финализации записи участия.
func (m *CampaignMetrics) RecordEntryFinalized(result string, duration time.Duration) {
	m.entriesFinalized.WithLabelValues(result).Inc()
	m.finalizeDuration.Observe(duration.Seconds())
}

// RecordStockExhausted увеличивает счётчик отказов из-за стока.
func (m *CampaignMetrics) RecordStockExhausted() {
	m.stockExhausted.Inc()
}

// RecordFailureCaptured увеличивает счётчик записей журнала сбоев.
func (m *CampaignMetrics) RecordFailureCaptured() {
	m.failuresCaptured.Inc()
}

// RecordRetryPublished увеличивает счётчик восстановленных команд.
func (m *CampaignMetrics) RecordRetryPublished() {
	m.retriesPublished.Inc()
}

// RecordRetryExhausted увеличивает счётчик записей, исчерпавших попытки.
func (m *CampaignMetrics) RecordRetryExhausted() {
	m.retriesExhausted.Inc()
}

// RecordSlotReleased увеличивает счётчик компенсаций по истечению токена.
func (m *CampaignMetrics) RecordSlotReleased() {
	m.slotsReleased.Inc()
}

// RecordActivitySynced увеличивает счётчик сверенных активностей.
func (m *CampaignMetrics) RecordActivitySynced() {
	m.activitiesSynced.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CampaignMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// FinalizationStarted увеличивает количество финализаций в работе.
func (m *CampaignMetrics) FinalizationStarted() {
	m.inFlightFinalized.Inc()
}

// FinalizationFinished уменьшает количество финализаций в работе.
func (m *CampaignMetrics) FinalizationFinished() {
	m.inFlightFinalized.Dec()
}
