package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CollectorErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collector_errors_total",
		Help: "Ошибки при сборе источников",
	})
	MessagesFetched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_messages_fetched_total",
		Help: "Новые текстовые сообщения по источникам",
	}, []string{"source"})
	MessagesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_messages_rejected_total",
		Help: "Сообщения, отброшенные фильтром",
	}, []string{"reason"})
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_runs_total",
		Help: "Запуски конвейера по итоговому статусу",
	}, []string{"status"})
	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "collector_run_duration_seconds",
		Help:    "Длительность запуска конвейера",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
	})
	LastRunTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "collector_last_run_timestamp_seconds",
		Help: "Время завершения последнего запуска",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		CollectorErrors,
		MessagesFetched,
		MessagesRejected,
		RunsTotal,
		RunDuration,
		LastRunTimestamp,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// ObserveFetched учитывает новые сообщения источника.
func ObserveFetched(source string, n int) {
	if n <= 0 {
		return
	}
	MessagesFetched.WithLabelValues(source).Add(float64(n))
}

// ObserveFilter учитывает отброшенные фильтром сообщения по причинам.
func ObserveFilter(tooShort, patternMatch, noText int) {
	MessagesRejected.WithLabelValues("too_short").Add(float64(tooShort))
	MessagesRejected.WithLabelValues("pattern_match").Add(float64(patternMatch))
	MessagesRejected.WithLabelValues("no_text").Add(float64(noText))
}

// ObserveRun записывает итог запуска.
func ObserveRun(status string, duration time.Duration) {
	RunsTotal.WithLabelValues(status).Inc()
	RunDuration.Observe(duration.Seconds())
	LastRunTimestamp.SetToCurrentTime()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}
