package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	TelegramMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telegram_messages_total",
		Help: "Количество полученных сообщений Telegram",
	}, []string{"chat_id", "title"})

	TelegramRepliesToMessageTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telegram_replies_to_message",
		Help: "Количество ответов на сообщения с кодами",
	})

	TelegramMessagesWithCryptobox = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telegram_messages_with_cryptobox",
		Help: "Количество сообщений, в которых найдены коды",
	}, []string{"chat_id", "title"})

	TelegramRestrictedChatMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telegram_restricted_chat_messages",
		Help: "Сообщения из чатов в чёрном списке",
	}, []string{"chat_id", "chat_title"})

	TelegramRestrictedUserMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telegram_restricted_user_messages",
		Help: "Сообщения от пользователей в чёрном списке",
	}, []string{"user_id", "user_username"})

	PipelineOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_outcomes_total",
		Help: "Результаты текстовых цепочек",
	}, []string{"pipeline", "outcome"})

	HandlerOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "handler_outcomes_total",
		Help: "Результаты обработки сообщений очереди",
	}, []string{"queue", "outcome"})

	CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_requests_total",
		Help: "Обращения к кэшу по пространствам ключей",
	}, []string{"namespace", "result"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		TelegramMessagesTotal,
		TelegramRepliesToMessageTotal,
		TelegramMessagesWithCryptobox,
		TelegramRestrictedChatMessages,
		TelegramRestrictedUserMessages,
		PipelineOutcomes,
		HandlerOutcomes,
		CacheRequests,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
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

// ObserveCache учитывает попадание или промах кэша.
func ObserveCache(namespace, result string) {
	CacheRequests.WithLabelValues(namespace, result).Inc()
}

// ObservePipeline учитывает результат текстовой цепочки.
func ObservePipeline(pipeline, outcome string) {
	PipelineOutcomes.WithLabelValues(pipeline, outcome).Inc()
}

// ObserveHandler учитывает результат обработки сообщения очереди.
func ObserveHandler(queue, outcome string) {
	HandlerOutcomes.WithLabelValues(queue, outcome).Inc()
}

// IncMessage увеличивает счётчик входящих сообщений чата.
func IncMessage(chatID int64, title string) {
	TelegramMessagesTotal.WithLabelValues(strconv.FormatInt(chatID, 10), title).Inc()
}

// IncMessageWithCryptobox увеличивает счётчик сообщений с кодами.
func IncMessageWithCryptobox(chatID int64, title string) {
	TelegramMessagesWithCryptobox.WithLabelValues(strconv.FormatInt(chatID, 10), title).Inc()
}

// IncRestrictedUser учитывает сообщение от пользователя из чёрного списка.
func IncRestrictedUser(userID int64, username string) {
	TelegramRestrictedUserMessages.WithLabelValues(strconv.FormatInt(userID, 10), username).Inc()
}

// IncRestrictedChat учитывает сообщение из чата в чёрном списке.
func IncRestrictedChat(chatID int64, title string) {
	TelegramRestrictedChatMessages.WithLabelValues(strconv.FormatInt(chatID, 10), title).Inc()
}
