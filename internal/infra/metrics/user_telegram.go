package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(usersRegisteredTotal, telegramUpdatesTotal)
}

var (
	usersRegisteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "users_registered_total",
			Help:      "Users seen for the first time.",
		},
	)

	telegramUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegram_updates_total",
			Help:      "Telegram updates handled, by kind.",
		},
		[]string{"kind"}, // command name, photo, document, prompt, callback
	)
)

func IncUserRegistered() { usersRegisteredTotal.Inc() }

func IncTelegramUpdate(kind string) {
	telegramUpdatesTotal.WithLabelValues(norm(kind)).Inc()
}
