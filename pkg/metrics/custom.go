package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RateLimitBlockTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orderchat",
			Name:      "ratelimit_block_total",
			Help:      "Total number of rate limit blocks.",
		},
		[]string{"scope", "route"}, // scope: http/ws
	)

	CBRejectTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orderchat",
			Name:      "circuitbreaker_reject_total",
			Help:      "Total number of circuit breaker rejections.",
		},
		[]string{"breaker"},
	)

	CBState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "orderchat",
			Name:      "circuitbreaker_state",
			Help:      "Circuit breaker state (0/1).",
		},
		[]string{"breaker", "state"}, // state: closed/open/half_open
	)

	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orderchat",
			Name:      "chat_messages_total",
			Help:      "Send attempts partitioned by result code.",
		},
		[]string{"result"},
	)

	ChannelClosesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orderchat",
			Name:      "chat_channel_closes_total",
			Help:      "Close attempts partitioned by result code.",
		},
		[]string{"result"},
	)

	FanoutSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "orderchat",
		Name:      "chat_fanout_subscribers",
		Help:      "Number of live subscribers a message was fanned out to.",
		Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
	})

	SubscribersKickedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orderchat",
		Name:      "chat_subscribers_kicked_total",
		Help:      "Subscribers dropped because their delivery queue was full.",
	})

	RelayErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orderchat",
		Name:      "chat_relay_errors_total",
		Help:      "Cross-node relay publish/decode errors.",
	}, []string{"op"})
)
