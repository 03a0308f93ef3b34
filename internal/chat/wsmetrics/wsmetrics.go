package wsmetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Conns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_conns",
		Help: "Active websocket connections",
	})
	ConnOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_conn_open_total",
		Help: "Total websocket connections opened",
	})
	ConnCloseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ws_conn_close_total",
		Help: "Total websocket connections closed, partitioned by close code and reason",
	}, []string{"code", "reason"})

	SubOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ws_sub_ops_total",
		Help: "Total room membership operations",
	}, []string{"op"}) // join/leave

	InboundTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ws_inbound_total",
		Help: "Inbound frames partitioned by event and result",
	}, []string{"event", "result"})

	MsgsOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_msgs_out_total",
		Help: "Total websocket frames sent out",
	})
	BytesOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_bytes_out_total",
		Help: "Total websocket bytes sent out",
	})
	WriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_write_errors_total",
		Help: "Total websocket write errors",
	})
	DroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ws_dropped_total",
		Help: "Total dropped frames",
	}, []string{"why"})

	PingSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_ping_sent_total",
		Help: "Total ping sent",
	})
	PingErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_ping_errors_total",
		Help: "Total ping send errors",
	})
	PongRecvTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_pong_recv_total",
		Help: "Total pong received",
	})
	PongTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_pong_timeout_total",
		Help: "Total pong timeouts",
	})

	WriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_ws_write_duration_seconds",
		Help:    "Duration of a websocket frame write",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms -> ~4s
	})
)

func OnOpen() {
	Conns.Inc()
	ConnOpenTotal.Inc()
}

func OnClose(code int, reason string) {
	Conns.Dec()
	ConnCloseTotal.WithLabelValues(strconv.Itoa(code), reason).Inc()
}

func ObserveWrite(bytes int, dur time.Duration, err error) {
	WriteDuration.Observe(dur.Seconds())
	if err != nil {
		WriteErrorsTotal.Inc()
		return
	}
	MsgsOutTotal.Inc()
	BytesOutTotal.Add(float64(bytes))
}

func Inbound(event string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	InboundTotal.WithLabelValues(event, result).Inc()
}
