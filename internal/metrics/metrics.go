package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	FormatLabel = "format"
	ReasonLabel = "reason"
	SinkLabel   = "sink"
	SourceLabel = "source"

	SourceHTTP = "http"
	SourceMQTT = "mqtt"
)

var (
	MsgReceivedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tidewatch",
			Name:      "received_msg_total",
			Help:      "The total number of received uplink messages",
		},
		[]string{SourceLabel},
	)

	MsgDecodedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tidewatch",
			Name:      "decoded_msg_total",
			Help:      "The total number of decoded uplink messages",
		},
		[]string{FormatLabel},
	)

	MsgRejectedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tidewatch",
			Name:      "rejected_msg_total",
			Help:      "The total number of rejected uplink messages",
		},
		[]string{ReasonLabel},
	)

	InsertCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tidewatch",
			Name:      "insert_total",
			Help:      "The total number of readings inserted in db",
		},
	)

	BroadcastErrorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tidewatch",
			Name:      "broadcast_error_total",
			Help:      "The total number of failed live update deliveries",
		},
		[]string{SinkLabel},
	)

	LiveClientsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tidewatch",
			Name:      "live_clients",
			Help:      "The number of connected live update clients",
		},
	)
)
