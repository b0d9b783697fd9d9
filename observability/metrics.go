// Package observability holds the process-wide prometheus collectors. Metrics
// are lazily initialised singletons so packages can record without wiring a
// registry through every constructor.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	rpcRequestsOnce sync.Once
	rpcRequests     *prometheus.CounterVec

	bridgeCapturedOnce sync.Once
	bridgeCaptured     *prometheus.CounterVec

	settlementsOnce sync.Once
	settlements     *prometheus.CounterVec
)

// RPCRequests counts JSON-RPC requests segmented by method and outcome.
func RPCRequests() *prometheus.CounterVec {
	rpcRequestsOnce.Do(func() {
		rpcRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sheetchain",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total JSON-RPC requests segmented by method and outcome.",
		}, []string{"method", "outcome"})
		prometheus.MustRegister(rpcRequests)
	})
	return rpcRequests
}

// BridgeEventsCaptured counts bridge lock events captured by source chain.
func BridgeEventsCaptured() *prometheus.CounterVec {
	bridgeCapturedOnce.Do(func() {
		bridgeCaptured = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sheetchain",
			Subsystem: "bridge",
			Name:      "events_captured_total",
			Help:      "Total bridge lock events captured segmented by source chain.",
		}, []string{"source"})
		prometheus.MustRegister(bridgeCaptured)
	})
	return bridgeCaptured
}

// Settlements counts settlement attempts segmented by route and outcome.
func Settlements() *prometheus.CounterVec {
	settlementsOnce.Do(func() {
		settlements = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sheetchain",
			Subsystem: "bridge",
			Name:      "settlements_total",
			Help:      "Total settlement attempts segmented by route and outcome.",
		}, []string{"route", "outcome"})
		prometheus.MustRegister(settlements)
	})
	return settlements
}
