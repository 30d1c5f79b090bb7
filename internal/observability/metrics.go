package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	SellerUpserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_seller_upserts_total", Help: "Discovery ingest results"},
		[]string{"result"},
	)
	Approvals = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_approvals_total", Help: "Approval queue decisions"},
		[]string{"decision"},
	)
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_dispatch_total", Help: "Send loop outcomes"},
		[]string{"result"},
	)
	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "outreach_dispatch_latency_seconds", Help: "Per-attempt dispatch latency"},
	)
	AdsPowerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "adspower_api_calls_total", Help: "AdsPower Local API call outcomes"},
		[]string{"op", "result"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, SellerUpserts, Approvals, Dispatches, DispatchLatency, AdsPowerCalls)
}
