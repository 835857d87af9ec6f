package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	UsersRegistered      prometheus.Counter
	DonationsRecorded    prometheus.Counter
	TransfersRecorded    prometheus.Counter
	DispensesRecorded    prometheus.Counter
	CollectionsConfirmed prometheus.Counter
	PaymentsVerified     prometheus.Counter
	TransferRejections   *prometheus.CounterVec
	HTTPDuration         *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		UsersRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloodbridge_users_registered_total",
			Help: "Total number of users registered in the system",
		}),
		DonationsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloodbridge_donations_recorded_total",
			Help: "Total number of donor to organisation donations recorded",
		}),
		TransfersRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloodbridge_transfers_recorded_total",
			Help: "Total number of organisation to hospital transfers recorded",
		}),
		DispensesRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloodbridge_dispenses_recorded_total",
			Help: "Total number of hospital to recipient dispenses recorded",
		}),
		CollectionsConfirmed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloodbridge_collections_confirmed_total",
			Help: "Total number of collection/receipt flag confirmations",
		}),
		PaymentsVerified: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloodbridge_payments_verified_total",
			Help: "Total number of payment signatures verified successfully",
		}),
		TransferRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodbridge_transfer_rejections_total",
			Help: "Total number of rejected transfer attempts by reason",
		}, []string{"reason"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bloodbridge_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}
