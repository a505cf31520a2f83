// Package observability holds the Prometheus collectors shared by the
// ingestion engine, the portal fetcher, the query services and the HTTP layer.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingestion metrics
	RowsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zonal_ingest_rows_accepted_total",
		Help: "Rows accepted into the canonical store, by extraction strategy",
	}, []string{"strategy"})

	RowsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zonal_ingest_rows_skipped_total",
		Help: "Rows skipped during extraction, by extraction strategy",
	}, []string{"strategy"})

	FilesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zonal_ingest_files_failed_total",
		Help: "Workbooks whose import was aborted",
	})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zonal_ingest_file_duration_seconds",
		Help:    "Time taken to read, extract and store one workbook",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	FetchDownloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zonal_fetch_downloads_total",
		Help: "Portal attachment downloads, by result (downloaded, cached, failed)",
	}, []string{"result"})

	// Query metrics
	ExportsTruncated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zonal_exports_truncated_total",
		Help: "Exports cut at the configured row limit",
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zonal_cache_lookups_total",
		Help: "Read-through cache lookups, by result (hit, miss, error)",
	}, []string{"result"})

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zonal_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zonal_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
