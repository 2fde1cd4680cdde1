// Package metrics exposes the prometheus counters and histograms for
// push/pull throughput, epoch rotation, collection quarantine, and
// presence churn, registered against a dedicated Registry rather than
// the global default one.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "syncengine"

// Registry is the prometheus registry every metric in this package is
// registered against via promauto.With(Registry).
var Registry = prometheus.NewRegistry()
