package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "lifelog"

// Registry is the dedicated Prometheus registry for all sync metrics.
// A private registry keeps the default global registry free of our
// collectors when the module is embedded in a larger process.
var Registry = prometheus.NewRegistry()
