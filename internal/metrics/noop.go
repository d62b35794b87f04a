package metrics

import "net/http"

// noopMetrics implements all the metrics interfaces and discards every update.
type noopMetrics struct{}

var noop = noopMetrics{}

func defaultNoopMetrics() Metrics {
	return &noop
}

func (n *noopMetrics) GetOrCreateCountMeter(string) CountMeter { return &noop }

func (n *noopMetrics) GetOrCreateCountVecMeter(string, []string) CountVecMeter { return &noop }

func (n *noopMetrics) GetOrCreateGaugeMeter(string) GaugeMeter { return &noop }

func (n *noopMetrics) GetOrCreateGaugeVecMeter(string, []string) GaugeVecMeter { return &noop }

func (n *noopMetrics) GetOrCreateHandler() http.Handler { return nil }

func (n *noopMetrics) Add(int64) {}

func (n *noopMetrics) Set(int64) {}

func (n *noopMetrics) AddWithLabel(int64, map[string]string) {}

func (n *noopMetrics) SetWithLabel(int64, map[string]string) {}
