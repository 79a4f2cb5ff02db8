package db

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "matchd_db_pool"

// PoolCollector is a prometheus.Collector exposing pgxpool statistics for
// every endpoint in a Registry. Values are read from Stat() at scrape time.
type PoolCollector struct {
	reg *Registry

	total    *prometheus.Desc
	idle     *prometheus.Desc
	acquired *prometheus.Desc
	max      *prometheus.Desc
	acquires *prometheus.Desc
	canceled *prometheus.Desc
	waitSecs *prometheus.Desc
}

// NewPoolCollector returns a collector over reg's pools.
func NewPoolCollector(reg *Registry) *PoolCollector {
	labels := []string{"endpoint", "role", "host"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, labels, nil)
	}
	return &PoolCollector{
		reg:      reg,
		total:    desc("connections", "Connections currently open in the pool."),
		idle:     desc("idle_connections", "Idle connections in the pool."),
		acquired: desc("acquired_connections", "Connections currently checked out."),
		max:      desc("max_connections", "Configured maximum pool size."),
		acquires: desc("acquires_total", "Successful connection acquisitions."),
		canceled: desc("canceled_acquires_total", "Acquires canceled by their context before a connection was available."),
		waitSecs: desc("acquire_wait_seconds_total", "Time spent waiting for a connection."),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.idle
	ch <- c.acquired
	ch <- c.max
	ch <- c.acquires
	ch <- c.canceled
	ch <- c.waitSecs
}

// Collect is part of the prometheus.Collector interface.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	for _, ep := range c.reg.AllPools() {
		if ep.Pool == nil {
			continue
		}
		st := ep.Pool.Stat()
		lv := []string{ep.Endpoint.Name, string(ep.Endpoint.Role), ep.Endpoint.Host}

		ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(st.TotalConns()), lv...)
		ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(st.IdleConns()), lv...)
		ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(st.AcquiredConns()), lv...)
		ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(st.MaxConns()), lv...)
		ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(st.AcquireCount()), lv...)
		ch <- prometheus.MustNewConstMetric(c.canceled, prometheus.CounterValue, float64(st.CanceledAcquireCount()), lv...)
		ch <- prometheus.MustNewConstMetric(c.waitSecs, prometheus.CounterValue, st.AcquireDuration().Seconds(), lv...)
	}
}
