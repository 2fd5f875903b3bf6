package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SyncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vm_sync_duration_seconds",
		Help:    "单次同步耗时",
		Buckets: prometheus.DefBuckets,
	})

	ProfileErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vm_sync_profile_errors_total",
		Help: "连接配置同步失败次数",
	}, []string{"profile"})

	VMsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vm_sync_vms_total",
		Help: "按结果统计的 VM 数量",
	}, []string{"outcome"})

	LockContention = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vm_sync_lock_contention_total",
		Help: "未抢到同步锁而跳过的次数",
	})

	GraphErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vm_sync_graph_errors_total",
		Help: "图投影失败次数",
	})
)

var registerOnce sync.Once

// MustRegister 注册指标，可在 main 中调用。
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(SyncDuration, ProfileErrors, VMsProcessed, LockContention, GraphErrors)
}

// RegisterDefault 向默认 registry 注册一次。
func RegisterDefault() {
	registerOnce.Do(func() { MustRegister(prometheus.DefaultRegisterer) })
}

// ObserveResult 累加一次 upsert 的结果。
func ObserveResult(created, updated, unchanged, skipped int) {
	VMsProcessed.WithLabelValues("created").Add(float64(created))
	VMsProcessed.WithLabelValues("updated").Add(float64(updated))
	VMsProcessed.WithLabelValues("unchanged").Add(float64(unchanged))
	VMsProcessed.WithLabelValues("skipped").Add(float64(skipped))
}
