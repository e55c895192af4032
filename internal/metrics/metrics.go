package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sleepstars/baidubackup/internal/model"
)

var allStatuses = []model.BackupStatus{
	model.StatusIdle,
	model.StatusChecking,
	model.StatusUploading,
	model.StatusSuccess,
	model.StatusFailed,
	model.StatusError,
}

// Metrics 导出给 /metrics 的指标
type Metrics struct {
	Registry *prometheus.Registry

	quota      prometheus.Gauge
	used       prometheus.Gauge
	lastUpload prometheus.Gauge
	status     *prometheus.GaugeVec
	uploads    *prometheus.CounterVec
	duration   prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		quota: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "baidu_backup_quota_gigabytes",
			Help: "Total Baidu Netdisk quota in GB",
		}),
		used: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "baidu_backup_used_gigabytes",
			Help: "Used Baidu Netdisk space in GB",
		}),
		lastUpload: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "baidu_backup_last_upload_timestamp_seconds",
			Help: "Time of the newest archive in the remote backup folder",
		}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "baidu_backup_status",
			Help: "Current upload status (1 for the active status)",
		}, []string{"status"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "baidu_backup_uploads_total",
			Help: "Finished upload attempts by result",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "baidu_backup_upload_duration_seconds",
			Help:    "Duration of bypy upload runs",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}),
	}
	m.Registry.MustRegister(m.quota, m.used, m.lastUpload, m.status, m.uploads, m.duration)
	m.SetStatus(model.StatusIdle)
	return m
}

func (m *Metrics) SetQuota(gb int) { m.quota.Set(float64(gb)) }

func (m *Metrics) SetUsed(gb int) { m.used.Set(float64(gb)) }

func (m *Metrics) SetLastUpload(t time.Time) { m.lastUpload.Set(float64(t.Unix())) }

func (m *Metrics) SetStatus(s model.BackupStatus) {
	for _, st := range allStatuses {
		v := 0.0
		if st == s {
			v = 1
		}
		m.status.WithLabelValues(string(st)).Set(v)
	}
}

// ObserveUpload 记录一次上传的结果和耗时
func (m *Metrics) ObserveUpload(result model.BackupStatus, d time.Duration) {
	m.uploads.WithLabelValues(string(result)).Inc()
	if d > 0 {
		m.duration.Observe(d.Seconds())
	}
}
