package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sleepstars/baidubackup/internal/model"
)

func TestStatusGauge(t *testing.T) {
	m := New()
	if got := testutil.ToFloat64(m.status.WithLabelValues("idle")); got != 1 {
		t.Errorf("idle = %v, want 1", got)
	}

	m.SetStatus(model.StatusUploading)
	if got := testutil.ToFloat64(m.status.WithLabelValues("idle")); got != 0 {
		t.Errorf("idle = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.status.WithLabelValues("uploading")); got != 1 {
		t.Errorf("uploading = %v, want 1", got)
	}
}

func TestReadings(t *testing.T) {
	m := New()
	m.SetQuota(2048)
	m.SetUsed(740)
	ts := time.Date(2024, 5, 3, 20, 15, 0, 0, time.UTC)
	m.SetLastUpload(ts)

	if got := testutil.ToFloat64(m.quota); got != 2048 {
		t.Errorf("quota = %v", got)
	}
	if got := testutil.ToFloat64(m.used); got != 740 {
		t.Errorf("used = %v", got)
	}
	if got := testutil.ToFloat64(m.lastUpload); got != float64(ts.Unix()) {
		t.Errorf("last upload = %v", got)
	}
}

func TestObserveUpload(t *testing.T) {
	m := New()
	m.ObserveUpload(model.StatusSuccess, 30*time.Second)
	m.ObserveUpload(model.StatusSuccess, 0)
	m.ObserveUpload(model.StatusFailed, time.Second)

	if got := testutil.ToFloat64(m.uploads.WithLabelValues("success")); got != 2 {
		t.Errorf("success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.uploads.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.duration); n != 1 {
		t.Errorf("histogram count = %d, want 1", n)
	}
}
