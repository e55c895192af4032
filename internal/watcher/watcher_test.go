package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sleepstars/baidubackup/internal/model"
	"github.com/sleepstars/baidubackup/internal/status"
	"go.uber.org/zap"
)

type mockUploader struct {
	mu       sync.Mutex
	triggers []string
	err      error
}

func (m *mockUploader) StartUpload(trigger string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers = append(m.triggers, trigger)
	return m.err
}

func (m *mockUploader) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.triggers)
}

func (m *mockUploader) waitFor(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.count() >= n {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func TestWatcher(t *testing.T) {
	// 创建临时目录
	tmpDir := t.TempDir()
	uploader := &mockUploader{}

	w, err := New(tmpDir, 300*time.Millisecond, uploader, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.Close()

	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// 非 tar 文件不触发
	if err := os.WriteFile(filepath.Join(tmpDir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	// 连续写入只触发一次
	backup := filepath.Join(tmpDir, "full_2024.tar")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(backup, []byte("chunk"), 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(100 * time.Millisecond)
	}

	if !uploader.waitFor(1, 2*time.Second) {
		t.Fatal("settled backup did not trigger an upload")
	}
	time.Sleep(500 * time.Millisecond)
	if n := uploader.count(); n != 1 {
		t.Errorf("triggers = %d, want 1", n)
	}
	if uploader.triggers[0] != model.TriggerWatcher {
		t.Errorf("trigger = %s, want %s", uploader.triggers[0], model.TriggerWatcher)
	}
}

func TestWatcherBusyIsIgnored(t *testing.T) {
	tmpDir := t.TempDir()
	uploader := &mockUploader{err: status.ErrBusy}

	w, err := New(tmpDir, 100*time.Millisecond, uploader, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(tmpDir, "a.tar"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if !uploader.waitFor(1, 2*time.Second) {
		t.Fatal("upload was not attempted")
	}
}

func TestWatcherMissingDir(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "missing"), time.Second, &mockUploader{}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Start(); err == nil {
		t.Error("Start() on a missing directory should fail")
	}
}
