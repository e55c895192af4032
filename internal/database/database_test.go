package database

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sleepstars/baidubackup/internal/model"
	"go.uber.org/zap"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNew(t *testing.T) {
	// 创建临时目录
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "test.db")
	logger := zap.NewNop()

	db, err := New(dbPath, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer db.Close()

	// 验证数据库文件是否创建
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}

	// 验证表是否创建
	for _, table := range []string{"config_entries", "uploads"} {
		var count int
		err = db.db.QueryRow(`
			SELECT COUNT(*) FROM sqlite_master
			WHERE type='table' AND name=?
		`, table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to check table existence: %v", err)
		}
		if count != 1 {
			t.Errorf("%s table was not created", table)
		}
	}

	// 验证索引是否创建
	rows, err := db.db.Query(`
		SELECT name FROM sqlite_master
		WHERE type='index' AND tbl_name='uploads'
	`)
	if err != nil {
		t.Fatalf("failed to check indexes: %v", err)
	}
	defer rows.Close()

	indexes := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes[name] = true
	}

	for _, idx := range []string{"idx_uploads_status", "idx_uploads_started_at"} {
		if !indexes[idx] {
			t.Errorf("index %s was not created", idx)
		}
	}

	t.Run("reopen runs migrations idempotently", func(t *testing.T) {
		db2, err := New(dbPath, logger)
		if err != nil {
			t.Fatalf("reopen error = %v", err)
		}
		db2.Close()
	})

	t.Run("invalid path", func(t *testing.T) {
		_, err := New("", logger)
		if err == nil {
			t.Error("expected error for invalid path")
		}
	})
}

func TestConfigEntry(t *testing.T) {
	db := newTestDB(t)

	if _, err := db.Entry(); !errors.Is(err, ErrNoEntry) {
		t.Fatalf("Entry() error = %v, want ErrNoEntry", err)
	}

	if err := db.SaveEntry("token-1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveEntry("token-2"); err != nil {
		t.Fatal(err)
	}

	e, err := db.Entry()
	if err != nil {
		t.Fatal(err)
	}
	if e.Token != "token-2" {
		t.Errorf("token = %q, want token-2", e.Token)
	}

	var count int
	if err := db.db.QueryRow("SELECT COUNT(*) FROM config_entries").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("entry count = %d, want 1", count)
	}

	if err := db.DeleteEntry(); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Entry(); !errors.Is(err, ErrNoEntry) {
		t.Errorf("Entry() after delete error = %v", err)
	}
}

func TestUploads(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	records := []model.UploadRecord{
		{ID: "a", FileName: "a.tar", RemotePath: "/HomeAssistant备份/a.tar", Status: model.StatusUploading, Trigger: model.TriggerButton, StartedAt: base},
		{ID: "b", FileName: "b.tar", RemotePath: "/HomeAssistant备份/b.tar", Status: model.StatusUploading, Trigger: model.TriggerService, StartedAt: base.Add(time.Hour)},
	}
	for i := range records {
		if err := db.InsertUpload(&records[i]); err != nil {
			t.Fatal(err)
		}
	}

	if err := db.FinishUpload("a", model.StatusSuccess, "", base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := db.FinishUpload("b", model.StatusFailed, "exit 1", base.Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := db.FinishUpload("missing", model.StatusFailed, "", base); err == nil {
		t.Error("expected error for unknown record")
	}

	list, err := db.ListUploads(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].ID != "b" || list[0].Status != model.StatusFailed || list[0].Error != "exit 1" {
		t.Errorf("unexpected newest record %+v", list[0])
	}
	if list[1].FinishedAt == nil {
		t.Error("finished_at should be set")
	}

	last, err := db.LastSuccessfulUpload()
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || last.ID != "a" {
		t.Errorf("last successful = %+v, want a", last)
	}
}
