package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// 创建临时配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
paths:
  config_dir: /test/config
bypy:
  path: /usr/local/bin/bypy
  nice: false
timings:
  scan_interval: 2m
  settle_after: 10s
  upload_timeout: 1h
timezone: UTC
database:
  path: ./data/test.db
server:
  listen: 127.0.0.1:9000
watch:
  enabled: true
schedule:
  cron: "0 3 * * *"
logging:
  level: debug
  file: ./logs/test.log
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"paths.config_dir", cfg.Paths.ConfigDir, "/test/config"},
		{"backup dir", cfg.BackupDir(), "/test/config/backups"},
		{"bypy.path", cfg.Bypy.Path, "/usr/local/bin/bypy"},
		{"bypy.nice", cfg.Bypy.Nice, false},
		{"bypy.remote_dir", cfg.Bypy.RemoteDir, DefaultRemoteDir},
		{"bypy.pip_index_url", cfg.Bypy.PipIndexURL, DefaultPipIndexURL},
		{"timings.scan_interval", cfg.Timings.ScanInterval, 2 * time.Minute},
		{"timings.settle_after", cfg.Timings.SettleAfter, 10 * time.Second},
		{"timings.upload_timeout", cfg.Timings.UploadTimeout, time.Hour},
		{"timezone", cfg.Timezone, "UTC"},
		{"database.path", cfg.Database.Path, "./data/test.db"},
		{"server.listen", cfg.Server.Listen, "127.0.0.1:9000"},
		{"watch.enabled", cfg.Watch.Enabled, true},
		{"schedule.cron", cfg.Schedule.Cron, "0 3 * * *"},
		{"logging.level", cfg.Logging.Level, "debug"},
		{"logging.file", cfg.Logging.File, "./logs/test.log"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %v, want %v", tt.got, tt.expected)
			}
		})
	}

	t.Run("non-existent file", func(t *testing.T) {
		_, err := Load("non-existent.yaml")
		if err == nil {
			t.Error("expected error for non-existent file")
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("paths:\n  config_dir: /ha\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Timings.ScanInterval != time.Minute {
		t.Errorf("scan_interval = %v, want 1m", cfg.Timings.ScanInterval)
	}
	if cfg.Timings.UploadTimeout != 0 {
		t.Errorf("upload_timeout = %v, want 0", cfg.Timings.UploadTimeout)
	}
	if !cfg.Bypy.Nice {
		t.Error("bypy.nice should default to true")
	}
	if cfg.Bypy.RemoteDir != "HomeAssistant备份" {
		t.Errorf("remote_dir = %q", cfg.Bypy.RemoteDir)
	}
	loc, err := cfg.Location()
	if err != nil {
		t.Fatal(err)
	}
	if loc.String() != "Asia/Shanghai" {
		t.Errorf("location = %s", loc)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("bypy:\n  path: bypy\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BAIDU_BACKUP_BYPY_PATH", "/opt/bypy")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bypy.Path != "/opt/bypy" {
		t.Errorf("bypy.path = %q, want /opt/bypy", cfg.Bypy.Path)
	}
}

func TestLoadInvalidTimezone(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("timezone: Not/AZone\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid timezone")
	}
}
