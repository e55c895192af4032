package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

const (
	DefaultRemoteDir   = "HomeAssistant备份"
	DefaultTimezone    = "Asia/Shanghai"
	DefaultPipIndexURL = "https://pypi.tuna.tsinghua.edu.cn/simple"
)

type Config struct {
	Paths struct {
		ConfigDir string `mapstructure:"config_dir"`
	}
	Bypy struct {
		Path        string
		Nice        bool
		RemoteDir   string `mapstructure:"remote_dir"`
		Python      string
		PipIndexURL string `mapstructure:"pip_index_url"`
	}
	Timings struct {
		ScanInterval  time.Duration `mapstructure:"scan_interval"`
		SettleAfter   time.Duration `mapstructure:"settle_after"`
		UploadTimeout time.Duration `mapstructure:"upload_timeout"`
	}
	Timezone string
	Database struct {
		Path string
	}
	Server struct {
		Listen string
	}
	Watch struct {
		Enabled bool
	}
	Schedule struct {
		Cron string
	}
	Logging struct {
		Level string
		File  string
	}
}

// BackupDir 本地备份目录
func (c *Config) BackupDir() string {
	return filepath.Join(c.Paths.ConfigDir, "backups")
}

// Location 显示用时区
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.config_dir", "/config")
	v.SetDefault("bypy.path", "bypy")
	v.SetDefault("bypy.nice", true)
	v.SetDefault("bypy.remote_dir", DefaultRemoteDir)
	v.SetDefault("bypy.python", "python3")
	v.SetDefault("bypy.pip_index_url", DefaultPipIndexURL)
	v.SetDefault("timings.scan_interval", time.Minute)
	v.SetDefault("timings.settle_after", 30*time.Second)
	v.SetDefault("timings.upload_timeout", time.Duration(0))
	v.SetDefault("timezone", DefaultTimezone)
	v.SetDefault("database.path", "./data/baidubackup.db")
	v.SetDefault("server.listen", ":8124")
	v.SetDefault("watch.enabled", false)
	v.SetDefault("schedule.cron", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "stderr")
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)

	// 环境变量覆盖，例如 BAIDU_BACKUP_BYPY_PATH
	v.SetEnvPrefix("BAIDU_BACKUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.Timings.ScanInterval <= 0 {
		return nil, fmt.Errorf("timings.scan_interval must be positive")
	}
	if strings.TrimSpace(config.Bypy.RemoteDir) == "" {
		config.Bypy.RemoteDir = DefaultRemoteDir
	}
	if _, err := config.Location(); err != nil {
		return nil, err
	}

	return &config, nil
}
