package model

import "time"

// 上传触发来源
const (
	TriggerService  = "service"
	TriggerButton   = "button"
	TriggerWatcher  = "watcher"
	TriggerSchedule = "schedule"
)

// UploadRecord 记录一次上传
type UploadRecord struct {
	ID         string       `db:"id" json:"id"`
	FileName   string       `db:"file_name" json:"file_name"`
	RemotePath string       `db:"remote_path" json:"remote_path"`
	Status     BackupStatus `db:"status" json:"status"`
	Trigger    string       `db:"trigger_source" json:"trigger"`
	Error      string       `db:"error" json:"error,omitempty"`
	StartedAt  time.Time    `db:"started_at" json:"started_at"`
	FinishedAt *time.Time   `db:"finished_at" json:"finished_at,omitempty"`
}

// ConfigEntry 保存的授权信息，只允许一条
type ConfigEntry struct {
	Token     string    `db:"token" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
