package model

import "time"

// BackupStatus 上传状态
type BackupStatus string

const (
	StatusIdle      BackupStatus = "idle"
	StatusChecking  BackupStatus = "checking"
	StatusUploading BackupStatus = "uploading"
	StatusSuccess   BackupStatus = "success"
	StatusFailed    BackupStatus = "failed"
	StatusError     BackupStatus = "error"
)

var statusDescriptions = map[BackupStatus]string{
	StatusIdle:      "空闲",
	StatusChecking:  "检查中",
	StatusUploading: "上传中",
	StatusSuccess:   "上传成功",
	StatusFailed:    "上传失败",
	StatusError:     "发生错误",
}

// Description 返回状态说明
func (s BackupStatus) Description() string {
	if d, ok := statusDescriptions[s]; ok {
		return d
	}
	return "未知状态"
}

// Icon 返回状态对应的图标
func (s BackupStatus) Icon() string {
	switch s {
	case StatusChecking:
		return "mdi:cloud-search"
	case StatusUploading:
		return "mdi:cloud-upload"
	case StatusSuccess:
		return "mdi:cloud-check"
	case StatusFailed, StatusError:
		return "mdi:cloud-alert"
	default:
		return "mdi:cloud-sync"
	}
}

func (s BackupStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusError
}

func (s BackupStatus) IsBusy() bool {
	return s == StatusChecking || s == StatusUploading
}

// StatusRecord 共享的状态记录，只在内存中保存
type StatusRecord struct {
	Status        BackupStatus `json:"status"`
	Progress      string       `json:"progress,omitempty"`
	LastLocalOnly *int         `json:"last_local_only,omitempty"` // 仅在上传中使用
	Generation    uint64       `json:"generation"`
	UpdatedAt     time.Time    `json:"updated_at"`
}
