package uploader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sleepstars/baidubackup/internal/bypy"
	"github.com/sleepstars/baidubackup/internal/model"
	"github.com/sleepstars/baidubackup/internal/status"
	"go.uber.org/zap"
)

var (
	ErrNoBackupDir = errors.New("backup directory does not exist")
	ErrNoBackups   = errors.New("no backup files found")
)

// Client 上传需要的 bypy 命令
type Client interface {
	Upload(ctx context.Context, localFile, remotePath string) error
}

// History 上传记录存储
type History interface {
	InsertUpload(rec *model.UploadRecord) error
	FinishUpload(id string, status model.BackupStatus, errMsg string, finishedAt time.Time) error
}

// Recorder 上传结果指标
type Recorder interface {
	ObserveUpload(result model.BackupStatus, d time.Duration)
}

type Uploader struct {
	client    Client
	tracker   *status.Tracker
	history   History
	recorder  Recorder
	backupDir string
	remoteDir string
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

type Options struct {
	BackupDir string
	RemoteDir string
	Timeout   time.Duration // 0 表示不限制
}

func New(client Client, tracker *status.Tracker, history History, recorder Recorder, opts Options, logger *zap.Logger) *Uploader {
	return &Uploader{
		client:    client,
		tracker:   tracker,
		history:   history,
		recorder:  recorder,
		backupDir: opts.BackupDir,
		remoteDir: strings.Trim(opts.RemoteDir, "/"),
		timeout:   opts.Timeout,
		logger:    logger,
		now:       time.Now,
	}
}

// LatestBackup 返回修改时间最新的 .tar 文件
func LatestBackup(backupDir string) (string, error) {
	info, err := os.Stat(backupDir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNoBackupDir, backupDir)
	}

	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return "", fmt.Errorf("read backup directory: %w", err)
	}

	var (
		latest    string
		latestMod time.Time
	)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tar") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if latest == "" || fi.ModTime().After(latestMod) {
			latest = filepath.Join(backupDir, e.Name())
			latestMod = fi.ModTime()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("%w in %s", ErrNoBackups, backupDir)
	}
	return latest, nil
}

// RemotePath 远程保存路径
func (u *Uploader) RemotePath(fileName string) string {
	return "/" + path.Join(u.remoteDir, fileName)
}

// Upload 上传最新的备份文件，返回本轮的最终状态。
// 已有上传进行中时返回 status.ErrBusy，状态不变。
func (u *Uploader) Upload(ctx context.Context, trigger string) (model.BackupStatus, error) {
	gen, err := u.tracker.Begin()
	if err != nil {
		return u.tracker.Snapshot().Status, err
	}

	backupFile, err := LatestBackup(u.backupDir)
	if err != nil {
		u.logger.Error("find latest backup failed", zap.Error(err))
		u.tracker.Fail(gen, err)
		u.observe(model.StatusError, 0)
		return model.StatusError, err
	}
	fileName := filepath.Base(backupFile)
	remotePath := u.RemotePath(fileName)

	u.tracker.Advance(gen, fileName)

	rec := &model.UploadRecord{
		ID:         uuid.NewString(),
		FileName:   fileName,
		RemotePath: remotePath,
		Status:     model.StatusUploading,
		Trigger:    trigger,
		StartedAt:  u.now(),
	}
	if err := u.history.InsertUpload(rec); err != nil {
		u.logger.Error("record upload failed", zap.Error(err))
	}

	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	u.logger.Info("uploading backup", zap.String("file", fileName), zap.String("remote", remotePath), zap.String("trigger", trigger))
	start := u.now()
	err = u.client.Upload(ctx, backupFile, remotePath)
	elapsed := u.now().Sub(start)

	result := model.StatusSuccess
	var exitErr *bypy.ExitError
	switch {
	case err == nil:
		u.logger.Info("backup uploaded", zap.String("file", fileName), zap.Duration("elapsed", elapsed))
	case errors.As(err, &exitErr):
		result = model.StatusFailed
		u.logger.Error("upload failed", zap.String("file", fileName), zap.Int("code", exitErr.Code), zap.String("stderr", exitErr.Stderr))
	default:
		result = model.StatusError
		u.logger.Error("upload error", zap.String("file", fileName), zap.Error(err))
	}

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	var finished bool
	if result == model.StatusError {
		finished = u.tracker.Fail(gen, err)
	} else {
		finished = u.tracker.Finish(gen, result, "")
	}
	if !finished {
		// 轮询已经先判定完成
		u.logger.Debug("status already finished", zap.String("result", string(result)))
	}
	if herr := u.history.FinishUpload(rec.ID, result, errMsg, u.now()); herr != nil {
		u.logger.Error("update upload record failed", zap.Error(herr))
	}
	u.observe(result, elapsed)

	if err != nil {
		return result, fmt.Errorf("upload %s: %w", fileName, err)
	}
	return result, nil
}

func (u *Uploader) observe(result model.BackupStatus, d time.Duration) {
	if u.recorder != nil {
		u.recorder.ObserveUpload(result, d)
	}
}
