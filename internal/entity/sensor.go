package entity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sleepstars/baidubackup/internal/bypy"
	"github.com/sleepstars/baidubackup/internal/model"
	"github.com/sleepstars/baidubackup/internal/status"
	"go.uber.org/zap"
)

// Client 传感器用到的 bypy 命令
type Client interface {
	Info(ctx context.Context) (string, error)
	Compare(ctx context.Context, remoteDir, localDir string) (string, error)
	List(ctx context.Context, remoteDir string) (string, error)
}

// Reporter 把读数同步到指标
type Reporter interface {
	SetQuota(gb int)
	SetUsed(gb int)
	SetLastUpload(t time.Time)
}

// Dirs 远程目录和本地备份目录
type Dirs struct {
	Remote string
	Local  string
}

// CapacitySensor 总容量或已用空间，单位GB
type CapacitySensor struct {
	base
	client Client
	label  string
	report func(int)
	value  reading[int]
	logger *zap.Logger
}

func NewQuotaSensor(client Client, reporter Reporter, logger *zap.Logger) *CapacitySensor {
	return &CapacitySensor{
		base:   base{suffix: "quota", name: "总容量", icon: "mdi:database"},
		client: client,
		label:  bypy.LabelQuota,
		report: reporter.SetQuota,
		logger: logger,
	}
}

func NewUsedSpaceSensor(client Client, reporter Reporter, logger *zap.Logger) *CapacitySensor {
	return &CapacitySensor{
		base:   base{suffix: "used", name: "已用空间", icon: "mdi:database-check"},
		client: client,
		label:  bypy.LabelUsed,
		report: reporter.SetUsed,
		logger: logger,
	}
}

func (s *CapacitySensor) State() State {
	st := s.state(nil)
	if v, ok := s.value.get(); ok {
		st.Value = v
	}
	st.Unit = "GB"
	return st
}

func (s *CapacitySensor) Update(ctx context.Context) error {
	// info 的退出码不可靠，只看输出
	out, err := s.client.Info(ctx)
	var exitErr *bypy.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return fmt.Errorf("update %s: %w", s.suffix, err)
	}

	v, err := bypy.ParseCapacity(out, s.label)
	if err != nil {
		return fmt.Errorf("update %s: %w", s.suffix, err)
	}
	s.value.set(v)
	s.report(v)
	return nil
}

// LastUploadSensor 远程目录中最新备份的时间，只在本地文件全部上传后更新
type LastUploadSensor struct {
	base
	client   Client
	dirs     Dirs
	loc      *time.Location
	reporter Reporter
	value    reading[time.Time]
	logger   *zap.Logger
}

func NewLastUploadSensor(client Client, dirs Dirs, loc *time.Location, reporter Reporter, logger *zap.Logger) *LastUploadSensor {
	return &LastUploadSensor{
		base:     base{suffix: "last_upload", name: "最后上传时间", icon: "mdi:clock-check"},
		client:   client,
		dirs:     dirs,
		loc:      loc,
		reporter: reporter,
		logger:   logger,
	}
}

func (s *LastUploadSensor) State() State {
	st := s.state(nil)
	if v, ok := s.value.get(); ok {
		st.Value = v.Format(time.RFC3339)
	}
	st.DeviceClass = "timestamp"
	return st
}

// Value 最近一次读取到的时间
func (s *LastUploadSensor) Value() (time.Time, bool) {
	return s.value.get()
}

func (s *LastUploadSensor) Update(ctx context.Context) error {
	out, err := s.client.Compare(ctx, s.dirs.Remote, s.dirs.Local)
	if err != nil {
		return fmt.Errorf("compare: %w", err)
	}
	res, err := bypy.ParseCompare(out)
	if err != nil {
		return err
	}
	if res.LocalOnly != 0 {
		s.logger.Debug("local backups pending, keep last upload time", zap.Int("local_only", res.LocalOnly))
		return nil
	}

	listing, err := s.client.List(ctx, s.dirs.Remote)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	latest, ok, err := bypy.ParseLatestUpload(listing, s.loc)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	s.value.set(latest)
	s.reporter.SetLastUpload(latest)
	return nil
}

// StatusSensor 展示上传状态，并在上传中时轮询判断是否完成
type StatusSensor struct {
	base
	client  Client
	dirs    Dirs
	tracker *status.Tracker
	logger  *zap.Logger
}

func NewStatusSensor(client Client, dirs Dirs, tracker *status.Tracker, logger *zap.Logger) *StatusSensor {
	return &StatusSensor{
		base:    base{suffix: "status", name: "状态", icon: model.StatusIdle.Icon()},
		client:  client,
		dirs:    dirs,
		tracker: tracker,
		logger:  logger,
	}
}

func (s *StatusSensor) State() State {
	rec := s.tracker.Snapshot()
	st := s.state(string(rec.Status))
	st.Icon = rec.Status.Icon()
	st.Attributes = map[string]any{"说明": rec.Status.Description()}
	if rec.Progress != "" {
		st.Attributes["进度"] = rec.Progress
	}
	return st
}

// Update 只在上传中执行：对比 Local only 数量，从大于0变为0即判定上传完成
func (s *StatusSensor) Update(ctx context.Context) error {
	gen, ok := s.tracker.PollTarget()
	if !ok {
		return nil
	}

	out, err := s.client.Compare(ctx, s.dirs.Remote, s.dirs.Local)
	if err != nil {
		return fmt.Errorf("compare: %w", err)
	}
	localOnly := bypy.ParseLocalOnly(out)
	s.logger.Debug("poll local only", zap.Int("local_only", localOnly))

	if s.tracker.Observe(gen, localOnly) {
		s.logger.Info("upload completion detected")
	}
	return nil
}
