package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sleepstars/baidubackup/internal/model"
	"github.com/sleepstars/baidubackup/internal/status"
	"go.uber.org/zap"
)

// Uploader 启动一次后台上传
type Uploader interface {
	StartUpload(trigger string) error
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Expression 把 daily / weekly / monthly 展开成 cron 表达式，其余原样返回
func Expression(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "daily":
		return "0 0 * * *"
	case "weekly":
		return "0 0 * * 0"
	case "monthly":
		return "0 0 1 * *"
	}
	return strings.TrimSpace(raw)
}

// Scheduler 按 cron 表达式定时上传最新备份
type Scheduler struct {
	cron     *cron.Cron
	entry    cron.EntryID
	uploader Uploader
	logger   *zap.Logger
}

func New(raw string, loc *time.Location, uploader Uploader, logger *zap.Logger) (*Scheduler, error) {
	expr := Expression(raw)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	if loc == nil {
		loc = time.Local
	}

	s := &Scheduler{
		cron:     cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		uploader: uploader,
		logger:   logger,
	}
	s.entry = s.cron.Schedule(schedule, cron.FuncJob(s.run))
	logger.Info("upload schedule registered", zap.String("expr", expr))
	return s, nil
}

func (s *Scheduler) run() {
	s.logger.Info("scheduled upload triggered")
	if err := s.uploader.StartUpload(model.TriggerSchedule); err != nil {
		if errors.Is(err, status.ErrBusy) {
			s.logger.Info("upload already running, skipping this trigger")
			return
		}
		s.logger.Error("scheduled upload failed to start", zap.Error(err))
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Next 下次执行时间，未启动时为零值
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Stop 停止调度，等待正在执行的任务返回
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
