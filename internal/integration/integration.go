package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sleepstars/baidubackup/internal/database"
	"github.com/sleepstars/baidubackup/internal/entity"
	"github.com/sleepstars/baidubackup/internal/metrics"
	"github.com/sleepstars/baidubackup/internal/model"
	"github.com/sleepstars/baidubackup/internal/status"
	"github.com/sleepstars/baidubackup/internal/uploader"
	"go.uber.org/zap"
)

var (
	ErrNotLoaded     = errors.New("integration not loaded")
	ErrUnknownEntity = errors.New("unknown entity")
)

// Client 集成用到的全部 bypy 命令
type Client interface {
	entity.Client
	entity.Logouter
	uploader.Client
	CheckLogin(ctx context.Context) (bool, error)
	Authorize(ctx context.Context, token string) (bool, error)
	Installed(ctx context.Context) bool
	Install(ctx context.Context) error
}

type Store interface {
	uploader.History
	Entry() (*model.ConfigEntry, error)
	SaveEntry(token string) error
	DeleteEntry() error
	ListUploads(limit int) ([]model.UploadRecord, error)
	LastSuccessfulUpload() (*model.UploadRecord, error)
}

type Options struct {
	BackupDir     string
	RemoteDir     string
	ScanInterval  time.Duration
	UploadTimeout time.Duration
	Location      *time.Location
}

type Integration struct {
	client   Client
	store    Store
	metrics  *metrics.Metrics
	tracker  *status.Tracker
	uploader *uploader.Uploader
	opts     Options
	logger   *zap.Logger

	baseCtx context.Context
	wg      sync.WaitGroup

	mu      sync.RWMutex
	loaded  bool
	sensors []entity.Sensor
	buttons []entity.Button
}

// New ctx 是后台上传使用的上下文，结束时取消正在进行的上传。
// onStatus 在每次状态变化后调用，可以为 nil
func New(ctx context.Context, client Client, store Store, m *metrics.Metrics, opts Options, onStatus status.ChangeFunc, logger *zap.Logger) *Integration {
	i := &Integration{
		client:  client,
		store:   store,
		metrics: m,
		opts:    opts,
		logger:  logger,
		baseCtx: ctx,
	}
	i.tracker = status.NewTracker(func(rec model.StatusRecord) {
		m.SetStatus(rec.Status)
		if onStatus != nil {
			onStatus(rec)
		}
	})
	i.uploader = uploader.New(client, i.tracker, store, m, uploader.Options{
		BackupDir: opts.BackupDir,
		RemoteDir: opts.RemoteDir,
		Timeout:   opts.UploadTimeout,
	}, logger.Named("uploader"))
	return i
}

// Setup 检查登录状态并创建实体。未配置或未登录时返回 false
func (i *Integration) Setup(ctx context.Context) (bool, error) {
	if _, err := i.store.Entry(); err != nil {
		if errors.Is(err, database.ErrNoEntry) {
			i.logger.Info("integration not configured yet")
			return false, nil
		}
		return false, err
	}

	loggedIn, err := i.client.CheckLogin(ctx)
	if err != nil {
		i.logger.Error("check baidu login failed", zap.Error(err))
		return false, fmt.Errorf("check login: %w", err)
	}
	if !loggedIn {
		i.logger.Warn("baidu account not logged in, re-authorization required")
		return false, nil
	}

	dirs := entity.Dirs{Remote: i.opts.RemoteDir, Local: i.opts.BackupDir}
	sensors := []entity.Sensor{
		entity.NewQuotaSensor(i.client, i.metrics, i.logger.Named("quota")),
		entity.NewUsedSpaceSensor(i.client, i.metrics, i.logger.Named("used")),
		entity.NewLastUploadSensor(i.client, dirs, i.opts.Location, i.metrics, i.logger.Named("last_upload")),
		entity.NewStatusSensor(i.client, dirs, i.tracker, i.logger.Named("status")),
	}
	buttons := []entity.Button{
		entity.NewUploadButton(i.StartUpload),
		entity.NewLogoutButton(i.client, i.Reload, i.logger.Named("logout")),
	}

	i.mu.Lock()
	i.sensors = sensors
	i.buttons = buttons
	i.loaded = true
	i.mu.Unlock()

	// 状态不跨重载保留，但不打断正在进行的上传
	if !i.tracker.Reset() {
		i.logger.Info("upload still running, keep current status")
	}
	i.logger.Info("integration loaded")

	i.Refresh(ctx)
	return true, nil
}

func (i *Integration) Unload() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.loaded = false
	i.sensors = nil
	i.buttons = nil
}

func (i *Integration) Reload(ctx context.Context) error {
	i.Unload()
	ok, err := i.Setup(ctx)
	if err != nil {
		return err
	}
	if !ok {
		i.logger.Info("integration unloaded until re-authorized")
	}
	return nil
}

func (i *Integration) Loaded() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.loaded
}

func (i *Integration) Sensors() []entity.Sensor {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]entity.Sensor(nil), i.sensors...)
}

func (i *Integration) Buttons() []entity.Button {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]entity.Button(nil), i.buttons...)
}

func (i *Integration) Sensor(id string) (entity.Sensor, error) {
	if !i.Loaded() {
		return nil, ErrNotLoaded
	}
	for _, s := range i.Sensors() {
		if s.ID() == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, id)
}

func (i *Integration) Button(id string) (entity.Button, error) {
	if !i.Loaded() {
		return nil, ErrNotLoaded
	}
	for _, b := range i.Buttons() {
		if b.ID() == id {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, id)
}

// Refresh 更新所有传感器，失败只记录日志，保留旧值
func (i *Integration) Refresh(ctx context.Context) {
	for _, s := range i.Sensors() {
		if err := s.Update(ctx); err != nil {
			i.logger.Error("update sensor failed", zap.String("entity", s.ID()), zap.Error(err))
		}
	}
}

// Run 按扫描间隔定期刷新，直到 ctx 结束
func (i *Integration) Run(ctx context.Context) {
	ticker := time.NewTicker(i.opts.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if i.Loaded() {
				i.Refresh(ctx)
			}
		}
	}
}

// Upload 上传服务，等待上传结束
func (i *Integration) Upload(ctx context.Context, trigger string) (model.BackupStatus, error) {
	if !i.Loaded() {
		return i.tracker.Snapshot().Status, ErrNotLoaded
	}
	return i.uploader.Upload(ctx, trigger)
}

// StartUpload 在后台启动上传服务，不等待结束
func (i *Integration) StartUpload(trigger string) error {
	if !i.Loaded() {
		return ErrNotLoaded
	}
	if i.tracker.Snapshot().Status.IsBusy() {
		return status.ErrBusy
	}

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		if _, err := i.Upload(i.baseCtx, trigger); err != nil && !errors.Is(err, status.ErrBusy) {
			i.logger.Error("upload service failed", zap.String("trigger", trigger), zap.Error(err))
		}
	}()
	return nil
}

// Wait 等待后台上传结束
func (i *Integration) Wait() {
	i.wg.Wait()
}

func (i *Integration) Status() model.StatusRecord {
	return i.tracker.Snapshot()
}

func (i *Integration) History(limit int) ([]model.UploadRecord, error) {
	return i.store.ListUploads(limit)
}

// LastSuccess 最近一次成功上传的记录，没有时返回 nil
func (i *Integration) LastSuccess() (*model.UploadRecord, error) {
	return i.store.LastSuccessfulUpload()
}

// Remove 卸载集成并删除保存的配置项。上传进行中时拒绝
func (i *Integration) Remove() error {
	if i.tracker.Snapshot().Status.IsBusy() {
		return status.ErrBusy
	}
	i.Unload()
	if err := i.store.DeleteEntry(); err != nil {
		return err
	}
	i.logger.Info("integration removed")
	return nil
}
