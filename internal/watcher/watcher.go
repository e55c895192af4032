package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sleepstars/baidubackup/internal/model"
	"github.com/sleepstars/baidubackup/internal/status"
	"go.uber.org/zap"
)

// Uploader 启动一次后台上传
type Uploader interface {
	StartUpload(trigger string) error
}

// Watcher 监控备份目录，新的 .tar 文件写完后自动上传
type Watcher struct {
	watcher    *fsnotify.Watcher
	uploader   Uploader
	backupDir  string
	logger     *zap.Logger
	settleTime time.Duration
	mu         sync.Mutex
	// 每个文件一个定时器，有新的写入就重新计时
	pending map[string]*time.Timer
	closed  bool
}

func New(backupDir string, settleTime time.Duration, uploader Uploader, logger *zap.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		watcher:    fsWatcher,
		uploader:   uploader,
		backupDir:  backupDir,
		logger:     logger,
		settleTime: settleTime,
		pending:    make(map[string]*time.Timer),
	}

	return w, nil
}

func (w *Watcher) Start() error {
	info, err := os.Stat(w.backupDir)
	if err != nil {
		return fmt.Errorf("stat backup directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", w.backupDir)
	}
	if err := w.watcher.Add(w.backupDir); err != nil {
		return fmt.Errorf("watch %s: %w", w.backupDir, err)
	}

	go w.watchLoop()
	return nil
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".tar") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.settleTime)
		return
	}
	w.pending[path] = time.AfterFunc(w.settleTime, func() { w.settled(path) })
}

func (w *Watcher) settled(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	if _, err := os.Stat(path); err != nil {
		w.logger.Debug("backup file gone before upload", zap.String("path", path))
		return
	}

	w.logger.Info("new backup settled, starting upload", zap.String("file", filepath.Base(path)))
	if err := w.uploader.StartUpload(model.TriggerWatcher); err != nil {
		if errors.Is(err, status.ErrBusy) {
			w.logger.Debug("upload already running", zap.String("path", path))
			return
		}
		w.logger.Error("start upload failed", zap.Error(err), zap.String("path", path))
	}
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
