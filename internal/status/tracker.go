// Package status holds the single upload status record shared by the upload
// orchestration and the completion poller.
package status

import (
	"errors"
	"sync"
	"time"

	"github.com/sleepstars/baidubackup/internal/model"
)

// ErrBusy 已有上传在进行中
var ErrBusy = errors.New("upload already in progress")

// ChangeFunc 每次状态变化后按发生顺序调用，不持有记录锁。
// 回调中不能再修改 Tracker。
type ChangeFunc func(model.StatusRecord)

type Tracker struct {
	mu       sync.Mutex
	record   model.StatusRecord
	notifyMu sync.Mutex // 保证回调顺序与状态变化顺序一致
	onChange ChangeFunc
	now      func() time.Time
}

func NewTracker(onChange ChangeFunc) *Tracker {
	t := &Tracker{onChange: onChange, now: time.Now}
	t.record = model.StatusRecord{Status: model.StatusIdle, UpdatedAt: t.now()}
	return t
}

// Snapshot 返回当前状态的副本
func (t *Tracker) Snapshot() model.StatusRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copyLocked()
}

func (t *Tracker) copyLocked() model.StatusRecord {
	rec := t.record
	if rec.LastLocalOnly != nil {
		n := *rec.LastLocalOnly
		rec.LastLocalOnly = &n
	}
	return rec
}

// transition 在持锁状态下修改记录，解锁后通知
func (t *Tracker) transition(fn func(r *model.StatusRecord) bool) bool {
	t.mu.Lock()
	changed := fn(&t.record)
	if changed {
		t.record.UpdatedAt = t.now()
	}
	rec := t.copyLocked()
	if !changed || t.onChange == nil {
		t.mu.Unlock()
		return changed
	}

	// 先拿到通知锁再释放记录锁，后发生的变化不会先通知
	t.notifyMu.Lock()
	t.mu.Unlock()
	t.onChange(rec)
	t.notifyMu.Unlock()
	return changed
}

func setStatus(r *model.StatusRecord, s model.BackupStatus, progress string) {
	r.Status = s
	r.Progress = progress
	// 进入上传或结束时都重置基线
	if s == model.StatusUploading || s.IsTerminal() || s == model.StatusIdle {
		r.LastLocalOnly = nil
	}
}

// Set 直接设置状态，不检查转换是否合法
func (t *Tracker) Set(s model.BackupStatus, progress string) {
	t.transition(func(r *model.StatusRecord) bool {
		setStatus(r, s, progress)
		return true
	})
}

// Reset 重新加载时回到空闲状态。上传进行中时保持不变并返回 false，
// 否则新的触发会和仍在运行的上传并发。
func (t *Tracker) Reset() bool {
	return t.transition(func(r *model.StatusRecord) bool {
		if r.Status.IsBusy() {
			return false
		}
		r.Generation++
		setStatus(r, model.StatusIdle, "")
		return true
	})
}

// Begin 开始新一轮上传，进入检查中状态并返回本轮编号
func (t *Tracker) Begin() (uint64, error) {
	var gen uint64
	busy := false
	t.transition(func(r *model.StatusRecord) bool {
		if r.Status.IsBusy() {
			busy = true
			return false
		}
		r.Generation++
		gen = r.Generation
		setStatus(r, model.StatusChecking, "")
		return true
	})
	if busy {
		return 0, ErrBusy
	}
	return gen, nil
}

// Advance 检查中 -> 上传中
func (t *Tracker) Advance(gen uint64, progress string) bool {
	return t.transition(func(r *model.StatusRecord) bool {
		if r.Generation != gen || r.Status != model.StatusChecking {
			return false
		}
		setStatus(r, model.StatusUploading, progress)
		return true
	})
}

// Finish 结束本轮上传。轮询已经判定完成时不会覆盖
func (t *Tracker) Finish(gen uint64, s model.BackupStatus, progress string) bool {
	return t.transition(func(r *model.StatusRecord) bool {
		if r.Generation != gen || !r.Status.IsBusy() {
			return false
		}
		setStatus(r, s, progress)
		return true
	})
}

// Fail 本轮上传出错，从检查中或上传中进入错误状态
func (t *Tracker) Fail(gen uint64, err error) bool {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return t.Finish(gen, model.StatusError, msg)
}

// PollTarget 只有在上传中才需要轮询
func (t *Tracker) PollTarget() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.record.Status != model.StatusUploading {
		return 0, false
	}
	return t.record.Generation, true
}

// Observe 记录一次轮询得到的 Local only 数量。
// 第一次只记录基线；基线大于0且本次为0时判定上传完成。
func (t *Tracker) Observe(gen uint64, localOnly int) (completed bool) {
	t.transition(func(r *model.StatusRecord) bool {
		if r.Generation != gen || r.Status != model.StatusUploading {
			return false
		}
		if r.LastLocalOnly == nil {
			n := localOnly
			r.LastLocalOnly = &n
			return true
		}
		if *r.LastLocalOnly > 0 && localOnly == 0 {
			setStatus(r, model.StatusSuccess, "")
			completed = true
			return true
		}
		if *r.LastLocalOnly == localOnly {
			return false
		}
		n := localOnly
		r.LastLocalOnly = &n
		return true
	})
	return completed
}
