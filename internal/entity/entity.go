// Package entity implements the sensors and buttons exposed for the backup
// integration. Every entity shares the same device and a unique id prefixed with
// the integration domain.
package entity

import (
	"context"
	"sync"
)

const Domain = "baidu_backup"

// Device 所有实体共用的设备信息
type Device struct {
	Identifier   string `json:"identifier"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
}

var DefaultDevice = Device{
	Identifier:   Domain,
	Name:         "百度云盘",
	Manufacturer: "知识便利贴",
	Model:        "云备份",
}

// State 实体当前状态
type State struct {
	ID          string         `json:"entity_id"`
	Name        string         `json:"name"`
	Value       any            `json:"state"`
	Unit        string         `json:"unit_of_measurement,omitempty"`
	DeviceClass string         `json:"device_class,omitempty"`
	Icon        string         `json:"icon"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Device      Device         `json:"device"`
}

type Sensor interface {
	ID() string
	Name() string
	State() State
	Update(ctx context.Context) error
}

type Button interface {
	ID() string
	Name() string
	Icon() string
	Press(ctx context.Context) error
}

type base struct {
	suffix string
	name   string
	icon   string
}

func (b base) ID() string   { return Domain + "_" + b.suffix }
func (b base) Name() string { return b.name }
func (b base) Icon() string { return b.icon }

func (b base) state(value any) State {
	return State{
		ID:     b.ID(),
		Name:   b.name,
		Value:  value,
		Icon:   b.icon,
		Device: DefaultDevice,
	}
}

// reading 保存最近一次成功读取的值，失败时保持不变
type reading[T any] struct {
	mu    sync.RWMutex
	value T
	valid bool
}

func (r *reading[T]) set(v T) {
	r.mu.Lock()
	r.value = v
	r.valid = true
	r.mu.Unlock()
}

func (r *reading[T]) get() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value, r.valid
}
