package entity

import (
	"context"
	"errors"
	"fmt"

	"github.com/sleepstars/baidubackup/internal/model"
	"go.uber.org/zap"
)

var ErrLogoutFailed = errors.New("logout failed")

// UploadButton 开始备份
type UploadButton struct {
	base
	start func(trigger string) error
}

// NewUploadButton start 启动一次上传服务调用，不等待结束
func NewUploadButton(start func(trigger string) error) *UploadButton {
	return &UploadButton{
		base:  base{suffix: "upload_button", name: "开始备份", icon: "mdi:cloud-upload"},
		start: start,
	}
}

func (b *UploadButton) Press(ctx context.Context) error {
	return b.start(model.TriggerButton)
}

// Logouter 退出账号
type Logouter interface {
	Logout(ctx context.Context) (bool, error)
}

// LogoutButton 退出账号，成功后重新加载集成
type LogoutButton struct {
	base
	client Logouter
	reload func(ctx context.Context) error
	logger *zap.Logger
}

func NewLogoutButton(client Logouter, reload func(ctx context.Context) error, logger *zap.Logger) *LogoutButton {
	return &LogoutButton{
		base:   base{suffix: "logout_button", name: "退出账号", icon: "mdi:logout"},
		client: client,
		reload: reload,
		logger: logger,
	}
}

func (b *LogoutButton) Press(ctx context.Context) error {
	ok, err := b.client.Logout(ctx)
	if err != nil {
		b.logger.Error("logout error", zap.Error(err))
		return fmt.Errorf("logout: %w", err)
	}
	if !ok {
		b.logger.Error("logout failed")
		return ErrLogoutFailed
	}

	b.logger.Info("baidu account logged out")
	if err := b.reload(ctx); err != nil {
		return fmt.Errorf("reload after logout: %w", err)
	}
	return nil
}
