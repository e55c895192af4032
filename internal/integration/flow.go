package integration

import (
	"context"
	"errors"
	"strings"

	"github.com/sleepstars/baidubackup/internal/bypy"
	"github.com/sleepstars/baidubackup/internal/database"
	"go.uber.org/zap"
)

// 配置流程的步骤类型
const (
	FlowForm        = "form"
	FlowAbort       = "abort"
	FlowCreateEntry = "create_entry"
)

// 配置流程的错误键
const (
	ErrKeyInstallFailed = "install_failed"
	ErrKeyInvalidToken  = "invalid_token"
	ErrKeyTokenFailed   = "token_failed"
	ErrKeyUnknown       = "unknown"
)

const entryTitle = "百度云备份"

// FlowStep 配置流程中的一步
type FlowStep struct {
	Type         string            `json:"type"`
	StepID       string            `json:"step_id,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Title        string            `json:"title,omitempty"`
	Errors       map[string]string `json:"errors,omitempty"`
	Placeholders map[string]string `json:"description_placeholders,omitempty"`
}

func authForm(errKey string) FlowStep {
	step := FlowStep{
		Type:         FlowForm,
		StepID:       "auth",
		Placeholders: map[string]string{"auth_url": bypy.AuthURL},
	}
	if errKey != "" {
		step.Errors = map[string]string{"base": errKey}
	}
	return step
}

func abort(reason string) FlowStep {
	return FlowStep{Type: FlowAbort, Reason: reason}
}

func (i *Integration) configured() (bool, error) {
	if _, err := i.store.Entry(); err != nil {
		if errors.Is(err, database.ErrNoEntry) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// StartFlow 开始初始配置：只允许一个配置项，必要时先安装 bypy
func (i *Integration) StartFlow(ctx context.Context) (FlowStep, error) {
	ok, err := i.configured()
	if err != nil {
		return FlowStep{}, err
	}
	if ok {
		return abort("single_instance_allowed"), nil
	}

	if !i.client.Installed(ctx) {
		i.logger.Info("bypy not found, installing")
		if err := i.client.Install(ctx); err != nil {
			i.logger.Error("install bypy failed", zap.Error(err))
			return FlowStep{
				Type:   FlowForm,
				StepID: "user",
				Errors: map[string]string{"base": ErrKeyInstallFailed},
			}, nil
		}
	}
	return authForm(""), nil
}

// SubmitToken 校验授权码，成功后保存配置项并加载集成
func (i *Integration) SubmitToken(ctx context.Context, token string) (FlowStep, error) {
	ok, err := i.configured()
	if err != nil {
		return FlowStep{}, err
	}
	if ok {
		return abort("single_instance_allowed"), nil
	}

	if key := i.validateToken(ctx, token); key != "" {
		return authForm(key), nil
	}
	if err := i.store.SaveEntry(strings.TrimSpace(token)); err != nil {
		return FlowStep{}, err
	}
	if _, err := i.Setup(ctx); err != nil {
		i.logger.Error("setup after authorization failed", zap.Error(err))
	}
	return FlowStep{Type: FlowCreateEntry, Title: entryTitle}, nil
}

// ReAuth 重新授权：更新配置项并重新加载
func (i *Integration) ReAuth(ctx context.Context, token string) (FlowStep, error) {
	ok, err := i.configured()
	if err != nil {
		return FlowStep{}, err
	}
	if !ok {
		return abort("not_configured"), nil
	}

	if key := i.validateToken(ctx, token); key != "" {
		return authForm(key), nil
	}
	if err := i.store.SaveEntry(strings.TrimSpace(token)); err != nil {
		return FlowStep{}, err
	}
	if err := i.Reload(ctx); err != nil {
		i.logger.Error("reload after re-authorization failed", zap.Error(err))
	}
	return FlowStep{Type: FlowCreateEntry, Title: entryTitle}, nil
}

// validateToken 返回错误键，空字符串表示授权成功
func (i *Integration) validateToken(ctx context.Context, token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrKeyInvalidToken
	}

	ok, err := i.client.Authorize(ctx, token)
	if err != nil {
		var exitErr *bypy.ExitError
		if errors.As(err, &exitErr) {
			i.logger.Warn("bypy authorization exited with error", zap.Error(err))
			return ErrKeyTokenFailed
		}
		i.logger.Error("bypy authorization failed", zap.Error(err))
		return ErrKeyUnknown
	}
	if !ok {
		return ErrKeyInvalidToken
	}
	return ""
}
