package bypy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// AuthURL 获取授权码的地址
const AuthURL = "https://openapi.baidu.com/oauth/2.0/authorize?client_id=q8WE4EpCsau1oS0MplgMKNBn&response_type=code&redirect_uri=oob&scope=basic+netdisk"

// ExitError 命令执行完成但退出码非0
type ExitError struct {
	Args   []string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", strings.Join(e.Args, " "), e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// ExecFunc 执行外部命令，返回stdout和stderr
type ExecFunc func(ctx context.Context, stdin io.Reader, name string, args ...string) (stdout, stderr []byte, err error)

type Options struct {
	Path        string
	Nice        bool
	Python      string
	PipIndexURL string
}

type Client struct {
	opts   Options
	logger *zap.Logger
	exec   ExecFunc
}

func New(opts Options, logger *zap.Logger) *Client {
	if opts.Path == "" {
		opts.Path = "bypy"
	}
	if opts.Python == "" {
		opts.Python = "python3"
	}
	return &Client{
		opts:   opts,
		logger: logger,
		exec:   defaultExec,
	}
}

// WithExec 替换命令执行函数（测试用）
func (c *Client) WithExec(fn ExecFunc) *Client {
	c.exec = fn
	return c
}

func defaultExec(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), &ExitError{
			Args:   append([]string{name}, args...),
			Code:   exitErr.ExitCode(),
			Stderr: stderr.String(),
		}
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

// niced 低优先级执行，避免影响Home Assistant本身
func (c *Client) niced(lowIO bool, args ...string) []string {
	cmd := append([]string{c.opts.Path}, args...)
	if !c.opts.Nice {
		return cmd
	}
	prefix := []string{"nice", "-n", "19"}
	if lowIO {
		prefix = append(prefix, "ionice", "-c", "2", "-n", "7")
	}
	return append(prefix, cmd...)
}

func (c *Client) run(ctx context.Context, stdin io.Reader, argv []string) (string, error) {
	c.logger.Debug("run command", zap.Strings("argv", argv))
	stdout, stderr, err := c.exec(ctx, stdin, argv[0], argv[1:]...)
	if err != nil {
		// 被取消或超时杀掉的进程不算作命令失败
		if ctxErr := ctx.Err(); ctxErr != nil {
			return string(stdout), fmt.Errorf("run %s: %w", strings.Join(argv, " "), ctxErr)
		}
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Stderr == "" {
				exitErr.Stderr = string(stderr)
			}
			return string(stdout), exitErr
		}
		return string(stdout), fmt.Errorf("run %s: %w", strings.Join(argv, " "), err)
	}
	return string(stdout), nil
}

// Info 查询网盘容量
func (c *Client) Info(ctx context.Context) (string, error) {
	return c.run(ctx, nil, c.niced(false, "info"))
}

// Compare 比较远程目录和本地目录
func (c *Client) Compare(ctx context.Context, remoteDir, localDir string) (string, error) {
	return c.run(ctx, nil, c.niced(false, "compare", remoteDir, localDir))
}

// List 列出远程目录
func (c *Client) List(ctx context.Context, remoteDir string) (string, error) {
	return c.run(ctx, nil, c.niced(false, "list", remoteDir))
}

// Upload 上传单个文件，退出码为0即成功
func (c *Client) Upload(ctx context.Context, localFile, remotePath string) error {
	_, err := c.run(ctx, nil, c.niced(true, "upload", localFile, remotePath))
	return err
}

// CheckLogin 通过 info 输出判断是否已登录
func (c *Client) CheckLogin(ctx context.Context) (bool, error) {
	out, err := c.run(ctx, nil, []string{c.opts.Path, "info"})
	if err != nil {
		var exitErr *ExitError
		if !errors.As(err, &exitErr) {
			return false, err
		}
	}
	return strings.Contains(out, "Quota"), nil
}

// Authorize 把授权码写入 bypy info 的标准输入完成授权
func (c *Client) Authorize(ctx context.Context, token string) (bool, error) {
	out, err := c.run(ctx, strings.NewReader(token+"\n"), []string{c.opts.Path, "info"})
	if err != nil {
		return false, err
	}
	return strings.Contains(out, "Quota"), nil
}

// Logout 删除本地token文件
func (c *Client) Logout(ctx context.Context) (bool, error) {
	out, err := c.run(ctx, nil, []string{c.opts.Path, "-c"})
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, err
	}
	return strings.Contains(out, "Token file") && strings.Contains(out, "removed"), nil
}

// Installed 检查 bypy 是否可用
func (c *Client) Installed(ctx context.Context) bool {
	_, err := c.run(ctx, nil, []string{c.opts.Path, "--help"})
	return err == nil
}

// Install 通过 pip 安装 bypy
func (c *Client) Install(ctx context.Context) error {
	argv := []string{c.opts.Python, "-m", "pip", "install", "bypy"}
	if c.opts.PipIndexURL != "" {
		argv = append(argv, "--index-url", c.opts.PipIndexURL)
	}
	if _, err := c.run(ctx, nil, argv); err != nil {
		return fmt.Errorf("install bypy: %w", err)
	}
	return nil
}
