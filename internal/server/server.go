// Package server exposes the integration over HTTP: entity states, button
// presses, the upload service, the authorization flow, a websocket feed of
// status changes and prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	ws "github.com/coder/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sleepstars/baidubackup/internal/entity"
	"github.com/sleepstars/baidubackup/internal/integration"
	"github.com/sleepstars/baidubackup/internal/model"
	"github.com/sleepstars/baidubackup/internal/status"
	"go.uber.org/zap"
)

// Backend 服务端依赖的集成接口
type Backend interface {
	Loaded() bool
	Sensors() []entity.Sensor
	Buttons() []entity.Button
	Sensor(id string) (entity.Sensor, error)
	Button(id string) (entity.Button, error)
	Upload(ctx context.Context, trigger string) (model.BackupStatus, error)
	StartUpload(trigger string) error
	Status() model.StatusRecord
	History(limit int) ([]model.UploadRecord, error)
	LastSuccess() (*model.UploadRecord, error)
	Remove() error
	StartFlow(ctx context.Context) (integration.FlowStep, error)
	SubmitToken(ctx context.Context, token string) (integration.FlowStep, error)
	ReAuth(ctx context.Context, token string) (integration.FlowStep, error)
}

type Server struct {
	echo    *echo.Echo
	backend Backend
	hub     *Hub
	logger  *zap.Logger
}

func New(backend Backend, hub *Hub, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		backend: backend,
		hub:     hub,
		logger:  logger,
	}

	// 新订阅者在第一次状态变化前也能拿到当前状态
	hub.Publish(backend.Status())

	e.Use(middleware.Recover())
	e.Use(s.requestLogger)

	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	e.GET("/ws", s.websocket)

	api := e.Group("/api")
	api.GET("/entities", s.listEntities)
	api.GET("/sensors/:id", s.getSensor)
	api.POST("/sensors/:id/refresh", s.refreshSensor)
	api.POST("/buttons/:id/press", s.pressButton)
	api.POST("/services/upload", s.upload)
	api.GET("/status", s.status)
	api.GET("/uploads", s.listUploads)
	api.POST("/flow/start", s.startFlow)
	api.POST("/flow/auth", s.submitToken)
	api.POST("/options/auth", s.reAuth)
	api.DELETE("/entry", s.removeEntry)

	return s
}

// Handler 用于测试
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start 阻塞直到服务关闭
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.logger.Debug("request",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().Status),
			zap.Duration("latency", time.Since(start)),
		)
		return nil
	}
}

// httpError 把领域错误映射成 HTTP 状态码
func httpError(err error) *echo.HTTPError {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, status.ErrBusy):
		code = http.StatusConflict
	case errors.Is(err, integration.ErrNotLoaded):
		code = http.StatusServiceUnavailable
	case errors.Is(err, integration.ErrUnknownEntity):
		code = http.StatusNotFound
	case errors.Is(err, entity.ErrLogoutFailed):
		code = http.StatusBadGateway
	}
	return echo.NewHTTPError(code, err.Error())
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"loaded": s.backend.Loaded(),
	})
}

func (s *Server) listEntities(c echo.Context) error {
	states := make([]entity.State, 0, 4)
	for _, sensor := range s.backend.Sensors() {
		states = append(states, sensor.State())
	}
	buttons := make([]map[string]string, 0, 2)
	for _, b := range s.backend.Buttons() {
		buttons = append(buttons, map[string]string{
			"entity_id": b.ID(),
			"name":      b.Name(),
			"icon":      b.Icon(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"loaded":  s.backend.Loaded(),
		"device":  entity.DefaultDevice,
		"sensors": states,
		"buttons": buttons,
	})
}

func (s *Server) getSensor(c echo.Context) error {
	sensor, err := s.backend.Sensor(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sensor.State())
}

func (s *Server) refreshSensor(c echo.Context) error {
	sensor, err := s.backend.Sensor(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if err := sensor.Update(c.Request().Context()); err != nil {
		s.logger.Warn("sensor refresh failed", zap.String("entity", sensor.ID()), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, sensor.State())
}

func (s *Server) pressButton(c echo.Context) error {
	button, err := s.backend.Button(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if err := button.Press(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"entity_id": button.ID()})
}

// upload 默认后台执行；blocking=true 时等待结果
func (s *Server) upload(c echo.Context) error {
	if c.QueryParam("blocking") != "true" {
		if err := s.backend.StartUpload(model.TriggerService); err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusAccepted, s.backend.Status())
	}

	result, err := s.backend.Upload(c.Request().Context(), model.TriggerService)
	if errors.Is(err, status.ErrBusy) || errors.Is(err, integration.ErrNotLoaded) {
		return httpError(err)
	}
	body := map[string]any{"status": result}
	if err != nil {
		body["error"] = err.Error()
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) status(c echo.Context) error {
	rec := s.backend.Status()
	last, err := s.backend.LastSuccess()
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":       rec.Status,
		"description":  rec.Status.Description(),
		"icon":         rec.Status.Icon(),
		"progress":     rec.Progress,
		"generation":   rec.Generation,
		"updated_at":   rec.UpdatedAt,
		"last_success": last,
	})
}

// removeEntry 删除配置项，之后需要重新走授权流程
func (s *Server) removeEntry(c echo.Context) error {
	if err := s.backend.Remove(); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listUploads(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	records, err := s.backend.History(limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, records)
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (s *Server) startFlow(c echo.Context) error {
	step, err := s.backend.StartFlow(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, step)
}

func (s *Server) submitToken(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	step, err := s.backend.SubmitToken(c.Request().Context(), req.Token)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, step)
}

func (s *Server) reAuth(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	step, err := s.backend.ReAuth(c.Request().Context(), req.Token)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, step)
}

func (s *Server) websocket(c echo.Context) error {
	conn, err := ws.Accept(c.Response(), c.Request(), &ws.AcceptOptions{
		InsecureSkipVerify: true, // 局域网内任意来源
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return nil
	}
	defer conn.CloseNow()

	NewClient(s.hub, conn).Run(c.Request().Context())
	return nil
}
