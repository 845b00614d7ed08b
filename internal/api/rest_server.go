// Package api реализует REST API управления: каталог реплеев и
// дистанционное управление воспроизведением.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/replistream/internal/middleware"
	"github.com/annel0/replistream/internal/replay/library"
)

// RestServer представляет REST API сервер
type RestServer struct {
	router   *gin.Engine
	library  *library.Library
	playback PlaybackController
	port     string
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port     string             // порт для запуска сервера
	Library  *library.Library   // каталог реплеев
	Playback PlaybackController // управление воспроизведением
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8088"
	}

	// Устанавливаем режим релиза для gin
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	loggerMw := middleware.NewRequestLogger()
	router.Use(loggerMw.Handler())

	router.Use(otelgin.Middleware("rest_api"))

	promMw := middleware.NewPrometheusMiddleware("rest_api")
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	server := &RestServer{
		router:   router,
		library:  config.Library,
		playback: config.Playback,
		port:     config.Port,
	}

	server.setupRoutes()
	return server
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	// Middleware для CORS
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	api := rs.router.Group("/api")

	// Каталог реплеев
	replays := api.Group("/replays")
	{
		replays.GET("", rs.handleListReplays)
		replays.GET("/:id", rs.handleGetReplay)
		replays.DELETE("/:id", rs.handleDeleteReplay)
	}

	// Управление воспроизведением
	playback := api.Group("/playback")
	{
		playback.POST("/open", rs.handlePlaybackOpen)
		playback.POST("/pause", rs.handlePlaybackPause)
		playback.POST("/resume", rs.handlePlaybackResume)
		playback.POST("/speed", rs.handlePlaybackSpeed)
		playback.POST("/seek", rs.handlePlaybackSeek)
		playback.POST("/close", rs.handlePlaybackClose)
		playback.GET("/status", rs.handlePlaybackStatus)
	}

	// Health check
	rs.router.GET("/health", rs.handleHealth)
}

// handleListReplays возвращает каталог реплеев
func (rs *RestServer) handleListReplays(c *gin.Context) {
	if rs.library == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{
			Success: false,
			Message: "Каталог реплеев не настроен",
		})
		return
	}
	list, err := rs.library.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Ошибка чтения каталога: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Каталог реплеев",
		Data: map[string]interface{}{
			"replays": list,
			"total":   len(list),
		},
	})
}

// handleGetReplay возвращает метаданные реплея по ID
func (rs *RestServer) handleGetReplay(c *gin.Context) {
	id, ok := rs.replayID(c)
	if !ok {
		return
	}
	meta, err := rs.library.Get(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Ошибка чтения каталога: " + err.Error(),
		})
		return
	}
	if meta == nil {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Реплей не найден",
		})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Реплей найден",
		Data:    meta,
	})
}

// handleDeleteReplay удаляет реплей из каталога вместе с файлом
func (rs *RestServer) handleDeleteReplay(c *gin.Context) {
	id, ok := rs.replayID(c)
	if !ok {
		return
	}
	if err := rs.library.Delete(id); err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Ошибка удаления: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Реплей удалён",
	})
}

func (rs *RestServer) replayID(c *gin.Context) (uuid.UUID, bool) {
	if rs.library == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{
			Success: false,
			Message: "Каталог реплеев не настроен",
		})
		return uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный ID реплея",
		})
		return uuid.Nil, false
	}
	return id, true
}

// OpenRequest запрос открытия воспроизведения
type OpenRequest struct {
	ReplayID string `json:"replay_id" binding:"required"`
}

// SpeedRequest запрос смены скорости воспроизведения
type SpeedRequest struct {
	Exp int `json:"exp"`
}

// SeekRequest запрос перемотки
type SeekRequest struct {
	TimeMs int64 `json:"time_ms"`
}

func (rs *RestServer) requirePlayback(c *gin.Context) bool {
	if rs.playback == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{
			Success: false,
			Message: "Управление воспроизведением не настроено",
		})
		return false
	}
	return true
}

// handlePlaybackOpen открывает воспроизведение реплея
func (rs *RestServer) handlePlaybackOpen(c *gin.Context) {
	if !rs.requirePlayback(c) {
		return
	}
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}
	id, err := uuid.Parse(req.ReplayID)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный ID реплея",
		})
		return
	}
	if err := rs.playback.Open(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusConflict, GenericResponse{
			Success: false,
			Message: "Не удалось открыть воспроизведение: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Воспроизведение открыто",
	})
}

// handlePlaybackPause приостанавливает воспроизведение
func (rs *RestServer) handlePlaybackPause(c *gin.Context) {
	if !rs.requirePlayback(c) {
		return
	}
	rs.simplePlaybackOp(c, rs.playback.Pause, "Воспроизведение приостановлено")
}

// handlePlaybackResume возобновляет воспроизведение
func (rs *RestServer) handlePlaybackResume(c *gin.Context) {
	if !rs.requirePlayback(c) {
		return
	}
	rs.simplePlaybackOp(c, rs.playback.Resume, "Воспроизведение возобновлено")
}

// handlePlaybackClose завершает воспроизведение
func (rs *RestServer) handlePlaybackClose(c *gin.Context) {
	if !rs.requirePlayback(c) {
		return
	}
	rs.simplePlaybackOp(c, rs.playback.Close, "Воспроизведение завершено")
}

func (rs *RestServer) simplePlaybackOp(c *gin.Context, op func(context.Context) error, okMsg string) {
	if err := op(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, GenericResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: okMsg,
	})
}

// handlePlaybackSpeed меняет скорость воспроизведения
func (rs *RestServer) handlePlaybackSpeed(c *gin.Context) {
	if !rs.requirePlayback(c) {
		return
	}
	var req SpeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}
	if err := rs.playback.SetSpeed(c.Request.Context(), req.Exp); err != nil {
		c.JSON(http.StatusConflict, GenericResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Скорость изменена",
	})
}

// handlePlaybackSeek перематывает воспроизведение
func (rs *RestServer) handlePlaybackSeek(c *gin.Context) {
	if !rs.requirePlayback(c) {
		return
	}
	var req SeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}
	if err := rs.playback.Seek(c.Request.Context(), req.TimeMs); err != nil {
		c.JSON(http.StatusConflict, GenericResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Перемотка выполнена",
	})
}

// handlePlaybackStatus возвращает состояние воспроизведения
func (rs *RestServer) handlePlaybackStatus(c *gin.Context) {
	if !rs.requirePlayback(c) {
		return
	}
	status, err := rs.playback.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Состояние воспроизведения",
		Data:    status,
	})
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// Start запускает REST сервер
func (rs *RestServer) Start() error {
	return rs.router.Run(rs.port)
}

// Router возвращает роутер (для тестов)
func (rs *RestServer) Router() *gin.Engine { return rs.router }
