// Package server 通过 HTTP 暴露会话接口：创建会话、提问、上传文件通知、查看历史。
package server

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"
	"github.com/wwwzy/PennyAgent/internal/agent"
	"github.com/wwwzy/PennyAgent/internal/metrics"
	"github.com/wwwzy/PennyAgent/internal/session"
)

type Config struct {
	Addr string `mapstructure:"addr"`
	// UploadDir 非空时保存 multipart 上传的文件；为空时只记录文件名。
	UploadDir string `mapstructure:"upload_dir"`
	// ShutdownTimeout 为优雅关闭的等待时间。
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ShutdownTimeout: 10 * time.Second,
	}
}

type Server struct {
	cfg      Config
	hertz    *server.Hertz
	sessions *session.Manager
	log      zerolog.Logger
}

func New(cfg Config, sessions *session.Manager, log zerolog.Logger) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultConfig().Addr
	}
	s := &Server{
		cfg:      cfg,
		hertz:    server.Default(server.WithHostPorts(cfg.Addr)),
		sessions: sessions,
		log:      log.With().Str("component", "http").Logger(),
	}
	s.hertz.Use(s.accessLog())
	s.routes()
	return s
}

func (s *Server) routes() {
	h := s.hertz
	h.GET("/healthz", s.health)
	h.GET("/metrics", s.metrics)

	h.POST("/sessions", s.createSession)
	g := h.Group("/sessions")
	g.POST("/:id/seed", s.seedSession)
	g.POST("/:id/question", s.question)
	g.POST("/:id/documents", s.document)
	g.GET("/:id/history", s.history)
}

// Run 阻塞直到服务退出
func (s *Server) Run() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
	return s.hertz.Run()
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.hertz.Shutdown(ctx)
}

func (s *Server) accessLog() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)
		s.log.Info().
			Str("method", string(c.Method())).
			Str("path", string(c.Path())).
			Int("status", c.Response.StatusCode()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}

func (s *Server) health(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

func (s *Server) createSession(ctx context.Context, c *app.RequestContext) {
	id, err := s.sessions.Create(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(consts.StatusCreated, utils.H{"session_id": id})
}

func (s *Server) seedSession(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if err := s.sessions.Seed(ctx, id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"session_id": id, "status": "seeded"})
}

type questionRequest struct {
	Message string `json:"message"`
}

func (s *Server) question(ctx context.Context, c *app.RequestContext) {
	var req questionRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "message is required"})
		return
	}

	reply, err := s.sessions.Ask(ctx, c.Param("id"), req.Message)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(consts.StatusOK, reply)
}

type documentRequest struct {
	FileName string `json:"file_name"`
}

// document 接收 multipart 字段 file，或 JSON {"file_name": ...}（文件已由其它渠道上传）
func (s *Server) document(ctx context.Context, c *app.RequestContext) {
	var name string
	if strings.HasPrefix(string(c.ContentType()), "multipart/form-data") {
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "file is required"})
			return
		}
		name = filepath.Base(fh.Filename)
		if s.cfg.UploadDir != "" {
			if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
				s.fail(c, err)
				return
			}
			if err := c.SaveUploadedFile(fh, filepath.Join(s.cfg.UploadDir, name)); err != nil {
				s.fail(c, err)
				return
			}
		}
	} else {
		var req documentRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid request body"})
			return
		}
		name = filepath.Base(strings.TrimSpace(req.FileName))
	}
	if name == "" || name == "." || name == string(filepath.Separator) {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "file_name is required"})
		return
	}

	reply, err := s.sessions.Notify(ctx, c.Param("id"), session.UploadNotice(name))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(consts.StatusOK, reply)
}

func (s *Server) history(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	h, err := s.sessions.History(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if h == nil {
		h = []agent.Utterance{}
	}
	c.JSON(consts.StatusOK, utils.H{"session_id": id, "history": h})
}

func (s *Server) fail(c *app.RequestContext, err error) {
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(consts.StatusNotFound, utils.H{"error": err.Error()})
		return
	}
	s.log.Error().Err(err).Str("path", string(c.Path())).Msg("request failed")
	c.JSON(consts.StatusInternalServerError, utils.H{"error": "the assistant could not complete the request, please try again"})
}
