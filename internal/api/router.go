package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/LJTian/FFNewsAlerts/internal/storage"
)

type Store interface {
	ListNews(ctx context.Context, published string, limit int) ([]storage.News, error)
	ListDestinations(ctx context.Context, activeOnly bool) ([]storage.Destination, error)
	EnsureDestination(ctx context.Context, code, name, webhookURL string) (*storage.Destination, error)
	SetDestinationStatus(ctx context.Context, code, status string) (bool, error)
}

type Server struct {
	store Store
	log   logrus.FieldLogger
}

func NewServer(store Store, log logrus.FieldLogger) *Server {
	return &Server{store: store, log: log}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	// 由 trailingSlashRedirect 统一处理结尾斜杠
	r.RedirectTrailingSlash = false

	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/news", s.listNews)
		v1.GET("/destinations", s.listDestinations)
		v1.POST("/destinations", s.createDestination)
		v1.PATCH("/destinations/:code", s.updateDestination)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.log.WithError(err).WithField("path", c.FullPath()).Error("api request failed")
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    "internal_error",
		"message": "internal server error",
	})
}

func (s *Server) listNews(c *gin.Context) {
	published := c.Query("published")
	if published != "true" && published != "false" {
		published = ""
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	items, err := s.store.ListNews(c.Request.Context(), published, limit)
	if err != nil {
		s.internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    items,
	})
}

func (s *Server) listDestinations(c *gin.Context) {
	items, err := s.store.ListDestinations(c.Request.Context(), false)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": "ok", "message": "success", "data": items})
}

type createDestinationRequest struct {
	Name       string `json:"name" binding:"required,max=128"`
	WebhookURL string `json:"webhookUrl" binding:"required,url,max=512"`
}

func (s *Server) createDestination(c *gin.Context) {
	var req createDestinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "message": err.Error()})
		return
	}

	d, err := s.store.EnsureDestination(c.Request.Context(), storage.DestinationCode(req.WebhookURL), req.Name, req.WebhookURL)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": "ok", "message": "success", "data": d})
}

type updateDestinationRequest struct {
	Status string `json:"status" binding:"required,oneof=active disabled"`
}

func (s *Server) updateDestination(c *gin.Context) {
	var req updateDestinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "message": err.Error()})
		return
	}

	found, err := s.store.SetDestinationStatus(c.Request.Context(), c.Param("code"), req.Status)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "destination not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": "ok", "message": "success"})
}

type Options struct {
	FlyRegion     string
	PrimaryRegion string
	BasicAuthUser string
	BasicAuthPass string
}

// NewEngine 组装中间件与路由
func NewEngine(store Store, opts Options, log logrus.FieldLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log))
	r.Use(SecurityHeaders(opts.FlyRegion), TrailingSlashRedirect(), ReplayWrites(opts.PrimaryRegion, opts.FlyRegion, log))
	// 若配置了全局访问密码，则启用 Basic Auth 保护（/health 仍然免认证）
	if opts.BasicAuthUser != "" && opts.BasicAuthPass != "" {
		r.Use(BasicAuth(opts.BasicAuthUser, opts.BasicAuthPass))
	}

	NewServer(store, log).RegisterRoutes(r)
	return r
}
