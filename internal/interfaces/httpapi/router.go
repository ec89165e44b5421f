package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RouterOptions 路由依赖的非业务组件
type RouterOptions struct {
	Health  func(ctx context.Context) error // /healthz，nil 时恒为 ok
	Metrics http.Handler                    // /metrics，nil 时不注册
}

// NewRouter 注册全部路由
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), AccessLog(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		if opts.Health != nil {
			if err := opts.Health(c.Request.Context()); err != nil {
				fail(c, http.StatusServiceUnavailable, CodeUnavailable, err.Error())
				return
			}
		}
		success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	o := r.Group("/api/v1/owners/:owner")
	{
		o.GET("/sync", h.SyncStatus)
		o.POST("/sync/:source", h.TriggerSync)
		o.POST("/watchlist/refresh", h.RefreshWatchlist)

		o.GET("/opportunities", h.ListOpportunities)
		o.GET("/opportunities/count", h.CountOpportunities)

		o.GET("/exclusions/listings", h.ListListingExclusions)
		o.POST("/exclusions/listings", h.ExcludeListing)
		o.DELETE("/exclusions/listings/:listing", h.RestoreListing)
		o.GET("/exclusions/items", h.ListItemExclusions)

		o.POST("/items/:item/exclusion", h.ExcludeItem)
		o.DELETE("/items/:item/exclusion", h.RestoreItem)
	}

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, CodeNotFound, "route not found")
	})
	return r
}

// Server 带优雅关闭的 HTTP 服务
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
}

func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: 10 * time.Second,
	}
}

// Run 阻塞直到 ctx 取消或监听失败
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("http server stopped")
	return nil
}
