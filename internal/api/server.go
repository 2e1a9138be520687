package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/opsxjacky/cdar-rebalance/internal/config"
	"github.com/opsxjacky/cdar-rebalance/internal/data"
	"github.com/opsxjacky/cdar-rebalance/internal/store"
	"github.com/opsxjacky/cdar-rebalance/pkg/types"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Defaults 请求未指定时使用的参数
type Defaults struct {
	Period         int
	Lookback       int
	InitialCapital float64
	YearFreq       int
	Sequence       string
	Optimizer      types.OptimizerConfig
	Costs          types.CostConfig
	AllowedOrigins []string
	MaxSamples     int // 请求中 optimizer.samples 的上限, 0 表示不限
}

// DefaultsFromConfig 从配置文件提取默认参数
func DefaultsFromConfig(c *config.Config) Defaults {
	return Defaults{
		Period:         c.Backtest.Period,
		Lookback:       c.Backtest.Lookback,
		InitialCapital: c.Backtest.InitialCapital,
		YearFreq:       c.Backtest.YearFreq,
		Sequence:       c.Backtest.Sequence,
		Optimizer:      c.ToOptimizerConfig(),
		Costs:          c.ToCostConfig(),
		AllowedOrigins: c.Server.AllowedOrigins,
		MaxSamples:     c.Server.MaxSamples,
	}
}

// Server 回测 HTTP 服务
type Server struct {
	router   *gin.Engine
	upgrader websocket.Upgrader
	repo     store.Repository
	loader   data.DataLoader
	defaults Defaults
	logger   *zap.Logger
}

// NewServer 创建服务, loader 为 nil 时只接受内联价格
func NewServer(repo store.Repository, loader data.DataLoader, defaults Defaults, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:   gin.New(),
		repo:     repo,
		loader:   loader,
		defaults: defaults,
		logger:   logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(RequestLogger(s.logger))
	s.router.Use(ErrorHandler(s.logger))

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api/v1")
	{
		api.POST("/backtests", s.CreateBacktest)
		api.GET("/backtests", s.ListBacktests)
		api.GET("/backtests/:id", s.GetBacktest)
		api.GET("/backtests/:id/trades", s.GetTrades)
		api.GET("/backtests/:id/stream", s.StreamBacktest)
	}

	s.router.NoRoute(func(c *gin.Context) {
		abortWithError(c, http.StatusNotFound, "NOT_FOUND", errors.New("route not found"))
	})
}

// checkOrigin websocket 握手的来源校验, 与 CORS 使用同一白名单
// 未配置白名单或包含 "*" 时全部放行, 没有 Origin 头的非浏览器客户端也放行
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.defaults.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.defaults.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Handler 带 CORS 的 http.Handler
func (s *Server) Handler() http.Handler {
	origins := s.defaults.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(s.router)
}

// Run 监听 addr 直到 ctx 结束, 然后优雅关闭
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down API server")
	return srv.Shutdown(shutdownCtx)
}
