// Package http 提供HTTP服务器功能
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"smartpark/cache"
	"smartpark/ml"
	"smartpark/monitoring"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	MaxBodyBytes   int64
	AllowedOrigins []string
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           5000,
		Timeout:        10 * time.Second,
		MaxBodyBytes:   1 << 20,
		AllowedOrigins: []string{"http://localhost:3000"},
	}
}

// Dependencies 服务依赖，模型启动时加载一次后只读
type Dependencies struct {
	Artifact *ml.Artifact
	Cache    cache.PredictionCache
	Runs     RunLookup
	Metrics  *monitoring.Metrics
	Gatherer prometheus.Gatherer
	Events   *monitoring.EventHub
	Logger   *zap.Logger
}

// NewRouter 注册路由并套上中间件链
func NewRouter(config ServerConfig, deps Dependencies) (http.Handler, error) {
	if deps.Artifact == nil || !deps.Artifact.Pipeline.Fitted() {
		return nil, errors.New("a fitted model artifact is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		reg := prometheus.NewRegistry()
		deps.Metrics = monitoring.NewMetrics(reg)
		deps.Gatherer = reg
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	timeout := TimeoutMiddleware(config.Timeout)

	// 注册所有处理器
	models := &modelHandlers{artifact: deps.Artifact, runs: deps.Runs, started: time.Now(), logger: deps.Logger}
	mux.Handle("POST /predict", timeout(NewPredictHandler(deps.Artifact, deps.Artifact.RunID, deps.Cache, deps.Metrics, deps.Logger)))
	mux.Handle("GET /api/health", timeout(http.HandlerFunc(models.handleHealth)))
	mux.Handle("GET /api/model", timeout(http.HandlerFunc(models.handleModel)))
	if deps.Runs != nil {
		mux.Handle("GET /api/runs", timeout(http.HandlerFunc(models.handleRuns)))
	}
	mux.Handle("GET /metrics", timeout(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	if deps.Events != nil {
		// 长连接不套超时
		mux.Handle("GET /api/ws/events", deps.Events)
	}

	// 创建中间件链
	chain := Chain(
		RecoveryMiddleware(deps.Logger),            // 1. 恢复中间件（最先执行，捕获panic）
		LoggerMiddleware(deps.Logger),              // 2. 日志中间件
		SecurityHeadersMiddleware,                  // 3. 安全头中间件
		CORSMiddleware(config.AllowedOrigins),      // 4. CORS中间件
		RequestSizeMiddleware(config.MaxBodyBytes), // 5. 请求大小限制
	)

	return chain(mux), nil
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, deps Dependencies) (*Server, error) {
	handler, err := NewRouter(config, deps)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       config.Timeout,
			WriteTimeout:      config.Timeout + time.Second,
			IdleTimeout:       120 * time.Second,
		},
		config: config,
		logger: logger,
	}, nil
}

// Start 启动服务器，阻塞直到关闭
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	return nil
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}
