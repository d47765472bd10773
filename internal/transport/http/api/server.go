package apihttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"crossbot/internal/logger"
	"crossbot/internal/runner"
	"crossbot/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Backtester 执行一次完整回测（取数 + 回放 + 强制平仓）。
type Backtester interface {
	Backtest(ctx context.Context, runID string, req RunRequest) (runner.Result, error)
}

// LiveStatus 返回实时 runner 的快照；未运行实时策略时 ok=false。
type LiveStatus func() (runner.Status, bool)

type Config struct {
	Addr              string
	Results           *store.ResultStore
	Backtester        Backtester
	Live              LiveStatus
	Metrics           http.Handler
	MaxConcurrentRuns int
}

// Server 提供回测管理、实时状态与指标推送的 HTTP API。
type Server struct {
	addr    string
	router  *gin.Engine
	results *store.ResultStore
	bt      Backtester
	live    LiveStatus
	schema  *jsonschema.Schema

	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Results == nil {
		return nil, errors.New("result store 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 2
	}
	schema, err := compileSchema(runRequestSchema)
	if err != nil {
		return nil, fmt.Errorf("编译请求 schema 失败: %w", err)
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:    cfg.Addr,
		router:  router,
		results: cfg.Results,
		bt:      cfg.Backtester,
		live:    cfg.Live,
		schema:  schema,
		sem:     make(chan struct{}, cfg.MaxConcurrentRuns),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.registerRoutes(cfg.Metrics)
	return s, nil
}

func (s *Server) registerRoutes(metrics http.Handler) {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := s.router.Group("/api")
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/fills", s.handleRunFills)
	api.GET("/runs/:id/valuations", s.handleRunValuations)
	api.GET("/live/status", s.handleLiveStatus)
	if metrics != nil {
		s.router.GET("/ws", gin.WrapH(metrics))
	}
}

// Handler 暴露路由（测试使用）。
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Addr() string { return s.addr }

func (s *Server) handleRunStart(c *gin.Context) {
	if s.bt == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "回测未启用"})
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req, err := decodeRunRequest(s.schema, body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run := &store.RunModel{
		ID:             uuid.NewString(),
		Kind:           "backtest",
		Symbol:         req.Symbol,
		Strategy:       req.Strategy.Kind,
		Mode:           req.Mode,
		Interval:       req.Interval,
		InitialBalance: req.InitialCash,
	}
	if err := s.results.CreateRun(c.Request.Context(), run, req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.wg.Add(1)
	go s.execute(run.ID, req)
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

// execute 在信号量内运行回测；排队期间状态保持 pending。
func (s *Server) execute(id string, req RunRequest) {
	defer s.wg.Done()
	select {
	case s.sem <- struct{}{}:
	case <-s.ctx.Done():
		s.markFailed(id, s.ctx.Err())
		return
	}
	defer func() { <-s.sem }()

	_ = s.results.UpdateRunStatus(s.ctx, id, store.RunStatusRunning, "")
	res, err := s.bt.Backtest(s.ctx, id, req)
	if err != nil {
		s.markFailed(id, err)
		return
	}
	if err := s.results.SaveResult(context.WithoutCancel(s.ctx), id, res); err != nil {
		logger.Errorf("[http] 保存回测结果失败 run=%s: %v", id, err)
		s.markFailed(id, err)
		return
	}
	logger.Infof("[http] 回测完成 run=%s symbol=%s net=%.2f%%", id, req.Symbol, res.Summary.NetPerformance)
}

func (s *Server) markFailed(id string, cause error) {
	logger.Warnf("[http] 回测失败 run=%s: %v", id, cause)
	if err := s.results.UpdateRunStatus(context.WithoutCancel(s.ctx), id, store.RunStatusFailed, cause.Error()); err != nil {
		logger.Errorf("[http] 更新回测状态失败 run=%s: %v", id, err)
	}
}

func (s *Server) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.results.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, err := s.results.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrRunNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunFills(c *gin.Context) {
	fills, err := s.results.ListFills(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"fills": fills})
}

func (s *Server) handleRunValuations(c *gin.Context) {
	vals, err := s.results.ListValuations(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valuations": vals})
}

func (s *Server) handleLiveStatus(c *gin.Context) {
	if s.live == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "实时策略未运行"})
		return
	}
	st, ok := s.live()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "实时策略未运行"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": st})
}

// requestLogger 记录接口调用。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", c.Request.Method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

// Start 阻塞直到 ctx 结束或监听失败；退出时取消后台回测并等待其收尾。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[http] 监听 %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	defer s.Close()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Close 取消排队和运行中的回测并等待退出。
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}
