package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opsxjacky/cdar-rebalance/internal/engine"
	"github.com/opsxjacky/cdar-rebalance/internal/store"
	"github.com/opsxjacky/cdar-rebalance/pkg/types"
	"go.uber.org/zap"
)

// CreateBacktest 处理 POST /api/v1/backtests
func (s *Server) CreateBacktest(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	opts, err := s.buildOptions(req)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_CONFIG", err)
		return
	}

	var m *types.PriceMatrix
	switch {
	case req.Prices != nil:
		m, err = req.Prices.ToMatrix(req.Symbols)
		if err != nil {
			abortWithError(c, http.StatusUnprocessableEntity, "INVALID_PRICES", err)
			return
		}
	case s.loader != nil:
		m, err = s.loader.LoadMatrix(c.Request.Context(), req.Symbols, opts.Config.StartDate, opts.Config.EndDate)
		if err != nil {
			code := http.StatusBadGateway
			if errors.Is(err, types.ErrMalformedMatrix) {
				code = http.StatusUnprocessableEntity
			}
			abortWithError(c, code, "DATA_FETCH_ERROR", err)
			return
		}
	default:
		abortWithError(c, http.StatusBadRequest, "NO_DATA", errors.New("no prices supplied and no data source configured"))
		return
	}

	e, err := engine.Build(opts)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_CONFIG", err)
		return
	}
	result, err := e.Run(m)
	if err != nil {
		abortWithError(c, http.StatusUnprocessableEntity, "BACKTEST_FAILED", err)
		return
	}

	if err := s.repo.SaveRun(c.Request.Context(), result); err != nil {
		s.logger.Error("failed to save run", zap.String("id", result.ID), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "STORE_ERROR", err)
		return
	}

	c.JSON(http.StatusCreated, BacktestResponse{
		ID:      result.ID,
		Summary: engine.Summarize(result),
	})
}

// buildOptions 合并请求和默认参数
func (s *Server) buildOptions(req BacktestRequest) (engine.Options, error) {
	d := s.defaults
	cfg := types.BacktestConfig{
		Symbols:        req.Symbols,
		Period:         req.Period,
		Lookback:       d.Lookback,
		InitialCapital: req.InitialCapital,
		YearFreq:       d.YearFreq,
	}
	if cfg.Period == 0 {
		cfg.Period = d.Period
	}
	if req.Lookback != nil {
		cfg.Lookback = *req.Lookback
	}
	if cfg.InitialCapital == 0 {
		cfg.InitialCapital = d.InitialCapital
	}

	var err error
	if req.StartDate != "" {
		if cfg.StartDate, err = time.Parse("2006-01-02", req.StartDate); err != nil {
			return engine.Options{}, fmt.Errorf("invalid start_date: %w", err)
		}
	}
	if req.EndDate != "" {
		if cfg.EndDate, err = time.Parse("2006-01-02", req.EndDate); err != nil {
			return engine.Options{}, fmt.Errorf("invalid end_date: %w", err)
		}
	}

	opts := engine.Options{
		Config:    cfg,
		Optimizer: d.Optimizer,
		Costs:     d.Costs,
		Sequence:  d.Sequence,
		Logger:    s.logger,
	}
	if req.Optimizer != nil {
		opts.Optimizer = *req.Optimizer
		if d.MaxSamples > 0 && opts.Optimizer.Samples > d.MaxSamples {
			return engine.Options{}, fmt.Errorf("optimizer.samples %d exceeds the limit of %d", opts.Optimizer.Samples, d.MaxSamples)
		}
	}
	if req.Costs != nil {
		opts.Costs = *req.Costs
	}
	if req.Sequence != "" {
		opts.Sequence = req.Sequence
	}
	return opts, nil
}

// ListBacktests 处理 GET /api/v1/backtests
func (s *Server) ListBacktests(c *gin.Context) {
	limit, err := queryInt(c, "limit", store.DefaultListLimit)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	runs, err := s.repo.ListRuns(c.Request.Context(), limit, offset)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "STORE_ERROR", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "limit": limit, "offset": offset})
}

// GetBacktest 处理 GET /api/v1/backtests/:id
func (s *Server) GetBacktest(c *gin.Context) {
	result, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetTrades 处理 GET /api/v1/backtests/:id/trades
func (s *Server) GetTrades(c *gin.Context) {
	result, ok := s.lookup(c)
	if !ok {
		return
	}
	trades := result.Trades
	if trades == nil {
		trades = []types.Trade{}
	}
	c.JSON(http.StatusOK, TradesResponse{ID: result.ID, Trades: trades})
}

// lookup 读取 :id 对应的结果, 失败时已写出错误响应
func (s *Server) lookup(c *gin.Context) (*types.BacktestResult, bool) {
	id := c.Param("id")
	result, err := s.repo.GetRun(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, "NOT_FOUND", fmt.Errorf("backtest %s not found", id))
		return nil, false
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "STORE_ERROR", err)
		return nil, false
	}
	return result, true
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return v, nil
}
