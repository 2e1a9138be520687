package data

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/opsxjacky/cdar-rebalance/pkg/types"
	"go.uber.org/zap"
)

// 环境变量中的Alpaca凭证
const (
	EnvAlpacaKey    = "ALPACA_API_KEY"
	EnvAlpacaSecret = "ALPACA_SECRET_KEY"
	EnvAlpacaData   = "ALPACA_DATA_URL"
)

// AlpacaLoader 从Alpaca行情接口拉取日线
type AlpacaLoader struct {
	client *marketdata.Client
	feed   string
	logger *zap.Logger
}

// NewAlpacaLoader 创建Alpaca加载器, dataURL 为空时使用默认地址
func NewAlpacaLoader(apiKey, apiSecret, dataURL, feed string, logger *zap.Logger) (*AlpacaLoader, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("alpaca credentials missing: set %s and %s", EnvAlpacaKey, EnvAlpacaSecret)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &AlpacaLoader{
		client: marketdata.NewClient(opts),
		feed:   feed,
		logger: logger,
	}, nil
}

// NewAlpacaLoaderFromEnv 从环境变量读取凭证
func NewAlpacaLoaderFromEnv(feed string, logger *zap.Logger) (*AlpacaLoader, error) {
	return NewAlpacaLoader(os.Getenv(EnvAlpacaKey), os.Getenv(EnvAlpacaSecret), os.Getenv(EnvAlpacaData), feed, logger)
}

// SourceType 返回数据源类型
func (l *AlpacaLoader) SourceType() string {
	return "alpaca"
}

// LoadMatrix 拉取日线并按共同日期对齐
func (l *AlpacaLoader) LoadMatrix(ctx context.Context, symbols []string, start, end time.Time) (*types.PriceMatrix, error) {
	bars, err := l.FetchBars(ctx, symbols, start, end)
	if err != nil {
		return nil, err
	}
	return BuildMatrix(bars, symbols)
}

// FetchBars 拉取多个标的的未复权日线
func (l *AlpacaLoader) FetchBars(ctx context.Context, symbols []string, start, end time.Time) (map[string][]types.PriceData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 日线的 End 不含当天, 加一天以包含结束日
	req := marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.Raw,
		Start:      start,
		End:        end.AddDate(0, 0, 1),
	}
	if l.feed != "" {
		req.Feed = l.feed
	}

	began := time.Now()
	multiBars, err := l.client.GetMultiBars(symbols, req)
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	result := make(map[string][]types.PriceData, len(multiBars))
	for symbol, alpacaBars := range multiBars {
		symbol = strings.ToUpper(symbol)
		series := make([]types.PriceData, 0, len(alpacaBars))
		for _, ab := range alpacaBars {
			series = append(series, types.PriceData{
				Symbol:    symbol,
				Timestamp: dayOf(ab.Timestamp),
				Open:      ab.Open,
				High:      ab.High,
				Low:       ab.Low,
				Close:     ab.Close,
				Volume:    float64(ab.Volume),
				AdjClose:  ab.Close,
			})
		}
		result[symbol] = series
	}

	l.logger.Info("fetched bars from alpaca",
		zap.Int("symbols", len(result)),
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Duration("took", time.Since(began)),
	)
	return result, nil
}
