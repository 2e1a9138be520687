package data

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opsxjacky/cdar-rebalance/pkg/types"
	"go.uber.org/zap"
)

// CSVLoader CSV数据加载器, 每个标的一个 <SYMBOL>.csv
type CSVLoader struct {
	dataDir string
	logger  *zap.Logger
}

// NewCSVLoader 创建CSV加载器
func NewCSVLoader(dataDir string, logger *zap.Logger) *CSVLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVLoader{
		dataDir: dataDir,
		logger:  logger,
	}
}

// SourceType 返回数据源类型
func (l *CSVLoader) SourceType() string {
	return "csv"
}

// LoadMatrix 加载收盘价并按共同日期对齐
func (l *CSVLoader) LoadMatrix(ctx context.Context, symbols []string, start, end time.Time) (*types.PriceMatrix, error) {
	series := make(map[string][]types.PriceData, len(symbols))
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bars, err := l.LoadBars(symbol, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to load data for %s: %w", symbol, err)
		}
		series[symbol] = bars
	}

	m, err := BuildMatrix(series, symbols)
	if err != nil {
		return nil, err
	}
	l.logger.Info("price matrix loaded",
		zap.String("source", l.SourceType()),
		zap.Int("assets", m.NumAssets()),
		zap.Int("rows", m.Len()),
	)
	return m, nil
}

// LoadBars 加载单个标的的K线, 按日期升序
func (l *CSVLoader) LoadBars(symbol string, start, end time.Time) ([]types.PriceData, error) {
	filePath := filepath.Join(l.dataDir, symbol+".csv")
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}

	if len(records) < 2 {
		return nil, fmt.Errorf("CSV file has no data rows")
	}

	// 解析表头，找到各列的索引
	colIndex := parseHeader(records[0])
	if _, ok := colIndex["date"]; !ok {
		return nil, fmt.Errorf("CSV file %s has no date column", filePath)
	}
	if _, ok := colIndex["close"]; !ok {
		return nil, fmt.Errorf("CSV file %s has no close column", filePath)
	}

	var result []types.PriceData
	skipped := 0
	for i := 1; i < len(records); i++ {
		bar, err := parseRow(records[i], colIndex, symbol)
		if err != nil {
			skipped++
			continue // 跳过解析错误的行
		}

		// 过滤日期范围
		if inRange(bar.Timestamp, start, end) {
			result = append(result, bar)
		}
	}
	if skipped > 0 {
		l.logger.Debug("skipped unparsable rows",
			zap.String("symbol", symbol),
			zap.Int("rows", skipped),
		)
	}

	// 按日期排序
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// LoadWideCSV 读取 日期×标的 的收盘价宽表, 空单元格所在行被丢弃
func LoadWideCSV(path string) (*types.PriceMatrix, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) < 2 || len(records[0]) < 2 {
		return nil, fmt.Errorf("%w: wide CSV needs a date column, at least one symbol and one row", types.ErrMalformedMatrix)
	}

	symbols := make([]string, 0, len(records[0])-1)
	for _, col := range records[0][1:] {
		symbols = append(symbols, strings.TrimSpace(col))
	}

	series := make(map[string][]types.PriceData, len(symbols))
	for i, row := range records[1:] {
		t, err := parseDate(strings.TrimSpace(row[0]))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		for j, symbol := range symbols {
			cell := strings.TrimSpace(row[j+1])
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", i+2, symbol, err)
			}
			series[symbol] = append(series[symbol], types.PriceData{Symbol: symbol, Timestamp: t, Close: v, AdjClose: v})
		}
	}
	return BuildMatrix(series, symbols)
}

// WriteCSV 按 CSVLoader 格式写出K线
func WriteCSV(dir string, bars map[string][]types.PriceData) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	for symbol, series := range bars {
		if err := writeSymbolCSV(filepath.Join(dir, symbol+".csv"), series); err != nil {
			return fmt.Errorf("failed to write %s: %w", symbol, err)
		}
	}
	return nil
}

func writeSymbolCSV(path string, series []types.PriceData) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Date", "Open", "High", "Low", "Close", "Adj Close", "Volume"}); err != nil {
		return err
	}
	for _, bar := range series {
		row := []string{
			bar.Timestamp.Format("2006-01-02"),
			strconv.FormatFloat(bar.Open, 'f', -1, 64),
			strconv.FormatFloat(bar.High, 'f', -1, 64),
			strconv.FormatFloat(bar.Low, 'f', -1, 64),
			strconv.FormatFloat(bar.Close, 'f', -1, 64),
			strconv.FormatFloat(bar.AdjClose, 'f', -1, 64),
			strconv.FormatFloat(bar.Volume, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

// parseHeader 解析CSV表头
func parseHeader(header []string) map[string]int {
	colIndex := make(map[string]int)
	for i, col := range header {
		switch strings.TrimSpace(col) {
		case "Date", "date", "DATE", "Timestamp", "timestamp":
			colIndex["date"] = i
		case "Open", "open", "OPEN":
			colIndex["open"] = i
		case "High", "high", "HIGH":
			colIndex["high"] = i
		case "Low", "low", "LOW":
			colIndex["low"] = i
		case "Close", "close", "CLOSE":
			colIndex["close"] = i
		case "Volume", "volume", "VOLUME":
			colIndex["volume"] = i
		case "Adj Close", "adj_close", "AdjClose", "Adj_Close":
			colIndex["adj_close"] = i
		}
	}
	return colIndex
}

// parseRow 解析CSV行, 日期或收盘价无效时返回错误
func parseRow(row []string, colIndex map[string]int, symbol string) (types.PriceData, error) {
	bar := types.PriceData{Symbol: symbol}

	idx := colIndex["date"]
	if idx >= len(row) {
		return bar, fmt.Errorf("missing date")
	}
	t, err := parseDate(strings.TrimSpace(row[idx]))
	if err != nil {
		return bar, err
	}
	bar.Timestamp = t

	idx = colIndex["close"]
	if idx >= len(row) {
		return bar, fmt.Errorf("missing close")
	}
	bar.Close, err = strconv.ParseFloat(strings.TrimSpace(row[idx]), 64)
	if err != nil || math.IsNaN(bar.Close) || bar.Close <= 0 {
		return bar, fmt.Errorf("invalid close %q", row[idx])
	}

	bar.Open = optionalFloat(row, colIndex, "open")
	bar.High = optionalFloat(row, colIndex, "high")
	bar.Low = optionalFloat(row, colIndex, "low")
	bar.Volume = optionalFloat(row, colIndex, "volume")
	if _, ok := colIndex["adj_close"]; ok {
		bar.AdjClose = optionalFloat(row, colIndex, "adj_close")
	} else {
		bar.AdjClose = bar.Close // 默认使用收盘价
	}
	return bar, nil
}

func optionalFloat(row []string, colIndex map[string]int, name string) float64 {
	idx, ok := colIndex[name]
	if !ok || idx >= len(row) {
		return 0
	}
	v, _ := strconv.ParseFloat(strings.TrimSpace(row[idx]), 64)
	return v
}

// parseDate 解析日期字符串
func parseDate(dateStr string) (time.Time, error) {
	formats := []string{
		"2006-01-02",
		"2006/01/02",
		"01/02/2006",
		"02-01-2006",
		"2006-01-02 15:04:05",
		time.RFC3339,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}
