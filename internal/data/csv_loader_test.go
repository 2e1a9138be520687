package data

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opsxjacky/cdar-rebalance/pkg/types"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestCSVLoaderAlignsOnCommonDates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "AAA.csv", `Date,Open,High,Low,Close,Volume
2024-01-04,1,1,1,11,100
2024-01-02,1,1,1,10,100
2024-01-03,1,1,1,10.5,100
2024-01-05,1,1,1,12,100
`)
	writeFile(t, dir, "BBB.csv", `date,close
2024-01-02,20
2024-01-03,
2024-01-04,21
2024-01-05,22
2024-01-08,23
`)

	loader := NewCSVLoader(dir, nil)
	m, err := loader.LoadMatrix(context.Background(), []string{"AAA", "BBB"}, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("LoadMatrix() error = %v", err)
	}

	wantDates := []time.Time{day("2024-01-02"), day("2024-01-04"), day("2024-01-05")}
	if m.Len() != len(wantDates) {
		t.Fatalf("rows = %d, want %d", m.Len(), len(wantDates))
	}
	for i, d := range wantDates {
		if !m.Dates[i].Equal(d) {
			t.Errorf("date[%d] = %v, want %v", i, m.Dates[i], d)
		}
	}
	if m.Close[1][0] != 11 || m.Close[1][1] != 21 {
		t.Errorf("row 1 = %v, want [11 21]", m.Close[1])
	}
}

func TestCSVLoaderDateRange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "AAA.csv", `Date,Close
2024-01-02,10
2024-01-03,11
2024-01-04,12
2024-01-05,13
`)

	loader := NewCSVLoader(dir, nil)
	bars, err := loader.LoadBars("AAA", day("2024-01-03"), day("2024-01-04"))
	if err != nil {
		t.Fatalf("LoadBars() error = %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("bars = %d, want 2", len(bars))
	}
	if bars[0].Close != 11 || bars[1].Close != 12 {
		t.Errorf("closes = %v, %v", bars[0].Close, bars[1].Close)
	}
	if bars[0].AdjClose != bars[0].Close {
		t.Errorf("AdjClose = %v, want close when column absent", bars[0].AdjClose)
	}
}

func TestCSVLoaderErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "NOCLOSE.csv", "Date,Open\n2024-01-02,1\n")
	writeFile(t, dir, "EMPTY.csv", "Date,Close\n")

	tests := []struct {
		name   string
		symbol string
	}{
		{"missing file", "MISSING"},
		{"missing close column", "NOCLOSE"},
		{"no rows", "EMPTY"},
	}
	loader := NewCSVLoader(dir, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loader.LoadBars(tt.symbol, time.Time{}, time.Time{}); err == nil {
				t.Error("LoadBars() error = nil, want error")
			}
		})
	}
}

func TestLoadMatrixHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCSVLoader(t.TempDir(), nil).LoadMatrix(ctx, []string{"AAA"}, time.Time{}, time.Time{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestBuildMatrixRejectsDisjointSeries(t *testing.T) {
	series := map[string][]types.PriceData{
		"AAA": {{Timestamp: day("2024-01-02"), Close: 1}},
		"BBB": {{Timestamp: day("2024-01-03"), Close: 2}},
	}
	_, err := BuildMatrix(series, []string{"AAA", "BBB"})
	if !errors.Is(err, types.ErrMalformedMatrix) {
		t.Errorf("error = %v, want ErrMalformedMatrix", err)
	}

	if _, err := BuildMatrix(series, []string{"AAA", "CCC"}); err == nil {
		t.Error("expected error for unknown symbol")
	}
}

func TestBuildMatrixNormalisesTimestamps(t *testing.T) {
	series := map[string][]types.PriceData{
		"AAA": {
			{Timestamp: time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC), Close: 1},
			{Timestamp: time.Date(2024, 1, 3, 5, 0, 0, 0, time.UTC), Close: 2},
		},
		"BBB": {
			{Timestamp: day("2024-01-02"), Close: 3},
			{Timestamp: day("2024-01-03"), Close: 4},
		},
	}
	m, err := BuildMatrix(series, []string{"AAA", "BBB"})
	if err != nil {
		t.Fatalf("BuildMatrix() error = %v", err)
	}
	if m.Len() != 2 {
		t.Errorf("rows = %d, want 2", m.Len())
	}
}

func TestLoadWideCSV(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "wide.csv", `Date,JPM,V
2024-01-02,170,260
2024-01-03,171,
2024-01-04,172,262
`)
	m, err := LoadWideCSV(filepath.Join(dir, "wide.csv"))
	if err != nil {
		t.Fatalf("LoadWideCSV() error = %v", err)
	}
	if m.Len() != 2 || m.NumAssets() != 2 {
		t.Fatalf("shape = %dx%d, want 2x2", m.Len(), m.NumAssets())
	}
	if m.Symbols[0] != "JPM" || m.Symbols[1] != "V" {
		t.Errorf("symbols = %v", m.Symbols)
	}

	writeFile(t, dir, "bad.csv", "Date,JPM\n2024-01-02,abc\n")
	if _, err := LoadWideCSV(filepath.Join(dir, "bad.csv")); err == nil {
		t.Error("expected error for non-numeric cell")
	}
}

func TestWriteCSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	bars := map[string][]types.PriceData{
		"AAA": {
			{Symbol: "AAA", Timestamp: day("2024-01-02"), Open: 9, High: 11, Low: 8, Close: 10, AdjClose: 10, Volume: 1000},
			{Symbol: "AAA", Timestamp: day("2024-01-03"), Open: 10, High: 12, Low: 9, Close: 11, AdjClose: 11, Volume: 1200},
		},
	}
	if err := WriteCSV(dir, bars); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}

	got, err := NewCSVLoader(dir, nil).LoadBars("AAA", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("LoadBars() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("bars = %d, want 2", len(got))
	}
	if got[1].High != 12 || got[1].Volume != 1200 || !got[1].Timestamp.Equal(day("2024-01-03")) {
		t.Errorf("bar = %+v", got[1])
	}
}
