package market

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"crossbot/internal/logger"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp 支持 RFC3339 / "2006-01-02 15:04:05" / 日期 / unix 毫秒。
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// ReadCSV 读取 "索引列=时间, price 列=价格" 的历史数据；缺失/NaN/非法行被跳过。
func ReadCSV(r io.Reader) ([]Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	priceCol := -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "price":
			priceCol = i
		case "close":
			if priceCol < 0 {
				priceCol = i
			}
		}
	}
	if priceCol <= 0 {
		return nil, fmt.Errorf("csv 缺少 price 列: %v", header)
	}
	var (
		out     []Bar
		skipped int
		line    = 1
	)
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if len(rec) <= priceCol {
			skipped++
			continue
		}
		ts, err := ParseTimestamp(rec[0])
		if err != nil {
			skipped++
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(rec[priceCol]), 64)
		if err != nil || math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
			skipped++
			continue
		}
		out = append(out, Bar{Time: ts, Close: price})
	}
	if skipped > 0 {
		logger.Debugf("[csv] 跳过 %d 行无效数据", skipped)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// WriteCSV 输出 "Date,price" 两列，可被 ReadCSV 读回。
func WriteCSV(w io.Writer, bars []Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Date", "price"}); err != nil {
		return err
	}
	for _, b := range bars {
		row := []string{
			b.Time.UTC().Format("2006-01-02 15:04:05"),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSVSource 以文件为历史数据源。
type CSVSource struct {
	Path string
}

func NewCSVSource(path string) *CSVSource {
	return &CSVSource{Path: strings.TrimSpace(path)}
}

func (s *CSVSource) Name() string { return "csv" }

// Bars 返回 [start, end) 内的数据；零值边界表示不限制。symbol 仅用于日志。
func (s *CSVSource) Bars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	if s.Path == "" {
		return nil, errors.New("csv path 不能为空")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	all, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	out := FilterRange(all, start, end)
	logger.Debugf("[csv] %s %s 读取 %d 根 bar（区间内 %d）", symbol, s.Path, len(all), len(out))
	return out, nil
}

// FilterRange 保留 [start, end) 内的 bar。
func FilterRange(bars []Bar, start, end time.Time) []Bar {
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if !start.IsZero() && b.Time.Before(start) {
			continue
		}
		if !end.IsZero() && !b.Time.Before(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}
