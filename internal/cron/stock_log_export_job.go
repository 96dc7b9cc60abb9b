package cron

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	bq "cloud.google.com/go/bigquery"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/stockledger/pkg/bigquery"
	"github.com/angelmondragon/stockledger/pkg/db/models"
	"github.com/angelmondragon/stockledger/pkg/logger"
)

const (
	stockLogExportJobName    = "stock-log-export"
	StockLogExportWatermark  = "stock_log_export"
	defaultStockLogBatchSize = 1000
)

type stockLogSource interface {
	ListLogsAfter(ctx context.Context, afterID int64, limit int) ([]models.StockLog, error)
}

type watermarkStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type rowSink interface {
	InsertRows(ctx context.Context, table string, rows []bq.ValueSaver) error
}

type StockLogExportJobParams struct {
	Logger       *logger.Logger
	Source       stockLogSource
	Watermarks   watermarkStore
	WatermarkKey string
	Sink         rowSink
	Table        string
	BatchSize    int
}

// NewStockLogExportJob streams new stock log rows to the warehouse. The
// watermark only moves after a successful insert; rows re-sent after a
// crash are dropped by their insert ids.
func NewStockLogExportJob(params StockLogExportJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Source == nil {
		return nil, fmt.Errorf("stock log source required")
	}
	if params.Watermarks == nil {
		return nil, fmt.Errorf("watermark store required")
	}
	if strings.TrimSpace(params.WatermarkKey) == "" {
		return nil, fmt.Errorf("watermark key required")
	}
	if params.Sink == nil {
		return nil, fmt.Errorf("row sink required")
	}
	if strings.TrimSpace(params.Table) == "" {
		return nil, fmt.Errorf("table required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultStockLogBatchSize
	}
	return &stockLogExportJob{
		logg:   params.Logger,
		source: params.Source,
		marks:  params.Watermarks,
		key:    params.WatermarkKey,
		sink:   params.Sink,
		table:  strings.TrimSpace(params.Table),
		batch:  batch,
	}, nil
}

type stockLogExportJob struct {
	logg   *logger.Logger
	source stockLogSource
	marks  watermarkStore
	key    string
	sink   rowSink
	table  string
	batch  int
}

func (j *stockLogExportJob) Name() string { return stockLogExportJobName }

func (j *stockLogExportJob) Run(ctx context.Context) error {
	after, err := j.watermark(ctx)
	if err != nil {
		return err
	}
	logs, err := j.source.ListLogsAfter(ctx, after, j.batch)
	if err != nil {
		return fmt.Errorf("list stock logs after %d: %w", after, err)
	}
	if len(logs) == 0 {
		return nil
	}

	rows := make([]bq.ValueSaver, len(logs))
	for i, log := range logs {
		rows[i] = bigquery.NewStockLogRow(log)
	}
	if err := j.sink.InsertRows(ctx, j.table, rows); err != nil {
		return fmt.Errorf("insert %d stock logs: %w", len(rows), err)
	}

	last := logs[len(logs)-1].ID
	if err := j.marks.Set(ctx, j.key, strconv.FormatInt(last, 10), 0); err != nil {
		return fmt.Errorf("advance watermark to %d: %w", last, err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"rows_exported": len(rows),
		"watermark":     last,
	}), "stock logs exported")
	return nil
}

func (j *stockLogExportJob) watermark(ctx context.Context) (int64, error) {
	raw, err := j.marks.Get(ctx, j.key)
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse watermark %q: %w", raw, err)
	}
	return id, nil
}
