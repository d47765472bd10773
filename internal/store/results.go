package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"crossbot/internal/runner"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusFailed  RunStatus = "failed"
)

var ErrRunNotFound = errors.New("run not found")

// RunModel 对应 runs 表，一次回测或实盘会话一行。
type RunModel struct {
	ID                  string         `gorm:"column:id;primaryKey" json:"id"`
	Kind                string         `gorm:"column:kind;index" json:"kind"`
	Symbol              string         `gorm:"column:symbol;index" json:"symbol"`
	Strategy            string         `gorm:"column:strategy" json:"strategy"`
	Mode                string         `gorm:"column:mode" json:"mode"`
	Interval            string         `gorm:"column:interval" json:"interval"`
	Status              RunStatus      `gorm:"column:status" json:"status"`
	Message             string         `gorm:"column:message" json:"message,omitempty"`
	StartTS             int64          `gorm:"column:start_ts" json:"start_ts"`
	EndTS               int64          `gorm:"column:end_ts" json:"end_ts"`
	InitialBalance      float64        `gorm:"column:initial_balance" json:"initial_balance"`
	FinalBalance        float64        `gorm:"column:final_balance" json:"final_balance"`
	NetPerformance      float64        `gorm:"column:net_performance" json:"net_performance_pct"`
	SymbolPerformance   float64        `gorm:"column:symbol_performance" json:"symbol_performance_pct"`
	RelativePerformance float64        `gorm:"column:relative_performance" json:"relative_performance_pct"`
	MaxDrawdown         float64        `gorm:"column:max_drawdown" json:"max_drawdown_pct"`
	LongestDrawdownMs   int64          `gorm:"column:longest_drawdown_ms" json:"longest_drawdown_ms"`
	Trades              int            `gorm:"column:trades" json:"trades"`
	Params              datatypes.JSON `gorm:"column:params" json:"params,omitempty"`
	Summary             datatypes.JSON `gorm:"column:summary" json:"summary,omitempty"`
	CreatedAt           time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"column:updated_at" json:"updated_at"`
	CompletedAt         *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (RunModel) TableName() string { return "runs" }

type FillModel struct {
	ID               int64   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	RunID            string  `gorm:"column:run_id;index" json:"run_id"`
	Seq              int     `gorm:"column:seq" json:"seq"`
	Time             int64   `gorm:"column:time" json:"time"`
	Side             string  `gorm:"column:side" json:"side"`
	Quantity         float64 `gorm:"column:quantity" json:"quantity"`
	Price            float64 `gorm:"column:price" json:"price"`
	FixedCost        float64 `gorm:"column:fixed_cost" json:"fixed_cost"`
	ProportionalRate float64 `gorm:"column:proportional_rate" json:"proportional_rate"`
	Reason           string  `gorm:"column:reason" json:"reason"`
	OrderID          string  `gorm:"column:order_id" json:"order_id,omitempty"`
}

func (FillModel) TableName() string { return "run_fills" }

type ValuationModel struct {
	ID        int64   `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	RunID     string  `gorm:"column:run_id;index" json:"run_id"`
	Time      int64   `gorm:"column:time" json:"time"`
	NetWealth float64 `gorm:"column:net_wealth" json:"net_wealth"`
	Price     float64 `gorm:"column:price" json:"price"`
	Position  string  `gorm:"column:position" json:"position"`
}

func (ValuationModel) TableName() string { return "run_valuations" }

// ResultStore 使用 gorm + sqlite 保存运行结果。
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(path string) (*ResultStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("result store 路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&RunModel{}, &FillModel{}, &ValuationModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateRun 插入一条 pending 记录。params 会被序列化为 JSON。
func (s *ResultStore) CreateRun(ctx context.Context, run *RunModel, params any) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run id 不能为空")
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return err
		}
		run.Params = datatypes.JSON(raw)
	}
	if run.Status == "" {
		run.Status = RunStatusPending
	}
	return s.db.WithContext(ctx).Create(run).Error
}

func (s *ResultStore) UpdateRunStatus(ctx context.Context, id string, status RunStatus, message string) error {
	res := s.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", id).
		Updates(map[string]any{"status": status, "message": message, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// SaveResult 在一个事务内写入汇总、成交与估值序列，并将状态置为 done。
func (s *ResultStore) SaveResult(ctx context.Context, id string, res runner.Result) error {
	summary, err := json.Marshal(res.Summary)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		sum := res.Summary
		upd := tx.Model(&RunModel{}).Where("id = ?", id).Updates(map[string]any{
			"status":               RunStatusDone,
			"message":              "完成",
			"final_balance":        sum.FinalBalance,
			"net_performance":      sum.NetPerformance,
			"symbol_performance":   sum.SymbolPerformance,
			"relative_performance": sum.RelativePerformance,
			"max_drawdown":         sum.MaxDrawdown,
			"longest_drawdown_ms":  sum.LongestDrawdown.Milliseconds(),
			"trades":               sum.Trades,
			"summary":              datatypes.JSON(summary),
			"updated_at":           now,
			"completed_at":         now,
		})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return ErrRunNotFound
		}
		if err := tx.Where("run_id = ?", id).Delete(&FillModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id = ?", id).Delete(&ValuationModel{}).Error; err != nil {
			return err
		}
		if len(res.Fills) > 0 {
			fills := make([]FillModel, 0, len(res.Fills))
			for i, f := range res.Fills {
				fills = append(fills, FillModel{
					RunID:            id,
					Seq:              i,
					Time:             f.Time.UnixMilli(),
					Side:             f.Side.String(),
					Quantity:         f.Quantity,
					Price:            f.Price,
					FixedCost:        f.FixedCost,
					ProportionalRate: f.ProportionalRate,
					Reason:           f.Reason,
					OrderID:          f.OrderID,
				})
			}
			if err := tx.CreateInBatches(fills, 500).Error; err != nil {
				return err
			}
		}
		if len(res.Valuations) > 0 {
			vals := make([]ValuationModel, 0, len(res.Valuations))
			for i, v := range res.Valuations {
				m := ValuationModel{RunID: id, Time: v.Time.UnixMilli(), NetWealth: v.NetWealth, Position: v.Position.String()}
				if i < len(res.Prices) {
					m.Price = res.Prices[i]
				}
				vals = append(vals, m)
			}
			if err := tx.CreateInBatches(vals, 500).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *ResultStore) GetRun(ctx context.Context, id string) (RunModel, error) {
	var run RunModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RunModel{}, ErrRunNotFound
	}
	return run, err
}

func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]RunModel, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var runs []RunModel
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

func (s *ResultStore) ListFills(ctx context.Context, runID string) ([]FillModel, error) {
	var fills []FillModel
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("seq ASC").Find(&fills).Error
	return fills, err
}

func (s *ResultStore) ListValuations(ctx context.Context, runID string) ([]ValuationModel, error) {
	var vals []ValuationModel
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("time ASC").Find(&vals).Error
	return vals, err
}
