package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"countryball/internal/store"
)

// ExchangePlan 描述一次待执行的双向交换。
type ExchangePlan struct {
	SessionID string
	Scope     string
	PartyA    int64
	PartyB    int64
	FromA     []int64 // A 交给 B
	FromB     []int64 // B 交给 A
}

// Result 为执行结果摘要。
type Result struct {
	TradeID       int64
	Transfers     []store.Transfer
	Executed      bool
	ExecutionTime time.Time
	Notes         []string
}

// Executor 在单个事务内完成所有权交换。
type Executor struct {
	store  ResourceStore
	logger *zap.Logger
	now    func() time.Time
}

// NewExecutor 创建执行器。
func NewExecutor(s ResourceStore, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		store:  s,
		logger: logger,
		now:    time.Now,
	}
}

// Execute 校验锁、交换所有权、释放锁并写入审计记录；任一步失败则整体回滚。
func (e *Executor) Execute(ctx context.Context, plan ExchangePlan) (Result, error) {
	result := Result{
		ExecutionTime: e.now().UTC(),
		Notes:         make([]string, 0),
	}

	transfers, err := buildTransfers(plan)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}

	if len(transfers) == 0 {
		result.Executed = true
		result.Notes = append(result.Notes, "双方提案均为空，无需交换")
		return result, nil
	}

	var tradeID int64
	err = e.store.WithTransaction(ctx, func(tx store.ResourceTx) error {
		loaded := make([]store.Resource, 0, len(transfers))
		for _, tr := range transfers {
			res, err := tx.Get(ctx, tr.ResourceID)
			if err != nil {
				return fmt.Errorf("读取球实例 %d 失败: %w", tr.ResourceID, err)
			}
			if res.LockedBy != plan.SessionID {
				return fmt.Errorf("球实例 %d 未被会话 %s 锁定 (locked_by=%q)", res.ID, plan.SessionID, res.LockedBy)
			}
			if res.OwnerID != tr.From {
				return fmt.Errorf("球实例 %d 的所有者已变更为 %d", res.ID, res.OwnerID)
			}
			loaded = append(loaded, res)
		}

		for i, res := range loaded {
			res.PreviousOwnerID = res.OwnerID
			res.OwnerID = transfers[i].To
			res.LockedBy = ""
			res.LockedAt = time.Time{}
			if err := tx.Save(ctx, res); err != nil {
				return fmt.Errorf("写入球实例 %d 失败: %w", res.ID, err)
			}
		}

		id, err := tx.RecordExchange(ctx, store.ExchangeRecord{
			SessionID:   plan.SessionID,
			Scope:       plan.Scope,
			PlayerA:     plan.PartyA,
			PlayerB:     plan.PartyB,
			CompletedAt: result.ExecutionTime,
			Transfers:   transfers,
		})
		if err != nil {
			return err
		}
		tradeID = id
		return nil
	})
	if err != nil {
		e.logger.Error("交换执行失败，事务已回滚",
			zap.String("session_id", plan.SessionID),
			zap.Int("transfers", len(transfers)),
			zap.Error(err),
		)
		result.Notes = append(result.Notes, fmt.Sprintf("交换失败: %v", err))
		return result, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}

	result.TradeID = tradeID
	result.Transfers = transfers
	result.Executed = true
	return result, nil
}

func buildTransfers(plan ExchangePlan) ([]store.Transfer, error) {
	if plan.PartyA == plan.PartyB {
		return nil, errors.New("交换双方不能相同")
	}

	seen := make(map[int64]struct{}, len(plan.FromA)+len(plan.FromB))
	transfers := make([]store.Transfer, 0, len(plan.FromA)+len(plan.FromB))
	add := func(ids []int64, from, to int64) error {
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				return fmt.Errorf("球实例 %d 在提案中重复出现", id)
			}
			seen[id] = struct{}{}
			transfers = append(transfers, store.Transfer{ResourceID: id, From: from, To: to})
		}
		return nil
	}

	if err := add(plan.FromA, plan.PartyA, plan.PartyB); err != nil {
		return nil, err
	}
	if err := add(plan.FromB, plan.PartyB, plan.PartyA); err != nil {
		return nil, err
	}
	return transfers, nil
}
