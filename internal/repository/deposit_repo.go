package repository

import (
	"context"
	"errors"
	"time"

	"attnbond/internal/model"

	"gorm.io/gorm"
)

var (
	ErrDepositNotFound = errors.New("保证金记录不存在")
	ErrDuplicateClaim  = errors.New("该领取ID已存在保证金记录")
)

type DepositRepository struct {
	db *gorm.DB
}

func NewDepositRepository(db *gorm.DB) *DepositRepository {
	return &DepositRepository{db: db}
}

func (r *DepositRepository) Create(ctx context.Context, tx *gorm.DB, deposit *model.Deposit) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(deposit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateClaim
		}
		return err
	}
	return nil
}

func (r *DepositRepository) GetByClaimID(ctx context.Context, claimID string) (*model.Deposit, error) {
	var deposit model.Deposit
	err := r.db.WithContext(ctx).Where("claim_id = ?", claimID).First(&deposit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDepositNotFound
		}
		return nil, err
	}
	return &deposit, nil
}

// MarkClaimed 条件落库领取结果：PENDING -> CLAIMED，同时持久化领取人和结算交易哈希
// 只在链上 release 确认成功之后调用；两个并发领取只有一个能翻状态
func (r *DepositRepository) MarkClaimed(ctx context.Context, tx *gorm.DB, claimID, claimerRef, settlementRef string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Deposit{}).
		Where("claim_id = ? AND status = ?", claimID, model.DepositStatusPending).
		Updates(map[string]interface{}{
			"status":         model.DepositStatusClaimed,
			"claimer_ref":    claimerRef,
			"settlement_ref": settlementRef,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAlreadySettled
	}

	return nil
}

// ReconcileClaimed 镜像修复：链上 release 已确认成功，但本地行在等待确认的
// 几十秒里被清扫任务标成了 EXPIRED。链上是保证金结算的唯一事实来源，本地行
// 只是缓存，这里把过期标记覆盖为 CLAIMED 并补上结算交易哈希
func (r *DepositRepository) ReconcileClaimed(ctx context.Context, tx *gorm.DB, claimID, claimerRef, settlementRef string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Deposit{}).
		Where("claim_id = ? AND status = ?", claimID, model.DepositStatusExpired).
		Updates(map[string]interface{}{
			"status":         model.DepositStatusClaimed,
			"claimer_ref":    claimerRef,
			"settlement_ref": settlementRef,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAlreadySettled
	}

	return nil
}

// MarkExpired 条件标记过期：PENDING -> EXPIRED，仅本地镜像，不触发任何链上操作
func (r *DepositRepository) MarkExpired(ctx context.Context, tx *gorm.DB, claimID string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Deposit{}).
		Where("claim_id = ? AND status = ?", claimID, model.DepositStatusPending).
		Update("status", model.DepositStatusExpired)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAlreadySettled
	}

	return nil
}

// GetExpiredPending 查询已过期但仍未结算的保证金
func (r *DepositRepository) GetExpiredPending(ctx context.Context, now time.Time, limit int) ([]*model.Deposit, error) {
	var deposits []*model.Deposit
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", model.DepositStatusPending, now).
		Limit(limit).
		Find(&deposits).Error
	return deposits, err
}
