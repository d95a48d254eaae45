package repository

import (
	"context"
	"errors"
	"time"

	"attnbond/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound   = errors.New("账户不存在")
	ErrInsufficientFunds = errors.New("点数余额不足")
	ErrOptimisticLock    = errors.New("乐观锁冲突，请重试")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByHandle(ctx context.Context, handle string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("handle = ?", handle).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByHandleForUpdate 行锁读取，用于事务内"读余额-算上限-写回"不被并发打断
// sqlite 不支持 FOR UPDATE 语法（单测环境写入本身串行），只对 mysql 加锁子句
func (r *AccountRepository) GetByHandleForUpdate(ctx context.Context, tx *gorm.DB, handle string) (*model.Account, error) {
	query := tx.WithContext(ctx)
	if tx.Dialector.Name() == "mysql" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var account model.Account
	err := query.
		Where("handle = ?", handle).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetOrCreate 懒创建账户，首次创建时带注册赠点
// 返回值第二项表示本次调用是否真的创建了新行（用于决定要不要记赠点流水）
func (r *AccountRepository) GetOrCreate(ctx context.Context, tx *gorm.DB, handle string, signupGrant int64) (*model.Account, bool, error) {
	if tx == nil {
		tx = r.db
	}

	newAccount := &model.Account{
		Handle:    handle,
		Balance:   signupGrant,
		LastReset: time.Now(),
	}

	// OnConflict DoNothing：并发创建同一账户时只有一个 INSERT 生效，
	// RowsAffected 告诉我们赢家是不是自己
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "handle"}},
			DoNothing: true,
		}).
		Create(newAccount)
	if result.Error != nil {
		return nil, false, result.Error
	}

	created := result.RowsAffected > 0

	var account model.Account
	err := tx.WithContext(ctx).Where("handle = ?", handle).First(&account).Error
	if err != nil {
		return nil, false, err
	}
	return &account, created, nil
}

// Deduct 条件扣点：balance >= amount 且版本号匹配才会生效
// RowsAffected == 0 时区分"余额不足"和"版本冲突"两种失败
func (r *AccountRepository) Deduct(ctx context.Context, tx *gorm.DB, handle string, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("handle = ? AND balance >= ? AND version = ?", handle, amount, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		account, err := r.GetByHandle(ctx, handle)
		if err != nil {
			return err
		}
		if account.Balance < amount {
			return ErrInsufficientFunds
		}
		return ErrOptimisticLock
	}

	return nil
}

// Increase 入账（退款类），不动每日收益计数
func (r *AccountRepository) Increase(ctx context.Context, tx *gorm.DB, handle string, amount int64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("handle = ?", handle).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// IncreaseEarned 入账（赚取类），同时写回每日收益计数和窗口起点
// 调用方必须先持有该行的行锁（GetByHandleForUpdate）再计算 dailyEarned/lastReset
func (r *AccountRepository) IncreaseEarned(ctx context.Context, tx *gorm.DB, handle string, amount, dailyEarned int64, lastReset time.Time) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("handle = ?", handle).
		Updates(map[string]interface{}{
			"balance":      gorm.Expr("balance + ?", amount),
			"daily_earned": dailyEarned,
			"last_reset":   lastReset,
			"version":      gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}
