package service

import (
	"context"
	"fmt"
	"time"

	"attnbond/internal/config"
	"attnbond/internal/model"
	"attnbond/internal/repository"
	"attnbond/pkg/idgen"

	"gorm.io/gorm"
)

// BalanceService 点数账本：账户懒创建、扣点、入账、每日收益上限
//
// 扣点/入账只负责"按指令改余额并记流水"；上限怎么拆分（补多少、回退多少）
// 是结算引擎的决策，不在这一层做
type BalanceService struct {
	db              *gorm.DB
	cfg             *config.Config
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
}

func NewBalanceService(db *gorm.DB, cfg *config.Config) *BalanceService {
	return &BalanceService{
		db:              db,
		cfg:             cfg,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

// Ensure 获取账户，不存在则创建并发放注册赠点
// 幂等：并发调用只会有一次创建生效，赠点流水最多记一条
func (s *BalanceService) Ensure(ctx context.Context, handle string) (*model.Account, error) {
	var account *model.Account

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var created bool
		var err error
		account, created, err = s.accountRepo.GetOrCreate(ctx, tx, handle, s.cfg.Business.SignupGrant)
		if err != nil {
			return err
		}

		if created && s.cfg.Business.SignupGrant > 0 {
			trans := &model.AccountTransaction{
				TransactionNo: idgen.GenerateTransactionNo(),
				Handle:        handle,
				Amount:        s.cfg.Business.SignupGrant,
				Reason:        model.ReasonSignupGrant,
				RefID:         handle,
				BalanceBefore: 0,
				BalanceAfter:  s.cfg.Business.SignupGrant,
			}
			if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
				return fmt.Errorf("记录赠点流水失败: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return account, nil
}

func (s *BalanceService) GetAccount(ctx context.Context, handle string) (*model.Account, error) {
	return s.accountRepo.GetByHandle(ctx, handle)
}

// Debit 扣点并记流水，余额不足返回 ErrInsufficientFunds
// account 是调用方在同一把锁下读到的快照，版本号用于防并发改写
func (s *BalanceService) Debit(ctx context.Context, tx *gorm.DB, account *model.Account, amount int64, reason, refID string) error {
	if err := s.accountRepo.Deduct(ctx, tx, account.Handle, amount, account.Version); err != nil {
		return err
	}

	trans := &model.AccountTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		Handle:        account.Handle,
		Amount:        -amount,
		Reason:        reason,
		RefID:         refID,
		BalanceBefore: account.Balance,
		BalanceAfter:  account.Balance - amount,
	}
	return s.transactionRepo.Create(ctx, tx, trans)
}

// Credit 入账并记流水，永远成功（收款账户不存在时懒创建）
// 赚取类动因（补偿/奖励）会滚动24小时窗口并累加每日收益计数；
// 退款类动因不碰计数
func (s *BalanceService) Credit(ctx context.Context, tx *gorm.DB, handle string, amount int64, reason, refID string) error {
	account, err := s.lockAccount(ctx, tx, handle)
	if err != nil {
		return err
	}

	now := time.Now()
	if model.EarnedReason(reason) {
		dailyEarned := account.DailyEarned
		lastReset := account.LastReset
		if account.CapWindowExpired(now) {
			dailyEarned = 0
			lastReset = now
		}
		dailyEarned += amount

		if err := s.accountRepo.IncreaseEarned(ctx, tx, handle, amount, dailyEarned, lastReset); err != nil {
			return err
		}
	} else {
		if err := s.accountRepo.Increase(ctx, tx, handle, amount); err != nil {
			return err
		}
	}

	trans := &model.AccountTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		Handle:        handle,
		Amount:        amount,
		Reason:        reason,
		RefID:         refID,
		BalanceBefore: account.Balance,
		BalanceAfter:  account.Balance + amount,
	}
	return s.transactionRepo.Create(ctx, tx, trans)
}

// RemainingDailyCap 事务内带行锁读取账户，返回当前窗口剩余可赚取额度
// 行锁保证"算额度"和随后的 Credit 之间没有并发写入插队
func (s *BalanceService) RemainingDailyCap(ctx context.Context, tx *gorm.DB, handle string) (int64, error) {
	account, err := s.lockAccount(ctx, tx, handle)
	if err != nil {
		return 0, err
	}
	return account.RemainingDailyCap(time.Now(), s.cfg.Business.DailyEarnCap), nil
}

// lockAccount 行锁读取，账户不存在则懒创建（收款方可能还没注册）
func (s *BalanceService) lockAccount(ctx context.Context, tx *gorm.DB, handle string) (*model.Account, error) {
	account, err := s.accountRepo.GetByHandleForUpdate(ctx, tx, handle)
	if err == nil {
		return account, nil
	}
	if err != repository.ErrAccountNotFound {
		return nil, err
	}

	account, created, err := s.accountRepo.GetOrCreate(ctx, tx, handle, s.cfg.Business.SignupGrant)
	if err != nil {
		return nil, err
	}
	if created && s.cfg.Business.SignupGrant > 0 {
		trans := &model.AccountTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			Handle:        handle,
			Amount:        s.cfg.Business.SignupGrant,
			Reason:        model.ReasonSignupGrant,
			RefID:         handle,
			BalanceBefore: 0,
			BalanceAfter:  s.cfg.Business.SignupGrant,
		}
		if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
			return nil, err
		}
	}
	return s.accountRepo.GetByHandleForUpdate(ctx, tx, handle)
}

func (s *BalanceService) ListTransactions(ctx context.Context, handle string, page, pageSize int) ([]*model.AccountTransaction, int64, error) {
	return s.transactionRepo.ListByHandle(ctx, handle, page, pageSize)
}
