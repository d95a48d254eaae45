package service

import (
	"context"
	"testing"
	"time"

	"attnbond/internal/model"
	"attnbond/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestEnsureGrantsSignupOnce(t *testing.T) {
	db := newTestDB(t)
	svc := NewBalanceService(db, testConfig())
	ctx := context.Background()

	account, err := svc.Ensure(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50), account.Balance)

	// 再次 Ensure 不重复赠点
	account, err = svc.Ensure(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50), account.Balance)
	assert.Equal(t, int64(1), transactionCount(t, db, "alice", model.ReasonSignupGrant))
}

func TestDebitInsufficientFunds(t *testing.T) {
	db := newTestDB(t)
	svc := NewBalanceService(db, testConfig())
	ctx := context.Background()

	account, err := svc.Ensure(ctx, "alice")
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.Debit(ctx, tx, account, 100, model.ReasonStake, "msg-over")
	})
	require.ErrorIs(t, err, repository.ErrInsufficientFunds)

	// 余额原样，没有半截流水
	assert.Equal(t, int64(50), accountBalance(t, db, "alice"))
	assert.Equal(t, int64(0), transactionCount(t, db, "alice", model.ReasonStake))
}

func TestDebitRecordsTransaction(t *testing.T) {
	db := newTestDB(t)
	svc := NewBalanceService(db, testConfig())
	ctx := context.Background()

	account, err := svc.Ensure(ctx, "alice")
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.Debit(ctx, tx, account, 3, model.ReasonStake, "msg-1")
	})
	require.NoError(t, err)

	assert.Equal(t, int64(47), accountBalance(t, db, "alice"))

	var trans model.AccountTransaction
	require.NoError(t, db.Where("handle = ? AND reason = ?", "alice", model.ReasonStake).First(&trans).Error)
	assert.Equal(t, int64(-3), trans.Amount)
	assert.Equal(t, int64(50), trans.BalanceBefore)
	assert.Equal(t, int64(47), trans.BalanceAfter)
	assert.Equal(t, "msg-1", trans.RefID)
}

func TestCreditEarnedRollsWindow(t *testing.T) {
	db := newTestDB(t)
	svc := NewBalanceService(db, testConfig())
	ctx := context.Background()

	_, err := svc.Ensure(ctx, "bob")
	require.NoError(t, err)

	// 窗口已满24小时：收益计数应清零后重新累计
	require.NoError(t, db.Model(&model.Account{}).Where("handle = ?", "bob").
		Updates(map[string]interface{}{
			"daily_earned": int64(150),
			"last_reset":   time.Now().Add(-25 * time.Hour),
		}).Error)

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.Credit(ctx, tx, "bob", 10, model.ReasonCompensation, "msg-2")
	})
	require.NoError(t, err)

	var account model.Account
	require.NoError(t, db.Where("handle = ?", "bob").First(&account).Error)
	assert.Equal(t, int64(60), account.Balance)
	assert.Equal(t, int64(10), account.DailyEarned)
}

func TestCreditRefundSkipsEarnCounter(t *testing.T) {
	db := newTestDB(t)
	svc := NewBalanceService(db, testConfig())
	ctx := context.Background()

	_, err := svc.Ensure(ctx, "alice")
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.Credit(ctx, tx, "alice", 5, model.ReasonRefund, "msg-3")
	})
	require.NoError(t, err)

	var account model.Account
	require.NoError(t, db.Where("handle = ?", "alice").First(&account).Error)
	assert.Equal(t, int64(55), account.Balance)
	assert.Equal(t, int64(0), account.DailyEarned)
}

func TestCreditLazyCreatesRecipient(t *testing.T) {
	db := newTestDB(t)
	svc := NewBalanceService(db, testConfig())
	ctx := context.Background()

	// 收款方还没注册：入账时懒创建并发注册赠点
	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Credit(ctx, tx, "carol", 3, model.ReasonCompensation, "msg-4")
	})
	require.NoError(t, err)

	var account model.Account
	require.NoError(t, db.Where("handle = ?", "carol").First(&account).Error)
	assert.Equal(t, int64(53), account.Balance)
	assert.Equal(t, int64(3), account.DailyEarned)
	assert.Equal(t, int64(1), transactionCount(t, db, "carol", model.ReasonSignupGrant))
}
