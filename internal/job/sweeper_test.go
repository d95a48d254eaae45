package job

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"attnbond/internal/config"
	"attnbond/internal/model"
	"attnbond/internal/service"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:attnbond_sweep_test_%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.Account{},
		&model.Bond{},
		&model.Deposit{},
		&model.AccountTransaction{},
		&model.OutboxMessage{},
		&model.Contact{},
	))

	return db
}

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				BondSettled: "test.bond.settled",
				ClaimResult: "test.claim.result",
			},
		},
		Business: config.BusinessConfig{
			SignupGrant:           50,
			ColdStake:             3,
			ReplyStake:            1,
			ReplyBonus:            2,
			DailyEarnCap:          200,
			ResponseWindowMinutes: 4320,
			SweepIntervalSeconds:  60,
			SweepBatchSize:        100,
			MaxRetryCount:         3,
		},
	}
}

func newSweeperFixture(t *testing.T) (*ExpirySweeper, *service.BondService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	cfg := testConfig()
	bondService := service.NewBondService(db, nil, cfg)
	return NewExpirySweeper(db, bondService, cfg), bondService, db
}

func openStakedBond(t *testing.T, svc *service.BondService, messageID, sender, recipient string) {
	t.Helper()
	result, err := svc.OpenForMessage(context.Background(), &service.OpenBondRequest{
		MessageID:  messageID,
		Sender:     sender,
		Recipient:  recipient,
		SenderAddr: "0x1111111111111111111111111111111111111111",
	})
	require.NoError(t, err)
	require.True(t, result.Staked)
}

func TestSweepSettlesExpiredBonds(t *testing.T) {
	sweeper, bondService, db := newSweeperFixture(t)
	ctx := context.Background()

	openStakedBond(t, bondService, "msg-1", "alice", "bob")

	// 把债券拨回到响应窗口之前
	require.NoError(t, db.Model(&model.Bond{}).Where("message_id = ?", "msg-1").
		Update("deadline", time.Now().Add(-time.Minute)).Error)

	bonds, deposits := sweeper.SweepOnce(ctx)
	assert.Equal(t, 1, bonds)
	assert.Equal(t, 0, deposits)

	bond, err := bondService.GetBond(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, model.BondStatusExpired, bond.Status)

	// 超时和拒绝走同一套守恒逻辑：补偿收件人
	var bob model.Account
	require.NoError(t, db.Where("handle = ?", "bob").First(&bob).Error)
	assert.Equal(t, int64(53), bob.Balance)
	assert.Equal(t, int64(3), bob.DailyEarned)
}

func TestSweepIsIdempotent(t *testing.T) {
	sweeper, bondService, db := newSweeperFixture(t)
	ctx := context.Background()

	openStakedBond(t, bondService, "msg-1", "alice", "bob")
	require.NoError(t, db.Model(&model.Bond{}).Where("message_id = ?", "msg-1").
		Update("deadline", time.Now().Add(-time.Minute)).Error)

	bonds, _ := sweeper.SweepOnce(ctx)
	require.Equal(t, 1, bonds)

	// 第二轮清扫无事发生，余额不再变动
	bonds, deposits := sweeper.SweepOnce(ctx)
	assert.Equal(t, 0, bonds)
	assert.Equal(t, 0, deposits)

	var bob model.Account
	require.NoError(t, db.Where("handle = ?", "bob").First(&bob).Error)
	assert.Equal(t, int64(53), bob.Balance)
}

func TestSweepMarksExpiredDeposits(t *testing.T) {
	sweeper, _, db := newSweeperFixture(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.Deposit{
		ClaimNo:      "CLMTEST00000001",
		ClaimID:      "0x00000000000000000000000000000000000000000000000000000000000000aa",
		Sender:       "0x1111111111111111111111111111111111111111",
		RecipientRef: "bob@example.com",
		Amount:       "1000000000000000000",
		Currency:     "ETH",
		Status:       model.DepositStatusPending,
		ExpiresAt:    time.Now().Add(-time.Minute),
	}).Error)

	bonds, deposits := sweeper.SweepOnce(ctx)
	assert.Equal(t, 0, bonds)
	assert.Equal(t, 1, deposits)

	// 只做本地标记，链上退款走独立流程
	var deposit model.Deposit
	require.NoError(t, db.Where("claim_no = ?", "CLMTEST00000001").First(&deposit).Error)
	assert.Equal(t, model.DepositStatusExpired, deposit.Status)

	bonds, deposits = sweeper.SweepOnce(ctx)
	assert.Equal(t, 0, bonds)
	assert.Equal(t, 0, deposits)
}

func TestSweepLeavesUnexpiredAlone(t *testing.T) {
	sweeper, bondService, db := newSweeperFixture(t)
	ctx := context.Background()

	openStakedBond(t, bondService, "msg-1", "alice", "bob")

	bonds, deposits := sweeper.SweepOnce(ctx)
	assert.Equal(t, 0, bonds)
	assert.Equal(t, 0, deposits)

	bond, err := bondService.GetBond(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, model.BondStatusPending, bond.Status)

	var alice model.Account
	require.NoError(t, db.Where("handle = ?", "alice").First(&alice).Error)
	assert.Equal(t, int64(47), alice.Balance)
}
