package service

import (
	"fmt"
	"sync/atomic"
	"testing"

	"attnbond/internal/config"
	"attnbond/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq int64

// newTestDB 每个测试一个独立内存库，互不串数据
// 单连接既保住内存库生命周期，又让并发写入天然串行化
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:attnbond_test_%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
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

func accountBalance(t *testing.T, db *gorm.DB, handle string) int64 {
	t.Helper()
	var account model.Account
	require.NoError(t, db.Where("handle = ?", handle).First(&account).Error)
	return account.Balance
}

func transactionCount(t *testing.T, db *gorm.DB, handle, reason string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&model.AccountTransaction{}).
		Where("handle = ? AND reason = ?", handle, reason).
		Count(&count).Error)
	return count
}
