package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRemainingDailyCap(t *testing.T) {
	now := time.Now()

	// 窗口内正常累计
	account := &Account{DailyEarned: 150, LastReset: now.Add(-time.Hour)}
	assert.Equal(t, int64(50), account.RemainingDailyCap(now, 200))

	// 已到上限
	account = &Account{DailyEarned: 200, LastReset: now.Add(-time.Hour)}
	assert.Equal(t, int64(0), account.RemainingDailyCap(now, 200))

	// 计数超过上限（上限被调小过）也不能出现负额度
	account = &Account{DailyEarned: 250, LastReset: now.Add(-time.Hour)}
	assert.Equal(t, int64(0), account.RemainingDailyCap(now, 200))

	// 窗口满24小时：额度整体复位
	account = &Account{DailyEarned: 200, LastReset: now.Add(-25 * time.Hour)}
	assert.True(t, account.CapWindowExpired(now))
	assert.Equal(t, int64(200), account.RemainingDailyCap(now, 200))
}

func TestEarnedReason(t *testing.T) {
	assert.True(t, EarnedReason(ReasonCompensation))
	assert.True(t, EarnedReason(ReasonReplyBonus))

	// 退款类入账不消耗每日额度
	assert.False(t, EarnedReason(ReasonRefund))
	assert.False(t, EarnedReason(ReasonCapOverflowRefund))
	assert.False(t, EarnedReason(ReasonStake))
	assert.False(t, EarnedReason(ReasonSignupGrant))
}
