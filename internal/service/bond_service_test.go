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

const testSenderAddr = "0x1111111111111111111111111111111111111111"

func newBondService(t *testing.T) (*BondService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewBondService(db, nil, testConfig()), db
}

func openBond(t *testing.T, svc *BondService, messageID, sender, recipient string) *OpenBondResult {
	t.Helper()
	result, err := svc.OpenForMessage(context.Background(), &OpenBondRequest{
		MessageID:  messageID,
		Sender:     sender,
		Recipient:  recipient,
		SenderAddr: testSenderAddr,
	})
	require.NoError(t, err)
	return result
}

func TestOpenColdBondStakesPoints(t *testing.T) {
	svc, db := newBondService(t)

	result := openBond(t, svc, "msg-1", "alice", "bob")

	assert.True(t, result.Staked)
	assert.Equal(t, model.BondTierCold, result.Tier)
	require.NotNil(t, result.Bond)
	assert.Equal(t, int64(3), result.Bond.Amount)
	assert.Equal(t, model.BondStatusPending, result.Bond.Status)

	// 质押即时扣点
	assert.Equal(t, int64(47), accountBalance(t, db, "alice"))
	assert.Equal(t, int64(50), accountBalance(t, db, "bob"))
}

func TestReadRefundsSenderInFull(t *testing.T) {
	svc, db := newBondService(t)
	ctx := context.Background()

	openBond(t, svc, "msg-1", "alice", "bob")

	bond, err := svc.Resolve(ctx, "msg-1", model.BondOutcomeRead)
	require.NoError(t, err)
	assert.Equal(t, model.BondStatusRefunded, bond.Status)

	// 全额退还，收件人不变
	assert.Equal(t, int64(50), accountBalance(t, db, "alice"))
	assert.Equal(t, int64(50), accountBalance(t, db, "bob"))

	// 退款不计入每日收益
	var alice model.Account
	require.NoError(t, db.Where("handle = ?", "alice").First(&alice).Error)
	assert.Equal(t, int64(0), alice.DailyEarned)

	// 结算事件随事务落发件箱
	var count int64
	require.NoError(t, db.Model(&model.OutboxMessage{}).
		Where("message_key = ? AND topic = ?", "msg-1", "test.bond.settled").
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRejectCompensatesRecipient(t *testing.T) {
	svc, db := newBondService(t)
	ctx := context.Background()

	openBond(t, svc, "msg-1", "alice", "bob")

	bond, err := svc.Resolve(ctx, "msg-1", model.BondOutcomeRejected)
	require.NoError(t, err)
	assert.Equal(t, model.BondStatusTransferred, bond.Status)

	assert.Equal(t, int64(47), accountBalance(t, db, "alice"))
	assert.Equal(t, int64(53), accountBalance(t, db, "bob"))

	var bob model.Account
	require.NoError(t, db.Where("handle = ?", "bob").First(&bob).Error)
	assert.Equal(t, int64(3), bob.DailyEarned)
}

func TestRejectCapOverflowRefundsSender(t *testing.T) {
	svc, db := newBondService(t)
	ctx := context.Background()

	openBond(t, svc, "msg-1", "alice", "bob")

	// 收件人本窗口只剩 1 点可赚
	require.NoError(t, db.Model(&model.Account{}).Where("handle = ?", "bob").
		Updates(map[string]interface{}{
			"daily_earned": int64(199),
			"last_reset":   time.Now(),
		}).Error)

	_, err := svc.Resolve(ctx, "msg-1", model.BondOutcomeRejected)
	require.NoError(t, err)

	// 补 1，超出的 2 回退发件人，点数守恒
	assert.Equal(t, int64(49), accountBalance(t, db, "alice"))
	assert.Equal(t, int64(51), accountBalance(t, db, "bob"))

	var bob model.Account
	require.NoError(t, db.Where("handle = ?", "bob").First(&bob).Error)
	assert.Equal(t, int64(200), bob.DailyEarned)

	var overflow model.AccountTransaction
	require.NoError(t, db.Where("handle = ? AND reason = ?", "alice", model.ReasonCapOverflowRefund).
		First(&overflow).Error)
	assert.Equal(t, int64(2), overflow.Amount)
}

func TestResolveIsIdempotent(t *testing.T) {
	svc, db := newBondService(t)
	ctx := context.Background()

	openBond(t, svc, "msg-1", "alice", "bob")

	_, err := svc.Resolve(ctx, "msg-1", model.BondOutcomeRead)
	require.NoError(t, err)

	// 第二次结算（哪怕换了动因）必须拿到已结算错误，余额一动不动
	_, err = svc.Resolve(ctx, "msg-1", model.BondOutcomeRejected)
	require.ErrorIs(t, err, repository.ErrAlreadySettled)

	assert.Equal(t, int64(50), accountBalance(t, db, "alice"))
	assert.Equal(t, int64(50), accountBalance(t, db, "bob"))
}

func TestOpenDuplicateMessageRejected(t *testing.T) {
	svc, _ := newBondService(t)
	ctx := context.Background()

	openBond(t, svc, "msg-1", "alice", "bob")

	_, err := svc.OpenForMessage(ctx, &OpenBondRequest{
		MessageID:  "msg-1",
		Sender:     "alice",
		Recipient:  "carol",
		SenderAddr: testSenderAddr,
	})
	require.ErrorIs(t, err, repository.ErrDuplicateBond)
}

func TestInsufficientBalanceDowngradesToZeroStake(t *testing.T) {
	svc, db := newBondService(t)
	ctx := context.Background()

	_, err := svc.balanceService.Ensure(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, db.Model(&model.Account{}).Where("handle = ?", "alice").
		Update("balance", int64(2)).Error)

	// 扣不起也不能拦住发送：降级为零质押
	result, err := svc.OpenForMessage(ctx, &OpenBondRequest{
		MessageID:  "msg-1",
		Sender:     "alice",
		Recipient:  "bob",
		SenderAddr: testSenderAddr,
	})
	require.NoError(t, err)

	assert.False(t, result.Staked)
	assert.Equal(t, model.BondTierZero, result.Tier)
	assert.Equal(t, SkipReasonInsufficient, result.SkipReason)
	require.NotNil(t, result.Bond)
	assert.Equal(t, int64(0), result.Bond.Amount)
	assert.Equal(t, model.BondStatusRefunded, result.Bond.Status)

	assert.Equal(t, int64(2), accountBalance(t, db, "alice"))
	assert.Equal(t, int64(0), transactionCount(t, db, "alice", model.ReasonStake))
}

func TestNoSpendableAccountSkipsStaking(t *testing.T) {
	svc, db := newBondService(t)
	ctx := context.Background()

	result, err := svc.OpenForMessage(ctx, &OpenBondRequest{
		MessageID: "msg-1",
		Sender:    "alice",
		Recipient: "bob",
	})
	require.NoError(t, err)

	assert.False(t, result.Staked)
	assert.Equal(t, SkipReasonNoAccount, result.SkipReason)
	assert.Nil(t, result.Bond)

	// 整个质押机制跳过：不建账户也不落债券
	var accounts, bonds int64
	require.NoError(t, db.Model(&model.Account{}).Count(&accounts).Error)
	require.NoError(t, db.Model(&model.Bond{}).Count(&bonds).Error)
	assert.Equal(t, int64(0), accounts)
	assert.Equal(t, int64(0), bonds)
}

func TestSelfSendNeverStakes(t *testing.T) {
	svc, _ := newBondService(t)
	ctx := context.Background()

	result, err := svc.OpenForMessage(ctx, &OpenBondRequest{
		MessageID:  "msg-1",
		Sender:     "alice",
		Recipient:  "alice",
		SenderAddr: testSenderAddr,
	})
	require.NoError(t, err)

	assert.False(t, result.Staked)
	assert.Equal(t, model.BondTierSelf, result.Tier)
	assert.Equal(t, SkipReasonSelfSend, result.SkipReason)
	require.NotNil(t, result.Bond)
	assert.Equal(t, int64(0), result.Bond.Amount)
	assert.Equal(t, model.BondStatusRefunded, result.Bond.Status)
}

func TestContactListGetsReplyTier(t *testing.T) {
	svc, db := newBondService(t)
	ctx := context.Background()

	require.NoError(t, svc.AddContact(ctx, "alice", "bob"))

	result := openBond(t, svc, "msg-1", "alice", "bob")
	assert.Equal(t, model.BondTierReply, result.Tier)
	assert.Equal(t, int64(1), result.Bond.Amount)
	assert.Equal(t, int64(49), accountBalance(t, db, "alice"))
}

func TestPriorInboundGetsReplyTier(t *testing.T) {
	svc, _ := newBondService(t)

	// 对方先发起过会话：回头的邮件按会话档质押
	openBond(t, svc, "msg-a", "bob", "alice")

	result := openBond(t, svc, "msg-b", "alice", "bob")
	assert.Equal(t, model.BondTierReply, result.Tier)
	assert.Equal(t, int64(1), result.Bond.Amount)
}

func TestReplyBonusGrantsBothSides(t *testing.T) {
	svc, db := newBondService(t)
	ctx := context.Background()

	require.NoError(t, svc.ReplyBonus(ctx, "thread-1", "alice", "bob"))

	assert.Equal(t, int64(52), accountBalance(t, db, "alice"))
	assert.Equal(t, int64(52), accountBalance(t, db, "bob"))

	var alice model.Account
	require.NoError(t, db.Where("handle = ?", "alice").First(&alice).Error)
	assert.Equal(t, int64(2), alice.DailyEarned)
}

func TestReplyBonusDeduplicatesByThread(t *testing.T) {
	svc, db := newBondService(t)
	ctx := context.Background()

	require.NoError(t, svc.ReplyBonus(ctx, "thread-1", "alice", "bob"))

	err := svc.ReplyBonus(ctx, "thread-1", "alice", "bob")
	require.ErrorIs(t, err, repository.ErrAlreadySettled)

	assert.Equal(t, int64(52), accountBalance(t, db, "alice"))
	assert.Equal(t, int64(52), accountBalance(t, db, "bob"))
}

func TestReplyBonusDedupSurvivesWindowReset(t *testing.T) {
	svc, db := newBondService(t)
	ctx := context.Background()

	for _, handle := range []string{"alice", "bob"} {
		_, err := svc.balanceService.Ensure(ctx, handle)
		require.NoError(t, err)
	}

	// 双方都顶着上限：奖励被完全截断，但零额流水要落下当去重标记
	require.NoError(t, db.Model(&model.Account{}).
		Where("handle IN ?", []string{"alice", "bob"}).
		Updates(map[string]interface{}{
			"daily_earned": int64(200),
			"last_reset":   time.Now(),
		}).Error)

	require.NoError(t, svc.ReplyBonus(ctx, "thread-1", "alice", "bob"))
	assert.Equal(t, int64(50), accountBalance(t, db, "alice"))
	assert.Equal(t, int64(50), accountBalance(t, db, "bob"))
	assert.Equal(t, int64(1), transactionCount(t, db, "alice", model.ReasonReplyBonus))

	// 窗口复位后同一会话再领：照样拦截，不能二次发放
	require.NoError(t, db.Model(&model.Account{}).
		Where("handle IN ?", []string{"alice", "bob"}).
		Update("last_reset", time.Now().Add(-25*time.Hour)).Error)

	err := svc.ReplyBonus(ctx, "thread-1", "alice", "bob")
	require.ErrorIs(t, err, repository.ErrAlreadySettled)
	assert.Equal(t, int64(50), accountBalance(t, db, "alice"))
	assert.Equal(t, int64(50), accountBalance(t, db, "bob"))
}

func TestReplyBonusClippedAtDailyCap(t *testing.T) {
	svc, db := newBondService(t)
	ctx := context.Background()

	_, err := svc.balanceService.Ensure(ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, db.Model(&model.Account{}).Where("handle = ?", "bob").
		Updates(map[string]interface{}{
			"daily_earned": int64(199),
			"last_reset":   time.Now(),
		}).Error)

	require.NoError(t, svc.ReplyBonus(ctx, "thread-1", "alice", "bob"))

	// 奖励是增发，超限部分直接截断不补偿
	assert.Equal(t, int64(52), accountBalance(t, db, "alice"))
	assert.Equal(t, int64(51), accountBalance(t, db, "bob"))
}
