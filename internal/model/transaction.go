package model

import (
	"time"
)

// ============================================================================
// 点数流水
// ============================================================================

// 流水动因
const (
	ReasonSignupGrant       = "signup_grant"        // 注册赠点
	ReasonStake             = "stake"               // 开立债券质押（扣点）
	ReasonRefund            = "refund"              // 债券退还（不计收益）
	ReasonCompensation      = "compensation"        // 拒绝/超时补偿（计收益，受上限约束）
	ReasonCapOverflowRefund = "cap_overflow_refund" // 超出收益上限部分回退发件人（不计收益）
	ReasonReplyBonus        = "reply_bonus"         // 回复奖励（计收益）
)

// EarnedReason 该动因是否计入每日收益上限
// 退款类入账不算"赚取"，只有补偿和奖励才消耗每日额度
func EarnedReason(reason string) bool {
	return reason == ReasonCompensation || reason == ReasonReplyBonus
}

// AccountTransaction 点数流水表
// 记录账户的每一笔点数变动，是对账与幂等检查的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 每笔流水必须关联来源（邮件ID / 会话ID / 领取ID）—— 便于对账和去重
// 3. 记录变动前后余额 —— 便于校验余额一致性
type AccountTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	Handle        string    `gorm:"index;not null;type:varchar(64)" json:"handle"`
	Amount        int64     `gorm:"not null" json:"amount"` // 正数入账，负数出账
	Reason        string    `gorm:"type:varchar(32);not null" json:"reason"`
	RefID         string    `gorm:"type:varchar(128);index;not null" json:"ref_id"`
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AccountTransaction) TableName() string {
	return "account_transaction"
}
