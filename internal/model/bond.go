package model

import (
	"time"
)

// ============================================================================
// 注意力债券（离线点数质押）
// ============================================================================
//
// 一封外发邮件对应一张债券：发件人先质押点数，收件人在响应窗口内的行为
// 决定质押的去向：
//
//   PENDING ──阅读──> REFUNDED     （全额退还发件人）
//   PENDING ──拒绝──> TRANSFERRED  （补偿收件人，受每日上限约束）
//   PENDING ──超时──> EXPIRED      （同拒绝，由清扫任务触发）
//
// 终态不可再变更，所有状态流转必须走条件更新（WHERE status = PENDING）。
// ============================================================================

const (
	BondStatusPending     = "PENDING"
	BondStatusRefunded    = "REFUNDED"
	BondStatusTransferred = "TRANSFERRED"
	BondStatusExpired     = "EXPIRED"
)

var validBondTransitions = map[string][]string{
	BondStatusPending: {BondStatusRefunded, BondStatusTransferred, BondStatusExpired},
}

// BondCanTransitionTo 校验债券状态流转是否合法
func BondCanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := validBondTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// 质押档位
const (
	BondTierSelf  = "SELF"  // 自己发给自己，不质押
	BondTierReply = "REPLY" // 已有会话或白名单，小额质押
	BondTierCold  = "COLD"  // 陌生人首封，大额质押
	BondTierZero  = "ZERO"  // 余额不足降级为零质押
)

// 结算动因
const (
	BondOutcomeRead     = "READ"     // 收件人阅读
	BondOutcomeRejected = "REJECTED" // 收件人明确拒绝
	BondOutcomeTimeout  = "TIMEOUT"  // 响应窗口超时
)

// Bond 注意力债券表
type Bond struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	BondNo    string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"bond_no"`
	MessageID string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"message_id"` // 一封邮件最多一张债券
	Sender    string    `gorm:"type:varchar(64);index;not null" json:"sender"`
	Recipient string    `gorm:"type:varchar(64);index;not null" json:"recipient"`
	Amount    int64     `gorm:"not null" json:"amount"`
	Tier      string    `gorm:"type:varchar(16);not null" json:"tier"`
	Status    string    `gorm:"type:varchar(20);index;not null" json:"status"`
	Deadline  time.Time `gorm:"not null;index" json:"deadline"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Bond) TableName() string {
	return "bond"
}
