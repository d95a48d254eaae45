package model

import (
	"time"
)

// ============================================================================
// 链上保证金（真实货币托管）
// ============================================================================
//
// 保证金的权威记录在链上托管合约里，本地行只是缓存 + 审计痕迹：
//
//   PENDING ──领取成功──> CLAIMED （合约 release 确认成功后才允许落库）
//   PENDING ──过期─────> EXPIRED （仅本地标记，链上退款走独立人工流程）
//
// 【关键约束】本地状态永远不能先于链上事实写成 CLAIMED。
// 合约自身保证单次释放，所以重试是天然幂等的。
// ============================================================================

const (
	DepositStatusPending = "PENDING"
	DepositStatusClaimed = "CLAIMED"
	DepositStatusExpired = "EXPIRED"
)

var validDepositTransitions = map[string][]string{
	DepositStatusPending: {DepositStatusClaimed, DepositStatusExpired},
}

// DepositCanTransitionTo 校验保证金状态流转是否合法
func DepositCanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := validDepositTransitions[currentStatus]
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

// Deposit 链上保证金镜像表
type Deposit struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ClaimNo       string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"claim_no"`
	ClaimID       string    `gorm:"type:varchar(66);uniqueIndex;not null" json:"claim_id"` // keccak256(领取令牌)，0x 前缀十六进制
	Sender        string    `gorm:"type:varchar(42);index;not null" json:"sender"`         // 存入方链上地址
	RecipientRef  string    `gorm:"type:varchar(128);not null" json:"recipient_ref"`       // 预期领取人（地址或邮箱）
	Amount        string    `gorm:"type:varchar(78);not null" json:"amount"`               // 十进制字符串，避免精度丢失
	Currency      string    `gorm:"type:varchar(16);not null" json:"currency"`
	Status        string    `gorm:"type:varchar(20);index;not null" json:"status"`
	ExpiresAt     time.Time `gorm:"not null;index" json:"expires_at"`
	DepositTxRef  string    `gorm:"type:varchar(66)" json:"deposit_tx_ref"`    // 存入交易哈希（外部流程产生）
	ClaimerRef    string    `gorm:"type:varchar(42)" json:"claimer_ref"`       // 实际领取人地址
	SettlementRef string    `gorm:"type:varchar(66)" json:"settlement_ref"`    // release 交易哈希
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Deposit) TableName() string {
	return "deposit"
}
