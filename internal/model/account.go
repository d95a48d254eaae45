package model

import (
	"time"
)

// Account 注意力点数账户表
// 记录每个 handle 的点数余额和每日收益计数，是离线账本的核心数据
type Account struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Handle      string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"handle"` // 账户标识（不透明句柄）
	Balance     int64     `gorm:"not null;default:0" json:"balance"`                   // 可用点数余额
	DailyEarned int64     `gorm:"not null;default:0" json:"daily_earned"`              // 当前24小时窗口内已赚取点数
	LastReset   time.Time `gorm:"not null" json:"last_reset"`                          // 收益计数上次清零时间
	Version     int       `gorm:"not null;default:0" json:"version"`                   // 乐观锁版本号
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

// CapWindowExpired 收益窗口是否已满24小时（满了就该清零重新计数）
func (a *Account) CapWindowExpired(now time.Time) bool {
	return now.Sub(a.LastReset) >= 24*time.Hour
}

// RemainingDailyCap 当前窗口内还能赚取多少点数
// 纯函数：只读实体字段，不碰任何全局状态，方便测试
func (a *Account) RemainingDailyCap(now time.Time, cap int64) int64 {
	if a.CapWindowExpired(now) {
		return cap
	}
	remaining := cap - a.DailyEarned
	if remaining < 0 {
		return 0
	}
	return remaining
}
