package model

import (
	"time"
)

// Contact 白名单联系人
// 在发件人白名单里的收件人按"已有会话"档位质押
type Contact struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Owner     string    `gorm:"type:varchar(64);uniqueIndex:idx_owner_contact;not null" json:"owner"`
	Handle    string    `gorm:"type:varchar(64);uniqueIndex:idx_owner_contact;not null" json:"handle"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Contact) TableName() string {
	return "contact"
}
