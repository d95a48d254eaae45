package repository

import (
	"context"
	"errors"
	"time"

	"attnbond/internal/model"

	"gorm.io/gorm"
)

var (
	ErrBondNotFound   = errors.New("债券不存在")
	ErrDuplicateBond  = errors.New("该邮件已存在债券")
	ErrAlreadySettled = errors.New("已结算，请勿重复操作")
)

type BondRepository struct {
	db *gorm.DB
}

func NewBondRepository(db *gorm.DB) *BondRepository {
	return &BondRepository{db: db}
}

func (r *BondRepository) Create(ctx context.Context, tx *gorm.DB, bond *model.Bond) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(bond).Error
	if err != nil {
		// message_id 唯一索引兜底：并发开立同一封邮件的债券只能成功一次
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateBond
		}
		return err
	}
	return nil
}

func (r *BondRepository) GetByMessageID(ctx context.Context, messageID string) (*model.Bond, error) {
	var bond model.Bond
	err := r.db.WithContext(ctx).Where("message_id = ?", messageID).First(&bond).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBondNotFound
		}
		return nil, err
	}
	return &bond, nil
}

// UpdateStatus 条件状态流转：只有当前状态还是 fromStatus 才会生效
//
// 【关键点】这一条 UPDATE 就是整个状态机的幂等护栏：
// 两个并发的 resolve 落在同一张债券上，数据库保证只有一个能把
// PENDING 翻成终态，输家拿到 RowsAffected == 0，翻译成 ErrAlreadySettled
func (r *BondRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, messageID string, fromStatus, toStatus string) error {
	if !model.BondCanTransitionTo(fromStatus, toStatus) {
		return ErrAlreadySettled
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Bond{}).
		Where("message_id = ? AND status = ?", messageID, fromStatus).
		Update("status", toStatus)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAlreadySettled
	}

	return nil
}

// GetExpiredPending 查询已过响应窗口但仍未结算的债券
func (r *BondRepository) GetExpiredPending(ctx context.Context, now time.Time, limit int) ([]*model.Bond, error) {
	var bonds []*model.Bond
	err := r.db.WithContext(ctx).
		Where("status = ? AND deadline < ?", model.BondStatusPending, now).
		Limit(limit).
		Find(&bonds).Error
	return bonds, err
}

// HasInbound 判断 from 是否给 to 发过债券（即双方已有会话）
func (r *BondRepository) HasInbound(ctx context.Context, from, to string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Bond{}).
		Where("sender = ? AND recipient = ?", from, to).
		Limit(1).
		Count(&count).Error
	return count > 0, err
}

func (r *BondRepository) ListBySender(ctx context.Context, sender string, page, pageSize int) ([]*model.Bond, int64, error) {
	var bonds []*model.Bond
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Bond{}).Where("sender = ?", sender)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&bonds).Error

	return bonds, total, err
}
