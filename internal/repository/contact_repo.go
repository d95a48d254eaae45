package repository

import (
	"context"

	"attnbond/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ContactRepository struct {
	db *gorm.DB
}

func NewContactRepository(db *gorm.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// Add 加入白名单，重复添加静默成功
func (r *ContactRepository) Add(ctx context.Context, owner, handle string) error {
	contact := &model.Contact{Owner: owner, Handle: handle}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(contact).Error
}

func (r *ContactRepository) Exists(ctx context.Context, owner, handle string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Contact{}).
		Where("owner = ? AND handle = ?", owner, handle).
		Count(&count).Error
	return count > 0, err
}

func (r *ContactRepository) ListByOwner(ctx context.Context, owner string) ([]*model.Contact, error) {
	var contacts []*model.Contact
	err := r.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("created_at ASC").
		Find(&contacts).Error
	return contacts, err
}
