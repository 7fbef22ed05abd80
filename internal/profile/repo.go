package profile

import (
	"context"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, p *Profile) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *Repo) Get(ctx context.Context, uid string) (*Profile, error) {
	var p Profile
	if err := r.db.WithContext(ctx).First(&p, "uid = ?", uid).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repo) GetByUsername(ctx context.Context, username string) (*Profile, error) {
	var p Profile
	if err := r.db.WithContext(ctx).
		Where("username = ?", username).
		First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// Update writes the named columns of p, including zero values.
func (r *Repo) Update(ctx context.Context, p *Profile, columns ...string) error {
	return r.db.WithContext(ctx).Model(p).
		Select(columns).
		Updates(p).Error
}
