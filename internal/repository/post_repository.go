package repository

import (
	"context"

	"github.com/wmjx/flare-stack-blog/internal/models"

	"gorm.io/gorm"
)

type PostRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Post, error)
}

type postRepository struct {
	db *gorm.DB
}

func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) FindByID(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).First(&post, id).Error; err != nil {
		return nil, translate(err)
	}
	return &post, nil
}
