package repository

import (
	"errors"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Pagination 规范化 offset/limit
type Pagination struct {
	Offset int
	Limit  int
}

func (p Pagination) Normalize() Pagination {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

func (p Pagination) apply(tx *gorm.DB) *gorm.DB {
	p = p.Normalize()
	return tx.Offset(p.Offset).Limit(p.Limit)
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
