package repository

import (
	"context"

	"github.com/marquee/catalog/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is a thin generic gorm store for simple catalog rows.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Update(ctx context.Context, resourceID any, resource any) (int64, error)
	Count(ctx context.Context, query *T) (int64, error)
}
