package repository

import (
	"context"

	"newsbrief-backend/pkg/errutil"

	"gorm.io/gorm"
)

const mergeAttempts = 3

// Versioned is implemented by models guarded with an optimistic version column.
type Versioned interface {
	GetVersion() int64
	SetVersion(int64)
}

// MergeUpdate runs a bounded read-merge-write cycle: load the row, apply
// merge, write it back guarded by the version column. When a concurrent
// writer bumped the version first the guarded update matches zero rows and
// the cycle runs again against fresh state, so partial field updates are
// re-merged instead of overwritten. Exhausting attempts returns a Conflict.
func MergeUpdate[T any, PT interface {
	*T
	Versioned
}](ctx context.Context, db *gorm.DB, id string, merge func(PT) error) (PT, error) {
	for attempt := 0; attempt < mergeAttempts; attempt++ {
		cur := PT(new(T))
		if err := db.WithContext(ctx).Where("id = ?", id).First(cur).Error; err != nil {
			return nil, err
		}

		prev := cur.GetVersion()
		if err := merge(cur); err != nil {
			return nil, err
		}
		cur.SetVersion(prev + 1)

		res := db.WithContext(ctx).Model(cur).Select("*").Where("version = ?", prev).Updates(cur)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			return cur, nil
		}
	}

	return nil, errutil.Conflict("update lost too many version races", nil)
}
