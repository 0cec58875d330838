package sqlite

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/clause"

	"github.com/getmockd/hookd/pkg/store"
)

type stateStore struct{ s *Store }

func (r *stateStore) Load(ctx context.Context) ([]byte, time.Time, error) {
	var m sharedStateModel
	if err := ctxDB(ctx, r.s).Where("id = ?", sharedStateID).First(&m).Error; err != nil {
		return nil, time.Time{}, notFound(err)
	}
	return []byte(m.Data), m.UpdatedAt, nil
}

func (r *stateStore) Save(ctx context.Context, data []byte, updatedAt time.Time) error {
	m := sharedStateModel{ID: sharedStateID, Data: datatypes.JSON(data), UpdatedAt: updatedAt.UTC()}
	return ctxDB(ctx, r.s).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&m).Error
}

var _ store.StateStore = (*stateStore)(nil)
