package sqlite

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/getmockd/hookd/pkg/handler"
	"github.com/getmockd/hookd/pkg/store"
)

type handlerStore struct{ s *Store }

func (r *handlerStore) ListHTTP(ctx context.Context) ([]*handler.Handler, error) {
	rows := make([]handlerModel, 0)
	if err := ctxDB(ctx, r.s).Order("sort_order ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*handler.Handler, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (r *handlerStore) GetHTTP(ctx context.Context, id string) (*handler.Handler, error) {
	var m handlerModel
	if err := ctxDB(ctx, r.s).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return m.toDomain(), nil
}

func (r *handlerStore) SaveHTTP(ctx context.Context, h *handler.Handler) error {
	err := ctxDB(ctx, r.s).Transaction(func(tx *gorm.DB) error {
		var conflicts int64
		if err := tx.Model(&handlerModel{}).
			Where("sort_order = ? AND id <> ?", h.Order, h.ID).
			Count(&conflicts).Error; err != nil {
			return err
		}
		if conflicts > 0 {
			return handler.ErrDuplicateOrder
		}

		var existing *handler.Handler
		if h.ID != "" {
			var m handlerModel
			err := tx.Where("id = ?", h.ID).First(&m).Error
			switch {
			case err == nil:
				existing = m.toDomain()
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}
		}

		store.PrepareHandler(h, existing, r.s.now())
		m := handlerToModel(h)
		return tx.Save(&m).Error
	})
	if isUniqueViolation(err) {
		return handler.ErrDuplicateOrder
	}
	return err
}

func (r *handlerStore) DeleteHTTP(ctx context.Context, id string) error {
	res := ctxDB(ctx, r.s).Where("id = ?", id).Delete(&handlerModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *handlerStore) ListTCP(ctx context.Context) ([]*handler.TCPHandler, error) {
	rows := make([]tcpHandlerModel, 0)
	if err := ctxDB(ctx, r.s).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*handler.TCPHandler, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (r *handlerStore) GetTCP(ctx context.Context, id string) (*handler.TCPHandler, error) {
	var m tcpHandlerModel
	if err := ctxDB(ctx, r.s).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return m.toDomain(), nil
}

func (r *handlerStore) ActiveTCP(ctx context.Context) (*handler.TCPHandler, error) {
	var m tcpHandlerModel
	err := ctxDB(ctx, r.s).
		Where("enabled = ?", true).
		Order("updated_at DESC").Order("id DESC").
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return m.toDomain(), nil
}

func (r *handlerStore) SaveTCP(ctx context.Context, h *handler.TCPHandler) error {
	return ctxDB(ctx, r.s).Transaction(func(tx *gorm.DB) error {
		var existing *handler.TCPHandler
		if h.ID != "" {
			var m tcpHandlerModel
			err := tx.Where("id = ?", h.ID).First(&m).Error
			switch {
			case err == nil:
				existing = m.toDomain()
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}
		}
		store.PrepareTCPHandler(h, existing, r.s.now())
		m := tcpHandlerToModel(h)
		return tx.Save(&m).Error
	})
}

func (r *handlerStore) DeleteTCP(ctx context.Context, id string) error {
	res := ctxDB(ctx, r.s).Where("id = ?", id).Delete(&tcpHandlerModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}
