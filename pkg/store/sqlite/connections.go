package sqlite

import (
	"context"
	"time"

	"github.com/getmockd/hookd/pkg/requestlog"
	"github.com/getmockd/hookd/pkg/store"
)

type connectionStore struct{ s *Store }

func (r *connectionStore) Create(ctx context.Context, c *requestlog.TCPConnection) error {
	m := connToModel(c)
	return ctxDB(ctx, r.s).Create(&m).Error
}

func (r *connectionStore) UpdateData(ctx context.Context, id string, received, sent []byte) error {
	res := ctxDB(ctx, r.s).Model(&tcpConnectionModel{}).Where("id = ?", id).
		Updates(map[string]any{"received_data": received, "sent_data": sent})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *connectionStore) Close(ctx context.Context, id string, status requestlog.ConnectionStatus, at time.Time) error {
	return finalize(ctxDB(ctx, r.s), &tcpConnectionModel{}, id, string(requestlog.ConnActive), map[string]any{
		"status":    string(status),
		"closed_at": at.UTC(),
	})
}

func (r *connectionStore) Get(ctx context.Context, id string) (*requestlog.TCPConnection, error) {
	var m tcpConnectionModel
	if err := ctxDB(ctx, r.s).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	c := m.toDomain()
	execs, err := (&executionStore{r.s}).ListByConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Executions = execs
	return c, nil
}

func (r *connectionStore) List(ctx context.Context, f *requestlog.Filter) ([]*requestlog.TCPConnection, error) {
	q := ctxDB(ctx, r.s).Model(&tcpConnectionModel{})
	if f != nil {
		if f.Status != "" {
			q = q.Where("status = ?", f.Status)
		}
		q = page(q, f.Limit, f.Offset)
	}
	rows := make([]tcpConnectionModel, 0)
	if err := q.Order("opened_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*requestlog.TCPConnection, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (r *connectionStore) Delete(ctx context.Context, id string) error {
	res := ctxDB(ctx, r.s).Where("id = ?", id).Delete(&tcpConnectionModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}
