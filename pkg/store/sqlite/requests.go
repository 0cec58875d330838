package sqlite

import (
	"context"

	"github.com/getmockd/hookd/pkg/requestlog"
	"github.com/getmockd/hookd/pkg/store"
)

type requestStore struct{ s *Store }

func (r *requestStore) Create(ctx context.Context, ev *requestlog.RequestEvent) error {
	m := requestToModel(ev)
	return ctxDB(ctx, r.s).Create(&m).Error
}

func (r *requestStore) Finalize(ctx context.Context, id string, status requestlog.RequestStatus, resp *requestlog.Response) error {
	updates := map[string]any{"status": string(status)}
	if resp != nil {
		updates["response_status"] = resp.Status
		updates["response_status_message"] = resp.StatusMessage
		updates["response_headers"] = marshalPairs(resp.Headers)
		updates["response_body"] = resp.Body
		updates["responded_at"] = resp.Timestamp.UTC()
	}
	return finalize(ctxDB(ctx, r.s), &requestEventModel{}, id, string(requestlog.StatusRunning), updates)
}

func (r *requestStore) Get(ctx context.Context, id string) (*requestlog.RequestEvent, error) {
	var m requestEventModel
	if err := ctxDB(ctx, r.s).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	ev := m.toDomain()
	execs, err := (&executionStore{r.s}).ListByRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	ev.Executions = execs
	return ev, nil
}

func (r *requestStore) List(ctx context.Context, f *requestlog.Filter) ([]*requestlog.RequestEvent, error) {
	q := ctxDB(ctx, r.s).Model(&requestEventModel{})
	if f != nil {
		if f.Status != "" {
			q = q.Where("status = ?", f.Status)
		}
		if f.Method != "" {
			q = q.Where("UPPER(method) = UPPER(?)", f.Method)
		}
		if f.PathPrefix != "" {
			q = q.Where("substr(path, 1, ?) = ?", len(f.PathPrefix), f.PathPrefix)
		}
		q = page(q, f.Limit, f.Offset)
	}
	rows := make([]requestEventModel, 0)
	if err := q.Order("received_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*requestlog.RequestEvent, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (r *requestStore) Delete(ctx context.Context, id string) error {
	res := ctxDB(ctx, r.s).Where("id = ?", id).Delete(&requestEventModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}
