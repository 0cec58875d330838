package sqlite

import (
	"context"

	"gorm.io/datatypes"

	"github.com/getmockd/hookd/pkg/requestlog"
)

type executionStore struct{ s *Store }

func (r *executionStore) Create(ctx context.Context, e *requestlog.HandlerExecution) error {
	m := executionToModel(e)
	return ctxDB(ctx, r.s).Create(&m).Error
}

func (r *executionStore) Update(ctx context.Context, id string, u requestlog.ExecutionUpdate) error {
	return finalize(ctxDB(ctx, r.s), &executionModel{}, id, string(requestlog.ExecRunning), map[string]any{
		"status":         string(u.Status),
		"error_message":  u.ErrorMessage,
		"console_output": u.ConsoleOutput,
		"response_data":  datatypes.JSON(u.ResponseData),
		"locals_data":    datatypes.JSON(u.LocalsData),
		"duration_ms":    u.DurationMs,
	})
}

func (r *executionStore) ListByRequest(ctx context.Context, requestID string) ([]*requestlog.HandlerExecution, error) {
	return r.list(ctx, "request_event_id = ?", requestID)
}

func (r *executionStore) ListByConnection(ctx context.Context, connectionID string) ([]*requestlog.HandlerExecution, error) {
	return r.list(ctx, "tcp_connection_id = ?", connectionID)
}

func (r *executionStore) list(ctx context.Context, where string, arg string) ([]*requestlog.HandlerExecution, error) {
	rows := make([]executionModel, 0)
	if err := ctxDB(ctx, r.s).Where(where, arg).Order("exec_order ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*requestlog.HandlerExecution, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toDomain())
	}
	return out, nil
}
