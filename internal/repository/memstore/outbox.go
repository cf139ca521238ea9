package memstore

import (
	"context"
	"sort"

	"arcadepay/internal/model"
)

func (s *Store) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.OutboxMessage
	for _, m := range s.outbox {
		if m.Status != model.OutboxStatusPending {
			continue
		}
		cp := *m
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkAsSent(ctx context.Context, id int64) error {
	return s.updateMessage(ctx, id, func(m *model.OutboxMessage) {
		m.Status = model.OutboxStatusSent
	})
}

func (s *Store) IncrementRetryCount(ctx context.Context, id int64) error {
	return s.updateMessage(ctx, id, func(m *model.OutboxMessage) {
		m.RetryCount++
	})
}

func (s *Store) MarkAsFailed(ctx context.Context, id int64) error {
	return s.updateMessage(ctx, id, func(m *model.OutboxMessage) {
		m.Status = model.OutboxStatusFailed
		m.RetryCount++
	})
}

// Messages returns a snapshot of the outbox in insertion order.
func (s *Store) Messages() []model.OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.OutboxMessage, 0, len(s.outbox))
	for _, m := range s.outbox {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) updateMessage(ctx context.Context, id int64, fn func(m *model.OutboxMessage)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.outbox {
		if m.ID == id {
			fn(m)
			m.UpdatedAt = s.now()
			return nil
		}
	}
	return model.ErrOutboxMessageNotFound
}
