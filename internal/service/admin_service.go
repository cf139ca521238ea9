package service

import (
	"context"
	"errors"

	"arcadepay/internal/ledger"

	"github.com/sirupsen/logrus"
)

var ErrResetDisabled = errors.New("reset is disabled")

type Resetter interface {
	ResetAll(ctx context.Context) error
}

// AdminService holds destructive maintenance operations kept apart from the ledger.
type AdminService struct {
	store      Resetter
	allowReset bool
	log        logrus.FieldLogger
}

func NewAdminService(store Resetter, allowReset bool, log logrus.FieldLogger) *AdminService {
	return &AdminService{store: store, allowReset: allowReset, log: log}
}

// ResetAll deletes every card and transaction in one store transaction.
func (s *AdminService) ResetAll(ctx context.Context) error {
	if !s.allowReset {
		return ErrResetDisabled
	}
	if err := s.store.ResetAll(ctx); err != nil {
		return ledger.Classify(err)
	}
	s.log.Warn("all cards and transactions deleted")
	return nil
}
