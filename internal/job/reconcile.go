package job

import (
	"context"
	"time"

	"arcadepay/internal/model"

	"github.com/sirupsen/logrus"
)

type DriftStore interface {
	BalanceDrifts(ctx context.Context) ([]model.BalanceDrift, error)
}

// DriftGauge receives the number of drifting cards after every pass.
type DriftGauge interface {
	SetBalanceDrift(n int)
}

// ReconcileJob periodically checks that every card balance equals the sum of
// its transaction amounts. It only reports; it never rewrites balances.
type ReconcileJob struct {
	store    DriftStore
	gauge    DriftGauge
	stopCh   chan struct{}
	interval time.Duration
	log      logrus.FieldLogger
}

func NewReconcileJob(store DriftStore, gauge DriftGauge, interval time.Duration, log logrus.FieldLogger) *ReconcileJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ReconcileJob{
		store:    store,
		gauge:    gauge,
		stopCh:   make(chan struct{}),
		interval: interval,
		log:      log.WithField("job", "reconcile"),
	}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	j.log.WithField("interval", j.interval.String()).Info("reconcile job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("reconcile job stopped: context done")
			return
		case <-j.stopCh:
			j.log.Info("reconcile job stopped")
			return
		case <-ticker.C:
			j.reconcile(ctx)
		}
	}
}

func (j *ReconcileJob) Stop() {
	close(j.stopCh)
}

// reconcile runs one pass and returns the drifts found, or nil on error.
func (j *ReconcileJob) reconcile(ctx context.Context) []model.BalanceDrift {
	drifts, err := j.store.BalanceDrifts(ctx)
	if err != nil {
		j.log.WithError(err).Error("query balance drifts")
		return nil
	}

	if j.gauge != nil {
		j.gauge.SetBalanceDrift(len(drifts))
	}

	for _, d := range drifts {
		j.log.WithFields(logrus.Fields{
			"card_id":    d.CardID,
			"balance":    d.Balance.StringFixed(2),
			"ledger_sum": d.LedgerSum.StringFixed(2),
		}).Error("card balance does not match its transactions")
	}
	return drifts
}
