package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"walletScope/internal/metrics"
	"walletScope/internal/model"
	"walletScope/internal/storage"
)

// Dispatcher claims, stores and delivers the records of one block, group by group.
type Dispatcher struct {
	sinks   []Sink
	history []storage.HistoryStore
	dedup   storage.Deduper
	logger  *zap.Logger
}

func NewDispatcher(sinks []Sink, history []storage.HistoryStore, dedup storage.Deduper, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{sinks: sinks, history: history, dedup: dedup, logger: logger}
}

// Dispatch never stops on a failing sink; every error is logged and returned joined.
func (d *Dispatcher) Dispatch(ctx context.Context, records []model.PnLRecord) error {
	fresh := d.claim(ctx, records)
	if len(fresh) == 0 {
		return nil
	}

	var errs []error
	for _, store := range d.history {
		if err := store.PutRecords(ctx, fresh); err != nil {
			d.logger.Warn("history write failed", zap.Error(err))
			errs = append(errs, err)
		}
	}

	for _, group := range byGroup(fresh) {
		for _, sink := range d.sinks {
			if err := sink.Send(ctx, group); err != nil {
				metrics.NotifyFailures.WithLabelValues(sink.Name()).Inc()
				d.logger.Warn("notify failed",
					zap.String("sink", sink.Name()),
					zap.String("group", group[0].GroupID),
					zap.Error(err),
				)
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) claim(ctx context.Context, records []model.PnLRecord) []model.PnLRecord {
	if d.dedup == nil {
		return records
	}
	out := make([]model.PnLRecord, 0, len(records))
	for _, r := range records {
		ok, err := d.dedup.Claim(ctx, r.ID)
		if err != nil {
			d.logger.Warn("dedup claim failed, delivering anyway", zap.String("id", r.ID), zap.Error(err))
			ok = true
		}
		if ok {
			out = append(out, r)
		}
	}
	return out
}

// byGroup splits records into runs sharing a group id, preserving order.
func byGroup(records []model.PnLRecord) [][]model.PnLRecord {
	var out [][]model.PnLRecord
	for _, r := range records {
		n := len(out)
		if n > 0 && out[n-1][0].GroupID == r.GroupID && out[n-1][0].BlockNumber == r.BlockNumber {
			out[n-1] = append(out[n-1], r)
			continue
		}
		out = append(out, []model.PnLRecord{r})
	}
	return out
}
