package notify

import (
	"context"

	"go.uber.org/zap"

	"walletScope/internal/model"
)

// Sink delivers the records of one attribution group.
type Sink interface {
	Name() string
	Send(ctx context.Context, records []model.PnLRecord) error
}

// LogSink writes records to the structured log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, records []model.PnLRecord) error {
	for _, r := range records {
		s.logger.Info("pnl",
			zap.String("id", r.ID),
			zap.String("chain", r.Chain),
			zap.String("wallet", r.Wallet),
			zap.Uint64("block", r.BlockNumber),
			zap.String("group", r.GroupID),
			zap.String("pattern", r.Pattern),
			zap.String("native", r.NativeDelta),
			zap.String("total", r.Total),
			zap.Int("tokens", len(r.TokenDeltas)),
			zap.Strings("unpriced", r.Unpriced),
			zap.String("builder_reward", r.BuilderReward),
			zap.Bool("incomplete", r.IncompleteAccounting),
			zap.Bool("untrusted", r.Untrusted),
		)
	}
	return nil
}
