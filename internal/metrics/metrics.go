package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// BlocksProcessed counts blocks that went through the engine per chain
	BlocksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletscope_blocks_processed_total",
			Help: "Total number of blocks processed",
		},
		[]string{"chain"},
	)

	// HeightsSkipped counts heights given up on after RPC failures
	HeightsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletscope_heights_skipped_total",
			Help: "Heights skipped after RPC failure",
		},
		[]string{"chain", "reason"},
	)

	// RPCRetries counts retried fetches
	RPCRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletscope_rpc_retries_total",
			Help: "Retried block fetches",
		},
		[]string{"chain"},
	)

	// MalformedTraces counts transactions dropped by the normalizer
	MalformedTraces = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletscope_malformed_traces_total",
			Help: "Transactions skipped because of malformed traces",
		},
		[]string{"chain"},
	)

	// AccountingViolations counts native conservation failures
	AccountingViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletscope_accounting_violations_total",
			Help: "Transactions whose native deltas do not balance",
		},
		[]string{"chain"},
	)

	// RecordsEmitted counts PnL records per wallet
	RecordsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletscope_records_emitted_total",
			Help: "PnL records emitted",
		},
		[]string{"chain", "wallet"},
	)

	// UnpricedAssets counts asset lines emitted without a price
	UnpricedAssets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletscope_unpriced_assets_total",
			Help: "Token deltas emitted without a price",
		},
		[]string{"chain"},
	)

	// NotifyFailures counts sink delivery errors
	NotifyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletscope_notify_failures_total",
			Help: "Failed record deliveries per sink",
		},
		[]string{"sink"},
	)

	// LastBlock shows the last processed block per chain
	LastBlock = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "walletscope_last_block",
			Help: "Last processed block number",
		},
		[]string{"chain"},
	)

	// ChainHead shows the latest block number seen on the chain
	ChainHead = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "walletscope_chain_head",
			Help: "Latest block number on the chain",
		},
		[]string{"chain"},
	)

	// BlockDuration observes engine time per block
	BlockDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletscope_block_duration_seconds",
			Help:    "Time spent processing one block",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)
)

func init() {
	prometheus.MustRegister(BlocksProcessed)
	prometheus.MustRegister(HeightsSkipped)
	prometheus.MustRegister(RPCRetries)
	prometheus.MustRegister(MalformedTraces)
	prometheus.MustRegister(AccountingViolations)
	prometheus.MustRegister(RecordsEmitted)
	prometheus.MustRegister(UnpricedAssets)
	prometheus.MustRegister(NotifyFailures)
	prometheus.MustRegister(LastBlock)
	prometheus.MustRegister(ChainHead)
	prometheus.MustRegister(BlockDuration)
}

// InitChain initializes the per-chain series with zero values
func InitChain(chain string) {
	BlocksProcessed.WithLabelValues(chain).Add(0)
	RPCRetries.WithLabelValues(chain).Add(0)
	MalformedTraces.WithLabelValues(chain).Add(0)
	AccountingViolations.WithLabelValues(chain).Add(0)
	UnpricedAssets.WithLabelValues(chain).Add(0)
	LastBlock.WithLabelValues(chain).Set(0)
	ChainHead.WithLabelValues(chain).Set(0)
}

// StartServer serves /metrics on addr until ctx is done.
func StartServer(ctx context.Context, addr string, logger *zap.Logger) {
	if addr == "" {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server error", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
