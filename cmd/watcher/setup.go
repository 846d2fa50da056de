package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"walletScope/internal/aggregate"
	"walletScope/internal/builder"
	"walletScope/internal/chain"
	"walletScope/internal/config"
	"walletScope/internal/engine"
	"walletScope/internal/ledger"
	"walletScope/internal/metrics"
	"walletScope/internal/notify"
	"walletScope/internal/pricing"
	"walletScope/internal/storage"
	"walletScope/internal/storage/postgres"
	"walletScope/internal/storage/redisdedup"
	"walletScope/internal/token"
)

// pipeline is everything wired for one chain.
type pipeline struct {
	name     string
	chain    config.ChainConfig
	client   *chain.Client
	meta     *token.MetaCache
	resolver *pricing.Resolver
	engine   *engine.Engine
	state    aggregate.StateStore
	wallets  int
}

func (p *pipeline) Close() {
	p.resolver.Close()
	p.client.Close()
}

type app struct {
	pipelines  []*pipeline
	dispatcher *notify.Dispatcher
	closers    []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp connects every configured collaborator. Any failure here is a startup failure.
func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var pg *postgres.Store
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		pg = store
	}

	chainInfo := make(map[string]notify.ChainInfo)
	for _, name := range chainNames(cfg) {
		p, err := newPipeline(ctx, cfg, cfg.Chains[name], logger)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", name, err)
		}
		a.closers = append(a.closers, p.Close)
		if p.state, err = stateStore(cfg, name, pg); err != nil {
			return nil, fmt.Errorf("chain %s: %w", name, err)
		}
		if closer, isCloser := p.state.(interface{ Close() error }); isCloser {
			a.closers = append(a.closers, func() { _ = closer.Close() })
		}
		a.pipelines = append(a.pipelines, p)
		chainInfo[name] = notify.ChainInfo{
			Symbol:   p.chain.ReferenceSymbol,
			Explorer: p.chain.Explorer,
			Tokens:   p.meta,
		}
	}

	dispatcher, closers, err := newDispatcher(ctx, cfg, pg, notify.NewRenderer(chainInfo), logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closers...)
	a.dispatcher = dispatcher

	ok = true
	return a, nil
}

// newPipeline connects to the chain and builds its engine. Chains without wallets are rejected.
func newPipeline(ctx context.Context, cfg config.Config, chainCfg config.ChainConfig, logger *zap.Logger) (*pipeline, error) {
	name := chainCfg.Name
	wallets, err := config.BuildWallets(cfg.WalletsForChain(name))
	if err != nil {
		return nil, err
	}

	client, err := chain.NewClient(ctx, chainCfg.RPC, chainCfg.Dialect)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	if _, err := client.ChainID(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("rpc unreachable: %w", err)
	}

	p := &pipeline{name: name, chain: chainCfg, client: client, wallets: len(wallets)}
	fail := func(err error) (*pipeline, error) {
		client.Close()
		return nil, err
	}
	if p.chain.ReferenceSymbol == "" {
		p.chain.ReferenceSymbol = strings.ToUpper(name)
	}

	var wrapped *common.Address
	if chainCfg.WrappedNative != "" {
		addr, err := config.ParseAddress(chainCfg.WrappedNative)
		if err != nil {
			return fail(err)
		}
		wrapped = &addr
	}

	rules, err := ledger.DefaultRules(wrapped)
	if err != nil {
		return fail(err)
	}
	extra, err := config.BuildTokenRules(cfg.TokenRules)
	if err != nil {
		return fail(err)
	}
	rules = append(rules, extra...)

	selfDestruct, err := ledger.SelfDestructPolicyByName(cfg.SelfDestructPolicy)
	if err != nil {
		return fail(err)
	}
	policy, err := builder.PolicyByName(cfg.BuilderPolicy)
	if err != nil {
		return fail(err)
	}
	tolerance, err := config.ParseAmount(cfg.ToleranceWei)
	if err != nil {
		return fail(err)
	}

	p.meta = token.NewMetaCache(client, logger)
	source, err := priceSource(cfg.Prices[name], client, wrapped, p.meta)
	if err != nil {
		return fail(err)
	}
	resolver, err := pricing.NewResolver(source, cfg.PriceWorkers, logger)
	if err != nil {
		return fail(err)
	}
	p.resolver = resolver

	p.engine, err = engine.New(engine.Options{
		Chain:         name,
		Wallets:       wallets,
		Rules:         rules,
		SelfDestruct:  selfDestruct,
		Tolerance:     tolerance,
		BuilderPolicy: policy,
		WrappedNative: wrapped,
		Prices:        resolver,
		Logger:        logger,
	})
	if err != nil {
		resolver.Close()
		return fail(err)
	}

	metrics.InitChain(name)
	return p, nil
}

// priceSource layers configured static prices over on-chain pair reserves.
func priceSource(cfg config.PriceConfig, caller token.Caller, wrapped *common.Address, meta *token.MetaCache) (pricing.Source, error) {
	static := make(map[common.Address]pricing.Quote, len(cfg.Static))
	for raw, item := range cfg.Static {
		asset, err := config.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("static price: %w", err)
		}
		price, err := pricing.ParsePrice(item.Price)
		if err != nil {
			return nil, fmt.Errorf("static price %s: %w", raw, err)
		}
		static[asset] = pricing.Quote{Price: price, Decimals: item.Decimals}
	}
	sources := pricing.Multi{pricing.NewStaticSource(static)}

	if wrapped != nil && len(cfg.Pairs) > 0 {
		pairs := make(map[common.Address]common.Address, len(cfg.Pairs))
		for rawToken, rawPair := range cfg.Pairs {
			tokenAddr, err := config.ParseAddress(rawToken)
			if err != nil {
				return nil, fmt.Errorf("price pair token: %w", err)
			}
			pairAddr, err := config.ParseAddress(rawPair)
			if err != nil {
				return nil, fmt.Errorf("price pair %s: %w", rawToken, err)
			}
			pairs[tokenAddr] = pairAddr
		}
		sources = append(sources, pricing.NewPairSource(caller, *wrapped, pairs, meta))
	}
	return pricing.NewCachedSource(sources), nil
}

func stateStore(cfg config.Config, chainName string, pg *postgres.Store) (aggregate.StateStore, error) {
	switch cfg.StateBackend {
	case "file":
		return &aggregate.FileStateStore{Path: filepath.Join(cfg.StatePath, chainName+".json")}, nil
	case "pebble":
		return aggregate.OpenPebbleStateStore(filepath.Join(cfg.StatePath, "pebble-"+chainName), chainName)
	case "postgres":
		if pg == nil {
			return nil, fmt.Errorf("postgres state backend requires storage.pg-dsn")
		}
		return &aggregate.DBStateStore{Store: pg, Name: chainName}, nil
	case "none":
		return &aggregate.MemoryStateStore{}, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}
}

func newDispatcher(ctx context.Context, cfg config.Config, pg *postgres.Store, renderer *notify.Renderer, logger *zap.Logger) (*notify.Dispatcher, []func(), error) {
	var closers []func()

	sinks := make([]notify.Sink, 0, len(cfg.Sinks))
	for _, name := range cfg.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, notify.NewLogSink(logger))
		case "telegram":
			sink, err := notify.NewTelegramSink(notify.TelegramConfig{
				BotToken: cfg.Telegram.BotToken,
				ChatID:   cfg.Telegram.ChatID,
				ThreadID: cfg.Telegram.ThreadID,
			}, renderer)
			if err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, sink)
		default:
			return nil, nil, fmt.Errorf("unknown notify sink %q", name)
		}
	}

	var history []storage.HistoryStore
	if cfg.JsonlOut != "" {
		history = append(history, storage.NewJsonlStore(cfg.JsonlOut))
	}
	if pg != nil {
		history = append(history, pg)
	}

	var dedup storage.Deduper = storage.NewMemoryDeduper()
	if cfg.RedisAddr != "" {
		redisDedup, err := redisdedup.New(ctx, cfg.RedisAddr, cfg.DedupTTL)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = redisDedup.Close() })
		dedup = redisDedup
	}

	return notify.NewDispatcher(sinks, history, dedup, logger), closers, nil
}

func chainNames(cfg config.Config) []string {
	names := make([]string, 0, len(cfg.Chains))
	for name := range cfg.Chains {
		if len(cfg.WalletsForChain(name)) == 0 {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
