package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Magma-Layer/dln-taker/internal/bucket"
	"github.com/Magma-Layer/dln-taker/internal/budget"
	"github.com/Magma-Layer/dln-taker/internal/capability"
	"github.com/Magma-Layer/dln-taker/internal/chainregistry"
	"github.com/Magma-Layer/dln-taker/internal/config"
	"github.com/Magma-Layer/dln-taker/internal/confirmation"
	"github.com/Magma-Layer/dln-taker/internal/evaluator"
	"github.com/Magma-Layer/dln-taker/internal/evmchain"
	"github.com/Magma-Layer/dln-taker/internal/executor"
	"github.com/Magma-Layer/dln-taker/internal/feed"
	"github.com/Magma-Layer/dln-taker/internal/filter"
	"github.com/Magma-Layer/dln-taker/internal/hooks"
	"github.com/Magma-Layer/dln-taker/internal/logging"
	"github.com/Magma-Layer/dln-taker/internal/order"
	"github.com/Magma-Layer/dln-taker/internal/pipeline"
	"github.com/Magma-Layer/dln-taker/internal/priceservice"
	"github.com/Magma-Layer/dln-taker/internal/solanachain"
	"github.com/Magma-Layer/dln-taker/internal/statestore"
	"github.com/Magma-Layer/dln-taker/internal/statusapi"
	"github.com/Magma-Layer/dln-taker/internal/swapconnector"
	"github.com/Magma-Layer/dln-taker/internal/unlocker"
	"github.com/Magma-Layer/dln-taker/internal/unlocksender"
)

func main() {
	logger, err := logging.New()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("starting dln-taker",
		zap.String("db_url", cfg.DbURL),
		zap.String("kafka_broker", cfg.KafkaBroker),
		zap.Int("api_port", cfg.APIPort),
		zap.Int("batch_unlock_size", cfg.BatchUnlockSize),
		zap.Uint32("min_profitability_bps", cfg.MinProfitabilityBps),
	)

	db, err := sql.Open("postgres", cfg.DbURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}

	store := statestore.New(db, logger)
	if err := store.InitMigration(); err != nil {
		logger.Fatal("failed to initialize persisted-queue tables", zap.Error(err))
	}

	buckets, err := buildBuckets(cfg.Buckets)
	if err != nil {
		logger.Fatal("failed to build token buckets", zap.Error(err))
	}

	prices := priceservice.New(logger, "", 30*time.Second)
	swaps := swapconnector.New(logger, configuredChainIDs(cfg.Chains))

	hookPublisher, err := hooks.New(cfg.KafkaBroker, cfg.KafkaTopic, logger)
	if err != nil {
		logger.Fatal("failed to create hook publisher", zap.Error(err))
	}
	defer hookPublisher.Close()

	entries, intendedPairs, err := buildChainEntries(cfg.Chains, logger)
	if err != nil {
		logger.Fatal("failed to build chain registry entries", zap.Error(err))
	}

	registry, err := chainregistry.Build(entries, buckets, intendedPairs)
	if err != nil {
		logger.Fatal("failed to build chain registry", zap.Error(err))
	}

	unlockSender, err := unlocksender.New(registry)
	if err != nil {
		logger.Fatal("failed to create unlock sender", zap.Error(err))
	}
	unlock, err := unlocker.New(unlockSender, logger, cfg.BatchUnlockSize)
	if err != nil {
		logger.Fatal("failed to create unlocker", zap.Error(err))
	}
	unlock.SetPersister(store)
	if err := restoreBatchEntries(context.Background(), store, unlock, logger); err != nil {
		logger.Fatal("failed to restore persisted batch-unlock entries", zap.Error(err))
	}

	restoredAttempts, err := loadRestoredAttempts(store, logger)
	if err != nil {
		logger.Fatal("failed to load persisted mempool entries", zap.Error(err))
	}

	evalSwaps := swaps // profitability evaluation and live fulfillment share one connector instance
	ev := &evaluator.Evaluator{
		Buckets:             buckets,
		Prices:              prices,
		Swaps:               evalSwaps,
		MinProfitabilityBps: cfg.MinProfitabilityBps,
	}

	exec, err := executor.New(swaps)
	if err != nil {
		logger.Fatal("failed to create executor", zap.Error(err))
	}

	orderFeed := feed.NewMemory()
	orderFeed.SetLogger(logger)
	orderFeed.SetEnabledChains(configuredChainIDs(cfg.Chains))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipelines := make(map[uint64]*pipeline.Pipeline, len(entries))
	for _, e := range entries {
		if e.Disabled {
			continue
		}
		p, err := pipeline.New(pipeline.Config{
			TakeChainID:            e.ChainID,
			Registry:               registry,
			Buckets:                buckets,
			Prices:                 prices,
			Evaluator:              ev,
			Executor:               exec,
			Unlocker:               unlock,
			GlobalFilters:          []filter.Filter{},
			Logger:                 logger.With(zap.Uint64("take_chain_id", e.ChainID)),
			Hooks:                  hookPublisher,
			MempoolInitialInterval: time.Duration(cfg.MempoolInitialInterval) * time.Second,
			MempoolMaxDelayStep:    time.Duration(cfg.MempoolMaxDelayStep) * time.Second,
			UnlockCostUSDEstimate:  cfg.UnlockCostUSDEstimate,
			MempoolPersister:       store,
			RestoreAttempts:        restoredAttempts[e.ChainID],
		})
		if err != nil {
			logger.Fatal("failed to create pipeline", zap.Uint64("chain_id", e.ChainID), zap.Error(err))
		}
		pipelines[e.ChainID] = p
		go p.Run(ctx)
	}

	if err := orderFeed.Init(func(o order.Order) {
		p, ok := pipelines[o.Take.ChainID]
		if !ok {
			logger.Warn("order feed delivered event for an unregistered take chain", zap.Uint64("take_chain_id", o.Take.ChainID))
			return
		}
		p.Submit(o)
	}); err != nil {
		logger.Fatal("failed to initialize order feed", zap.Error(err))
	}

	statusServer := statusapi.NewServer(cfg.APIPort, registry, logger)
	go func() {
		if err := statusServer.Start(); err != nil {
			logger.Fatal("status API failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("received shutdown signal, starting graceful shutdown")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := statusServer.Stop(shutdownCtx); err != nil {
		logger.Error("error shutting down status API", zap.Error(err))
	}

	logger.Info("dln-taker shutdown complete")
}

func configuredChainIDs(chains []config.ChainConfig) []uint64 {
	out := make([]uint64, 0, len(chains))
	for _, c := range chains {
		out = append(out, c.ChainID)
	}
	return out
}

func buildBuckets(cfgBuckets []config.BucketConfig) (*bucket.Set, error) {
	buckets := make([]bucket.Bucket, 0, len(cfgBuckets))
	for _, b := range cfgBuckets {
		members := make(map[bucket.Key]int, len(b.Members))
		for chainID, m := range b.Members {
			members[bucket.Key{ChainID: chainID, Token: common.HexToAddress(m.Token)}] = m.Decimals
		}
		buckets = append(buckets, bucket.Bucket{Name: b.Name, Members: members})
	}
	return bucket.NewSet(buckets), nil
}

func buildChainEntries(chains []config.ChainConfig, logger *zap.Logger) ([]*chainregistry.Entry, [][2]uint64, error) {
	entries := make([]*chainregistry.Entry, 0, len(chains))
	var intendedPairs [][2]uint64

	for _, c := range chains {
		engine := capability.EngineEVM
		if c.Engine == "solana" {
			engine = capability.EngineSolana
		}

		var client capability.ChainClient
		var fulfillSigner, unlockSigner capability.Signer

		if !c.Disabled {
			var err error
			switch engine {
			case capability.EngineEVM:
				client, err = evmchain.NewClient(c.RPC, common.HexToAddress(c.OrderContract), logger)
				if err != nil {
					return nil, nil, err
				}
				takerKey, _, err := config.PrivateKey(c.TakerPrivateKeyEnv)
				if err != nil {
					return nil, nil, err
				}
				fulfillSigner, err = evmchain.NewSigner(context.Background(), c.RPC, takerKey)
				if err != nil {
					return nil, nil, err
				}
				unlockKey, _, err := config.PrivateKey(c.UnlockAuthorityKeyEnv)
				if err != nil {
					return nil, nil, err
				}
				unlockSigner, err = evmchain.NewSigner(context.Background(), c.RPC, unlockKey)
				if err != nil {
					return nil, nil, err
				}
			case capability.EngineSolana:
				client = solanachain.NewClient(c.RPC, c.OrderContract)
				takerSeed, err := solanaSeed(c.TakerPrivateKeyEnv)
				if err != nil {
					return nil, nil, err
				}
				fulfillSigner, err = solanachain.NewSigner(c.RPC, takerSeed)
				if err != nil {
					return nil, nil, err
				}
				unlockSeed, err := solanaSeed(c.UnlockAuthorityKeyEnv)
				if err != nil {
					return nil, nil, err
				}
				unlockSigner, err = solanachain.NewSigner(c.RPC, unlockSeed)
				if err != nil {
					return nil, nil, err
				}
			}
		}

		srcRanges := make([]chainregistry.SrcConstraintRange, 0, len(c.SrcConstraints))
		confirmRanges := make([]confirmation.Range, 0, len(c.SrcConstraints))
		for i, r := range c.SrcConstraints {
			from := 0.0
			if i > 0 {
				from = c.SrcConstraints[i-1].ThresholdAmountUSD
			}
			srcRanges = append(srcRanges, chainregistry.SrcConstraintRange{
				DstConstraintRange: chainregistry.DstConstraintRange{
					USDWorthFrom:                  from,
					USDWorthTo:                    r.ThresholdAmountUSD,
					FulfillmentDelaySec:           r.FulfillmentDelaySec,
					PreFulfillSwapChangeRecipient: r.PreFulfillSwapChangeRecipient,
				},
				MinBlockConfirmations: r.MinBlockConfirmations,
			})
			confirmRanges = append(confirmRanges, confirmation.Range{
				USDWorthFrom:          from,
				USDWorthTo:            r.ThresholdAmountUSD,
				MinBlockConfirmations: r.MinBlockConfirmations,
			})
		}

		dstRanges := make([]chainregistry.DstConstraintRange, 0, len(c.DstConstraints))
		for i, r := range c.DstConstraints {
			from := 0.0
			if i > 0 {
				from = c.DstConstraints[i-1].ThresholdAmountUSD
			}
			dstRanges = append(dstRanges, chainregistry.DstConstraintRange{
				USDWorthFrom:                  from,
				USDWorthTo:                    r.ThresholdAmountUSD,
				FulfillmentDelaySec:           r.FulfillmentDelaySec,
				PreFulfillSwapChangeRecipient: r.PreFulfillSwapChangeRecipient,
			})
		}

		policy, err := confirmation.NewPolicy(confirmRanges)
		if err != nil {
			return nil, nil, err
		}

		entries = append(entries, &chainregistry.Entry{
			ChainID:              c.ChainID,
			Engine:               engine,
			RPC:                  c.RPC,
			UnlockSigner:         unlockSigner,
			FulfillSigner:        fulfillSigner,
			Client:               client,
			Beneficiary:          c.Beneficiary,
			Disabled:             c.Disabled,
			HardCapConfirmations: c.HardCapBlockConfirmations,
			SrcConstraints:       srcRanges,
			DstConstraints:       dstRanges,
			SrcFilters:           []filter.Filter{},
			DstFilters:           disabledFilters(c.Disabled),
			OrderProcessor:       "universal",
			ConfirmationPolicy:   policy,
			TVLBudget:            budgetController(c.TVLCapUSD),
			NonFinalizedBudget:   budgetController(c.NonFinalizedCapUSD),
		})

		for _, other := range chains {
			intendedPairs = append(intendedPairs, [2]uint64{c.ChainID, other.ChainID})
		}
	}

	return entries, intendedPairs, nil
}

func budgetController(capUSD float64) *budget.Controller {
	return budget.NewController(capUSD)
}

// solanaSeed resolves envVar to a raw 64-byte ed25519 private key. Solana
// keys are conventionally base58, but no base58 decoder exists
// anywhere in this repo's dependency set, so operators configure
// Solana signer keys hex-encoded instead (config.PrivateKey's isHex
// classification is for EVM keys only and unused here).
func solanaSeed(envVar string) ([]byte, error) {
	raw, _, err := config.PrivateKey(envVar)
	if err != nil {
		return nil, err
	}
	seed, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%s: decode hex seed: %w", envVar, err)
	}
	return seed, nil
}

func disabledFilters(disabled bool) []filter.Filter {
	if !disabled {
		return []filter.Filter{}
	}
	return []filter.Filter{filter.DenyAll("chain_disabled")}
}

// restoreBatchEntries re-hydrates the unlocker's (give_chain,
// give_token) slots from whatever batch-unlock entries were persisted
// before the last restart, flushing immediately any slot that was
// already full when the process stopped.
func restoreBatchEntries(ctx context.Context, store *statestore.Store, unlock *unlocker.Unlocker, logger *zap.Logger) error {
	records, err := store.LoadBatchEntries()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	type slotKey struct {
		giveChainID uint64
		giveToken   common.Address
	}
	grouped := make(map[slotKey][]unlocker.Entry)
	for _, r := range records {
		oid, err := decodeOrderID(r.OrderID)
		if err != nil {
			logger.Error("skipping persisted batch entry with invalid order id", zap.String("order_id", r.OrderID), zap.Error(err))
			continue
		}
		amount, ok := new(big.Int).SetString(r.Amount, 10)
		if !ok {
			logger.Error("skipping persisted batch entry with invalid amount", zap.String("order_id", r.OrderID), zap.String("amount", r.Amount))
			continue
		}
		key := slotKey{giveChainID: r.GiveChainID, giveToken: common.HexToAddress(r.GiveToken)}
		grouped[key] = append(grouped[key], unlocker.Entry{
			OrderID:  oid,
			Receiver: common.HexToAddress(r.Receiver),
			Amount:   amount,
		})
	}

	for key, entries := range grouped {
		if err := unlock.Restore(ctx, key.giveChainID, key.giveToken, entries); err != nil {
			return err
		}
		logger.Info("restored persisted batch-unlock entries",
			zap.Uint64("give_chain_id", key.giveChainID),
			zap.String("give_token", key.giveToken.Hex()),
			zap.Int("count", len(entries)))
	}
	return nil
}

// loadRestoredAttempts loads persisted mempool backoff counters,
// keyed by take chain, for seeding each Pipeline's Config.RestoreAttempts.
// The persisted rows carry only order id/attempts/timestamps, not the
// order body, so this only continues the backoff schedule — the order
// itself still has to arrive again through the feed.
func loadRestoredAttempts(store *statestore.Store, logger *zap.Logger) (map[uint64]map[order.ID]int, error) {
	records, err := store.LoadMempoolEntries()
	if err != nil {
		return nil, err
	}

	out := make(map[uint64]map[order.ID]int)
	for _, r := range records {
		oid, err := decodeOrderID(r.OrderID)
		if err != nil {
			logger.Error("skipping persisted mempool entry with invalid order id", zap.String("order_id", r.OrderID), zap.Error(err))
			continue
		}
		if out[r.TakeChainID] == nil {
			out[r.TakeChainID] = make(map[order.ID]int)
		}
		out[r.TakeChainID][oid] = r.Attempts
	}
	if len(records) > 0 {
		logger.Info("restored persisted mempool backoff counters; awaiting feed redelivery to resume", zap.Int("count", len(records)))
	}
	return out, nil
}

func decodeOrderID(s string) (order.ID, error) {
	var id order.ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("order id %q: expected %d bytes, got %d", s, len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}
