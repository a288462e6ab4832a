// Package pipeline implements the Order Pipeline: the per-take-chain
// state machine that ingests feed events, enforces a single in-flight
// order at a time, and routes every rejection either to a drop or to
// the mempool scheduler for a later retry (spec.md 4.8).
//
// The source expresses the single-slot serializer as tail-recursive
// re-entry after releasing a lock. This implementation instead runs
// one worker goroutine per take-chain pulling from a channel: the
// goroutine IS the slot, so "in_flight" needs no boolean checked
// across goroutines, and draining the priority/secondary queues after
// a completion is a loop, not a recursive call (spec.md 9).
package pipeline

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Magma-Layer/dln-taker/internal/bucket"
	"github.com/Magma-Layer/dln-taker/internal/capability"
	"github.com/Magma-Layer/dln-taker/internal/chainregistry"
	"github.com/Magma-Layer/dln-taker/internal/errs"
	"github.com/Magma-Layer/dln-taker/internal/evaluator"
	"github.com/Magma-Layer/dln-taker/internal/executor"
	"github.com/Magma-Layer/dln-taker/internal/filter"
	"github.com/Magma-Layer/dln-taker/internal/hooks"
	"github.com/Magma-Layer/dln-taker/internal/mempool"
	"github.com/Magma-Layer/dln-taker/internal/order"
	"github.com/Magma-Layer/dln-taker/internal/unlocker"
)

// dummyPreEstimationSlippageBps is the speculative slippage budget
// used for the preliminary gas estimate in step 6, before the
// evaluator has computed a real one (spec.md 4.8: "dummy 5% slippage").
const dummyPreEstimationSlippageBps = 500

// fastTrackDelay and fastTrackMaxAttempts implement the gas-blowout
// fast-track window (spec.md 4.6, 9: the bound is inferred from the
// source literal, not separately documented).
const (
	fastTrackDelay       = 5 * time.Second
	fastTrackMaxAttempts = 2
)

// nativeToken is the conventional zero address a TokenPriceService
// resolves to the chain's native gas asset, mirroring how most
// USD-price oracles key native assets.
var nativeToken = common.Address{}

// Config bundles a Pipeline's static collaborators. Everything here
// is wired once at startup; TakeChainID selects which registry entry
// this pipeline owns.
type Config struct {
	TakeChainID uint64
	Registry    *chainregistry.Registry
	Buckets     *bucket.Set
	Prices      capability.TokenPriceService
	Evaluator   *evaluator.Evaluator
	Executor    *executor.Executor
	Unlocker    *unlocker.Unlocker
	GlobalFilters []filter.Filter
	Logger      *zap.Logger

	// Hooks publishes pipeline decisions for operator tooling. A nil
	// Hooks is a safe no-op (spec.md 6: hook_handlers is optional).
	Hooks *hooks.Publisher

	MempoolInitialInterval time.Duration
	MempoolMaxDelayStep    time.Duration

	// UnlockCostUSDEstimate is the operator-configured average USD cost
	// of one unlock transaction on a give chain, amortized across a
	// batch by the evaluator (spec.md 4.5 step 2).
	UnlockCostUSDEstimate float64

	// MempoolPersister, if set, survives a restart by recording every
	// mempool add/delete (spec.md 6: "MAY persist ... for crash-restart
	// parity"). A nil persister keeps the scheduler purely in-memory.
	MempoolPersister mempool.Persister

	// RestoreAttempts seeds the backoff counter for orders that were
	// still pending in the mempool before a restart, loaded from
	// MempoolPersister at startup. Without this, the feed's post-restart
	// redelivery of the same order would reset its backoff to zero
	// instead of continuing it (spec.md 8 property 7).
	RestoreAttempts map[order.ID]int
}

// Pipeline owns one take-chain's admission, scheduling, and
// fulfillment flow.
type Pipeline struct {
	cfg     Config
	entry   *chainregistry.Entry
	mempool *mempool.Scheduler
	events  chan order.Order
}

// New resolves cfg.TakeChainID against the registry and constructs a
// Pipeline ready to Run.
func New(cfg Config) (*Pipeline, error) {
	entry, err := cfg.Registry.Get(cfg.TakeChainID)
	if err != nil {
		return nil, err
	}
	sched := mempool.NewScheduler(cfg.Logger, cfg.MempoolInitialInterval, cfg.MempoolMaxDelayStep)
	if cfg.MempoolPersister != nil {
		sched.SetPersister(cfg.MempoolPersister, cfg.TakeChainID)
	}
	return &Pipeline{
		cfg:     cfg,
		entry:   entry,
		mempool: sched,
		events:  make(chan order.Order, 256),
	}, nil
}

// Submit delivers a feed event to this pipeline's entry point. Safe to
// call from any goroutine (the order feed's delivery goroutine).
func (p *Pipeline) Submit(o order.Order) {
	p.events <- o
}

// Run drives the worker loop until ctx is cancelled. Exactly one
// process_order call is active at a time; new events accumulate in
// the channel and the internal queues while one is running.
func (p *Pipeline) Run(ctx context.Context) {
	incoming := make(map[order.ID]order.Order)
	priorityQ := newOrderedSet()
	secondaryQ := newOrderedSet()
	// attempts carries each order's mempool re-entry count forward
	// across Scheduler.fire's delete-then-deliver (mempool.go: the
	// scheduler's own record is gone by the time the pipeline sees the
	// re-entry, so the backoff formula's "k" has to live here instead).
	// Seeded from RestoreAttempts so a restart doesn't reset the
	// backoff for orders the feed redelivers that were already pending.
	attempts := make(map[order.ID]int, len(p.cfg.RestoreAttempts))
	for id, n := range p.cfg.RestoreAttempts {
		attempts[id] = n
	}

	for {
		// Drain whatever arrived without blocking, so priority ordering
		// is computed over everything currently available rather than
		// one channel read at a time.
		p.drainAvailable(ctx, incoming, priorityQ, secondaryQ, attempts)

		if id, ok := priorityQ.popFront(); ok {
			p.processOrder(ctx, id, incoming, attempts)
			continue
		}
		if id, ok := secondaryQ.popFront(); ok {
			p.processOrder(ctx, id, incoming, attempts)
			continue
		}

		select {
		case <-ctx.Done():
			p.mempool.Stop()
			return
		case ev := <-p.events:
			p.handleEvent(ctx, ev, incoming, priorityQ, secondaryQ, attempts)
		case params := <-p.mempool.Deliveries():
			p.handleMempoolReentry(params, incoming, priorityQ, secondaryQ, attempts)
		}
	}
}

// drainAvailable pulls every immediately-ready event and mempool
// delivery into the queues without blocking, so a burst of concurrent
// arrivals gets priority-sorted before the next order is picked
// (spec.md 8, boundary scenario 3).
func (p *Pipeline) drainAvailable(ctx context.Context, incoming map[order.ID]order.Order, pq, sq *orderedSet, attempts map[order.ID]int) {
	for {
		select {
		case ev := <-p.events:
			p.handleEvent(ctx, ev, incoming, pq, sq, attempts)
			continue
		case params := <-p.mempool.Deliveries():
			p.handleMempoolReentry(params, incoming, pq, sq, attempts)
			continue
		default:
		}
		return
	}
}

func (p *Pipeline) handleEvent(ctx context.Context, ev order.Order, incoming map[order.ID]order.Order, pq, sq *orderedSet, attempts map[order.ID]int) {
	logger := p.cfg.Logger.With(zap.String("order_id", ev.OrderID.String()), zap.Uint64("take_chain_id", p.entry.ChainID))

	switch ev.Status {
	case order.StatusFulfilled, order.StatusArchivalFulfilled:
		p.clearOrder(ev.OrderID, incoming, pq, sq, attempts)
		if err := p.cfg.Unlocker.Enqueue(ctx, ev.Give.ChainID, ev.Give.Token, unlocker.Entry{
			OrderID: ev.OrderID, Receiver: ev.Receiver, Amount: ev.Give.Amount,
		}); err != nil {
			logger.Error("unlock enqueue failed for feed-reported fulfillment", zap.Error(err))
		}
		return

	case order.StatusCancelled:
		p.clearOrder(ev.OrderID, incoming, pq, sq, attempts)
		return

	case order.StatusCreated, order.StatusArchivalCreated:
		if pq.contains(ev.OrderID) || sq.contains(ev.OrderID) || p.mempool.Contains([32]byte(ev.OrderID)) {
			// Re-delivery of an order already tracked: refresh the data,
			// no new admission/queue entry (spec.md 8: idempotence).
			incoming[ev.OrderID] = ev
			return
		}

		admitted, rejectedBy, err := p.admit(ctx, ev)
		if err != nil {
			logger.Info("order dropped: unsupported chain", zap.Error(err))
			return
		}
		if !admitted {
			logger.Debug("order rejected by filter", zap.String("filter", rejectedBy))
			return
		}

		incoming[ev.OrderID] = ev
		if ev.Status == order.StatusCreated {
			pq.pushBack(ev.OrderID)
		} else {
			sq.pushBack(ev.OrderID)
		}
		p.cfg.Hooks.Publish(hooks.Event{Kind: "admitted", OrderID: ev.OrderID.String(), ChainID: p.entry.ChainID, Timestamp: time.Now()})
		return

	default:
		logger.Debug("order event dropped: unrecognized status", zap.String("status", ev.Status.String()))
		return
	}
}

func (p *Pipeline) handleMempoolReentry(params mempool.Params, incoming map[order.ID]order.Order, pq, sq *orderedSet, attempts map[order.ID]int) {
	id := order.ID(params.OrderID)
	o, ok := incoming[id]
	if !ok {
		return // cleaned up between scheduling and firing
	}
	attempts[id] = params.Attempts
	if o.Status == order.StatusCreated {
		pq.pushBack(id)
	} else {
		sq.pushBack(id)
	}
}

// admit runs the three-list filter pipeline (spec.md 4.2): global,
// this take-chain's destination filters, and the order's give-chain's
// source filters.
func (p *Pipeline) admit(ctx context.Context, o order.Order) (bool, string, error) {
	giveEntry, err := p.cfg.Registry.Get(o.Give.ChainID)
	if err != nil {
		return false, "", err
	}
	fp := filter.Pipeline{Global: p.cfg.GlobalFilters, Destination: p.entry.DstFilters, Source: giveEntry.SrcFilters}
	res := fp.Evaluate(ctx, o)
	return res.Admitted, res.RejectedBy, nil
}

func (p *Pipeline) clearOrder(id order.ID, incoming map[order.ID]order.Order, pq, sq *orderedSet, attempts map[order.ID]int) {
	delete(incoming, id)
	delete(attempts, id)
	pq.remove(id)
	sq.remove(id)
	p.mempool.Delete([32]byte(id))
}

// processOrder runs the eleven steps of spec.md 4.8 for the order
// already popped from priorityQ/secondaryQ. incoming is mutated
// in-place on drop/success; pq/sq are not touched here since
// the order was already removed by popFront before this call.
// attempts holds the re-entry count carried forward from the
// scheduler's last delivery (see Run's comment); it is read once here
// and advanced by toMempool, since Scheduler.Attempts is unreliable
// by the time this call runs (mempool.go deletes the record on fire).
func (p *Pipeline) processOrder(ctx context.Context, id order.ID, incoming map[order.ID]order.Order, attempts map[order.ID]int) {
	o, ok := incoming[id]
	if !ok {
		return
	}
	priorAttempts := attempts[id]
	logger := p.cfg.Logger.With(zap.String("order_id", id.String()), zap.Uint64("take_chain_id", p.entry.ChainID))

	allowMempool := true
	reservedNonFinalized := false
	reservedTVL := false

	giveEntry, err := p.cfg.Registry.Get(o.Give.ChainID)
	if err != nil {
		delete(incoming, id)
		delete(attempts, id)
		p.mempool.Delete([32]byte(id))
		logger.Info("order dropped: give chain unsupported", zap.Error(err))
		return
	}

	defer func() {
		if reservedNonFinalized {
			giveEntry.NonFinalizedBudget.Release([32]byte(id))
		}
		if reservedTVL {
			p.entry.TVLBudget.Release([32]byte(id))
		}
	}()

	drop := func(reason string) {
		delete(incoming, id)
		delete(attempts, id)
		p.mempool.Delete([32]byte(id))
		logger.Info("order dropped", zap.String("reason", reason))
		p.cfg.Hooks.Publish(hooks.Event{Kind: "dropped", OrderID: id.String(), ChainID: p.entry.ChainID, Reason: reason, Timestamp: time.Now()})
	}
	toMempool := func(reason string, delay *time.Duration) {
		if !allowMempool {
			drop(reason + " (non-finalized: mempool retry barred)")
			return
		}
		next := priorAttempts + 1
		attempts[id] = next
		p.mempool.Add([32]byte(id), next, delay)
		logger.Debug("order mempooled", zap.String("reason", reason), zap.Int("attempts", next))
		p.cfg.Hooks.Publish(hooks.Event{Kind: "mempooled", OrderID: id.String(), ChainID: p.entry.ChainID, Reason: reason, Timestamp: time.Now()})
	}

	// Step 1: resolve bucket.
	reserveToken, ok := p.cfg.Buckets.Equivalent(o.Give.ChainID, o.Give.Token, p.entry.ChainID)
	if !ok {
		drop("no bucket covers give token on take chain")
		return
	}

	// Step 2: on-chain state.
	state, err := p.entry.Client.OrderState(ctx, [32]byte(id))
	if err != nil {
		toMempool("on-chain state query failed", nil)
		return
	}
	if state.TakeFulfilled || !state.GiveStateCreated {
		drop("already fulfilled or not created on give chain")
		return
	}

	isCreatedFamily := o.Status == order.StatusCreated || o.Status == order.StatusArchivalCreated

	// Step 3: revoked finalization — no further RPC calls after this.
	if isCreatedFamily && o.Finalization.Kind == order.FinalizationRevoked {
		drop("revoked finalization")
		return
	}

	giveDecimals, ok := p.cfg.Buckets.Decimals(o.Give.ChainID, o.Give.Token)
	if !ok {
		drop("give token has no configured decimals")
		return
	}
	giveUSDPrice, err := p.cfg.Prices.USDPrice(ctx, o.Give.ChainID, o.Give.Token)
	if err != nil {
		toMempool("give token price lookup failed", nil)
		return
	}
	usdWorth := decimalUnits(o.Give.Amount, giveDecimals) * giveUSDPrice

	// Step 4: Confirmed{n} must clear the confirmation-threshold policy.
	if isCreatedFamily && o.Finalization.Kind == order.FinalizationConfirmed {
		decision := giveEntry.ConfirmationPolicy.Evaluate(usdWorth, o.Finalization.ConfirmationBlocksCount)
		if !decision.Accepted {
			drop("confirmation threshold not met")
			return
		}
		if !giveEntry.NonFinalizedBudget.TryReserve([32]byte(id), usdWorth) {
			drop("non-finalized budget exceeded")
			return
		}
		reservedNonFinalized = true
		allowMempool = false
	}

	// Step 5: balance check against the order's take amount as a
	// conservative pre-evaluation sanity gate (the exact required
	// reserve amount is only known once the evaluator runs in step 7).
	balance, err := p.entry.FulfillSigner.GetBalance(ctx, reserveToken)
	if err != nil {
		toMempool("balance lookup failed", nil)
		return
	}
	if balance.Cmp(o.Take.Amount) < 0 {
		toMempool("insufficient reserve balance", nil)
		return
	}

	dstRange, _ := p.entry.DstConstraintFor(usdWorth)
	recipientRole := dstRange.PreFulfillSwapChangeRecipient
	if recipientRole == "" {
		recipientRole = "taker"
	}
	if dstRange.FulfillmentDelaySec > 0 {
		if !p.waitDelay(ctx, time.Duration(dstRange.FulfillmentDelaySec)*time.Second) {
			return // shutting down
		}
	}

	var gasLimitCap, gasPriceCap *big.Int
	var preQuote *capability.SwapQuote

	// Step 6: EVM-only preliminary construction with dummy slippage.
	if p.entry.Engine == capability.EngineEVM {
		preTx, quote, err := p.cfg.Executor.BuildFulfillTx(ctx, p.entry, o, reserveToken, dummyPreEstimationSlippageBps, recipientRole, nil)
		if err != nil {
			toMempool("preliminary fulfill-tx build failed", nil)
			return
		}
		preQuote = &quote
		limitCap, priceCap, err := p.cfg.Executor.EstimateCapped(ctx, p.entry, *preTx.EVM)
		if err != nil {
			toMempool("preliminary gas estimate failed", nil)
			return
		}
		gasLimitCap, gasPriceCap = limitCap, priceCap
	}

	// Step 7: profitability evaluation.
	batchSize := p.cfg.Unlocker.BatchSize()
	var batchSizePtr *int
	if p.entry.Engine != capability.EngineSolana && giveEntry.Engine != capability.EngineSolana {
		batchSizePtr = &batchSize
	}

	result, err := p.cfg.Evaluator.Evaluate(ctx, o, p.entry.Engine, evaluator.Params{
		BatchUnlockSize:  batchSizePtr,
		UnlockCostUSD:    p.cfg.UnlockCostUSDEstimate,
		GasCostUSD:       p.estimatedGasCostUSD(ctx, gasLimitCap, gasPriceCap),
		PreferEstimation: preQuote,
		Recipient:        recipientRole,
	})
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrClient), errors.Is(err, errs.ErrTransientRpc):
			toMempool("evaluator: "+err.Error(), nil)
		default:
			drop("evaluator: " + err.Error())
		}
		return
	}
	if !result.IsProfitable {
		toMempool("not profitable", nil)
		return
	}

	reserveUSDPrice, err := p.cfg.Prices.USDPrice(ctx, p.entry.ChainID, result.ReserveToken)
	if err != nil {
		toMempool("reserve token price lookup failed", nil)
		return
	}
	reserveDecimals, ok := p.cfg.Buckets.Decimals(p.entry.ChainID, result.ReserveToken)
	if !ok {
		drop("reserve token has no configured decimals")
		return
	}
	reserveUSD := decimalUnits(result.RequiredReserveDstAmount, reserveDecimals) * reserveUSDPrice
	if !p.entry.TVLBudget.TryReserve([32]byte(id), reserveUSD) {
		toMempool("TVL budget exceeded", nil)
		return
	}
	reservedTVL = true

	// Step 8: final fulfill-tx with the computed slippage, reusing the
	// quote the evaluator profitability decision was based on.
	finalTx, _, err := p.cfg.Executor.BuildFulfillTx(ctx, p.entry, o, result.ReserveToken, result.ReserveToTakeSlippageBps, recipientRole, &result.Quote)
	if err != nil {
		toMempool("final fulfill-tx build failed", nil)
		return
	}

	// Step 9: EVM-only gas blowout check.
	if p.entry.Engine == capability.EngineEVM {
		rawGas, err := p.entry.Client.EstimateGas(ctx, *finalTx.EVM)
		if err != nil {
			toMempool("final gas estimate failed", nil)
			return
		}
		if gasLimitCap != nil && new(big.Int).SetUint64(rawGas).Cmp(gasLimitCap) > 0 {
			if priorAttempts < fastTrackMaxAttempts {
				d := fastTrackDelay
				toMempool("gas blowout (fast-track)", &d)
			} else {
				toMempool("gas blowout", nil)
			}
			return
		}
		finalTx.EVM.GasLimitCap = gasLimitCap
		finalTx.EVM.GasPriceCap = gasPriceCap
	}

	// Step 10: broadcast.
	handle, err := p.cfg.Executor.Broadcast(ctx, p.entry, finalTx, logger)
	if err != nil {
		toMempool("broadcast failed", nil)
		return
	}

	// Step 11: wait for on-chain observation, then hand off to the
	// batch unlocker.
	if err := p.cfg.Executor.WaitForConfirmation(ctx, p.entry, handle); err != nil {
		toMempool("wait for confirmation timed out", nil)
		return
	}

	delete(incoming, id)
	delete(attempts, id)
	p.mempool.Delete([32]byte(id))
	if err := p.cfg.Unlocker.Enqueue(ctx, o.Give.ChainID, o.Give.Token, unlocker.Entry{
		OrderID: id, Receiver: o.Receiver, Amount: o.Give.Amount,
	}); err != nil {
		logger.Error("unlock enqueue failed after fulfillment", zap.Error(err))
	}
	logger.Info("order fulfilled", zap.String("tx_hash", handle.Hash))
	p.cfg.Hooks.Publish(hooks.Event{Kind: "fulfilled", OrderID: id.String(), ChainID: p.entry.ChainID, Timestamp: time.Now()})
}

// estimatedGasCostUSD converts a capped gas limit/price pair into a
// USD estimate via the take chain's native asset price. Returns 0 for
// Solana entries or when caps are unavailable.
func (p *Pipeline) estimatedGasCostUSD(ctx context.Context, gasLimitCap, gasPriceCap *big.Int) float64 {
	if gasLimitCap == nil || gasPriceCap == nil {
		return 0
	}
	nativeUSD, err := p.cfg.Prices.USDPrice(ctx, p.entry.ChainID, nativeToken)
	if err != nil {
		return 0
	}
	weiCost := new(big.Int).Mul(gasLimitCap, gasPriceCap)
	return decimalUnits(weiCost, 18) * nativeUSD
}

// waitDelay blocks for d or until ctx is cancelled, returning false in
// the latter case so the caller can abandon the order cleanly.
func (p *Pipeline) waitDelay(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// decimalUnits converts an integer token amount to its human-readable
// float value; precision loss here only affects USD-worth comparisons
// against threshold boundaries, never on-chain amounts.
func decimalUnits(amount *big.Int, decimals int) float64 {
	if amount == nil {
		return 0
	}
	f := new(big.Float).SetInt(amount)
	scale := new(big.Float).SetFloat64(pow10(decimals))
	f.Quo(f, scale)
	out, _ := f.Float64()
	return out
}

func pow10(n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= 10
	}
	return out
}
