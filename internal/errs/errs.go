// Package errs defines the error kinds the order pipeline dispatches on.
//
// Each sentinel is wrapped with context via fmt.Errorf("...: %w", err)
// at the call site and unwrapped with errors.Is by callers that need
// to decide whether an order should be dropped, mempooled, or treated
// as a fatal startup error.
package errs

import "errors"

var (
	// ErrConfig is fatal at init: unsupported chain, confirmation
	// threshold exceeding the chain hard cap, missing mandatory
	// addresses, invalid batch_unlock_size.
	ErrConfig = errors.New("config error")

	// ErrUnsupportedChain means an order referenced a chain absent
	// from the registry. Fatal per event: the order is dropped.
	ErrUnsupportedChain = errors.New("unsupported chain")

	// ErrOrderInvalid covers: no bucket covers the give token, the
	// give-chain order state isn't Created, or the order is already
	// fulfilled on the take chain. Non-fatal, drop the order.
	ErrOrderInvalid = errors.New("order invalid")

	// ErrTransientRpc wraps any RPC failure during estimation, balance
	// checks, broadcast, or wait-for-confirmation. The order is
	// mempooled, subject to allow_place_to_mempool.
	ErrTransientRpc = errors.New("transient rpc error")

	// ErrUnprofitable is returned by the evaluator when the order does
	// not clear min_profitability_bps.
	ErrUnprofitable = errors.New("unprofitable order")

	// ErrGasBlowout fires when the final gas estimate exceeds the
	// pre-estimated cap; fast-tracked to the mempool up to two
	// attempts before falling back to standard backoff.
	ErrGasBlowout = errors.New("gas blowout")

	// ErrClient comes from the swap/fulfill client during
	// pre-estimation (route not found, quote expired, etc).
	ErrClient = errors.New("client error")

	// ErrFatalInternal marks a bug: e.g. the reserve token picked by
	// the evaluator disagrees with the one used to build the
	// transaction. Logged and dropped, never broadcast.
	ErrFatalInternal = errors.New("fatal internal error")
)
