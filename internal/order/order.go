// Package order defines the immutable order shape the feed emits and
// the small set of value types built on top of it.
package order

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ID is the feed's opaque 32-byte order identifier.
type ID [32]byte

func (id ID) String() string {
	return common.Bytes2Hex(id[:])
}

// Status is the feed-supplied lifecycle state of an order.
type Status int

const (
	StatusCreated Status = iota
	StatusArchivalCreated
	StatusFulfilled
	StatusArchivalFulfilled
	StatusCancelled
	StatusOther
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusArchivalCreated:
		return "archival_created"
	case StatusFulfilled:
		return "fulfilled"
	case StatusArchivalFulfilled:
		return "archival_fulfilled"
	case StatusCancelled:
		return "cancelled"
	default:
		return "other"
	}
}

// FinalizationKind tags the variant held by FinalizationInfo.
type FinalizationKind int

const (
	FinalizationRevoked FinalizationKind = iota
	FinalizationConfirmed
	FinalizationFinalized
)

// FinalizationInfo is a tagged variant over Revoked | Confirmed{n} |
// Finalized, only meaningful when Status is Created or
// ArchivalCreated. Modeled as a tagged struct rather than an interface
// hierarchy per the "dynamic dispatch on chain engine" design note:
// the set of variants is closed and known at compile time.
type FinalizationInfo struct {
	Kind                    FinalizationKind
	ConfirmationBlocksCount uint64
}

// Asset is one side of an order: a token amount locked or requested on
// a specific chain.
type Asset struct {
	ChainID uint64
	Token   common.Address
	Amount  *big.Int
}

// Order is immutable once observed from the feed.
type Order struct {
	OrderID      ID
	Give         Asset
	Take         Asset
	Receiver     common.Address
	Maker        common.Address
	Status       Status
	Finalization FinalizationInfo // only valid for Created / ArchivalCreated
}
