package model

import (
	"fmt"
	"math/big"
)

// EventKind names a Facilitator contract event.
type EventKind int

const (
	KindRequestingUpdate EventKind = iota + 1
	KindAllocationUpdated
	KindAllocationClaimed
	KindGasBudgetUpdated
)

// ClaimEventKinds are the kinds the reconciler consumes, in priority order.
var ClaimEventKinds = []EventKind{
	KindRequestingUpdate,
	KindAllocationUpdated,
	KindAllocationClaimed,
}

// String returns the contract event name.
func (k EventKind) String() string {
	switch k {
	case KindRequestingUpdate:
		return "RequestingUpdate"
	case KindAllocationUpdated:
		return "AllocationUpdated"
	case KindAllocationClaimed:
		return "AllocationClaimed"
	case KindGasBudgetUpdated:
		return "GasBudgetUpdated"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// LogMeta is the position and identity of an event log on chain.
type LogMeta struct {
	Account     string `json:"account"`
	BlockNumber uint64 `json:"block_number"`
	TxIndex     uint64 `json:"tx_index"`
	LogIndex    uint64 `json:"log_index"`
	TxHash      string `json:"tx_hash"`
	BlockHash   string `json:"block_hash"`
	// Timestamp is the containing block's time in unix seconds, zero if unresolved.
	Timestamp uint64 `json:"timestamp"`
}

// Event is one decoded Facilitator log. The set of implementations is closed.
type Event interface {
	Kind() EventKind
	Meta() LogMeta
	isEvent()
}

// RequestingUpdate is emitted when an account asks the oracle for an allocation update.
type RequestingUpdate struct {
	LogMeta
}

// AllocationUpdated is emitted when the oracle writes a new allocation.
type AllocationUpdated struct {
	LogMeta
	Amount *big.Int
}

// AllocationClaimed is emitted when allocated tokens are transferred to the account.
type AllocationClaimed struct {
	LogMeta
	Amount *big.Int
}

// GasBudgetUpdated is emitted when the account's oracle gas budget changes.
type GasBudgetUpdated struct {
	LogMeta
	Amount *big.Int
}

func (RequestingUpdate) Kind() EventKind  { return KindRequestingUpdate }
func (AllocationUpdated) Kind() EventKind { return KindAllocationUpdated }
func (AllocationClaimed) Kind() EventKind { return KindAllocationClaimed }
func (GasBudgetUpdated) Kind() EventKind  { return KindGasBudgetUpdated }

func (e RequestingUpdate) Meta() LogMeta  { return e.LogMeta }
func (e AllocationUpdated) Meta() LogMeta { return e.LogMeta }
func (e AllocationClaimed) Meta() LogMeta { return e.LogMeta }
func (e GasBudgetUpdated) Meta() LogMeta  { return e.LogMeta }

func (RequestingUpdate) isEvent()  {}
func (AllocationUpdated) isEvent() {}
func (AllocationClaimed) isEvent() {}
func (GasBudgetUpdated) isEvent()  {}
