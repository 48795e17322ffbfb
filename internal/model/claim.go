package model

import (
	"strings"
	"time"
)

// Phase is the lifecycle position of a claim.
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseFinalized Phase = "finalized"
)

// TxRef points at the transaction that carried one step of a claim.
type TxRef struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	Timestamp   uint64 `json:"timestamp"`
}

// Time returns the block time in UTC.
func (r TxRef) Time() time.Time {
	return time.Unix(int64(r.Timestamp), 0).UTC()
}

// ClaimRecord is one user-initiated claim reconstructed from events.
type ClaimRecord struct {
	ClaimNumber       int    `json:"claim_number"`
	Amount            string `json:"amount,omitempty"`
	RequestingUpdate  *TxRef `json:"requesting_update,omitempty"`
	AllocationClaimed *TxRef `json:"allocation_claimed,omitempty"`
}

// Phase reports finalized once both steps are recorded.
func (c ClaimRecord) Phase() Phase {
	if c.RequestingUpdate != nil && c.AllocationClaimed != nil {
		return PhaseFinalized
	}
	return PhasePending
}

// HasRequestingUpdate reports whether txHash is this claim's requesting-update transaction.
func (c ClaimRecord) HasRequestingUpdate(txHash string) bool {
	return c.RequestingUpdate != nil && strings.EqualFold(c.RequestingUpdate.TxHash, txHash)
}

// Clone returns a deep copy.
func (c ClaimRecord) Clone() ClaimRecord {
	out := c
	if c.RequestingUpdate != nil {
		ref := *c.RequestingUpdate
		out.RequestingUpdate = &ref
	}
	if c.AllocationClaimed != nil {
		ref := *c.AllocationClaimed
		out.AllocationClaimed = &ref
	}
	return out
}
