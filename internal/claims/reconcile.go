package claims

import (
	"sort"
	"strings"

	"claimScope/internal/model"
)

// Reconcile rebuilds the claim history from an unordered set of Facilitator events.
//
// Events are ordered by (block number, transaction index), with RequestingUpdate <
// AllocationUpdated < AllocationClaimed breaking ties. A claim closes as soon as it has both a
// RequestingUpdate and an AllocationClaimed; AllocationUpdated never gates completion. A trailing
// claim with only a RequestingUpdate is returned as pending. Finalized claims are returned most
// recent first, numbered from startingClaimNumber in chronological order.
func Reconcile(events []model.Event, startingClaimNumber int) ([]model.ClaimRecord, *model.ClaimRecord) {
	if startingClaimNumber < 1 {
		startingClaimNumber = 1
	}

	ordered := sortEvents(dedupeEvents(events))

	finalized := make([]model.ClaimRecord, 0)
	current := model.ClaimRecord{ClaimNumber: startingClaimNumber}

	for _, event := range ordered {
		switch typed := event.(type) {
		case model.RequestingUpdate:
			if current.RequestingUpdate == nil {
				current.RequestingUpdate = txRef(typed.LogMeta)
			}
		case model.AllocationClaimed:
			if current.AllocationClaimed == nil {
				current.AllocationClaimed = txRef(typed.LogMeta)
				current.Amount = FormatAmount(typed.Amount)
			}
		case model.AllocationUpdated, model.GasBudgetUpdated:
			continue
		}

		if current.Phase() == model.PhaseFinalized {
			finalized = append(finalized, current)
			current = model.ClaimRecord{ClaimNumber: current.ClaimNumber + 1}
		}
	}

	var pending *model.ClaimRecord
	if current.RequestingUpdate != nil && current.AllocationClaimed == nil {
		pending = &current
	}

	for i, j := 0, len(finalized)-1; i < j; i, j = i+1, j-1 {
		finalized[i], finalized[j] = finalized[j], finalized[i]
	}

	return finalized, pending
}

func txRef(meta model.LogMeta) *model.TxRef {
	return &model.TxRef{
		TxHash:      meta.TxHash,
		BlockNumber: meta.BlockNumber,
		Timestamp:   meta.Timestamp,
	}
}

// kindPriority keeps the walk monotonic when two events share a position.
func kindPriority(kind model.EventKind) int {
	switch kind {
	case model.KindRequestingUpdate:
		return 0
	case model.KindAllocationUpdated:
		return 1
	case model.KindAllocationClaimed:
		return 2
	default:
		return 3
	}
}

func sortEvents(events []model.Event) []model.Event {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i].Meta(), events[j].Meta()
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.TxIndex != b.TxIndex {
			return a.TxIndex < b.TxIndex
		}
		pa, pb := kindPriority(events[i].Kind()), kindPriority(events[j].Kind())
		if pa != pb {
			return pa < pb
		}
		return a.LogIndex < b.LogIndex
	})
	return events
}

type logKey struct {
	kind     model.EventKind
	txHash   string
	logIndex uint64
}

// dedupeEvents drops repeated copies of the same log, which show up when ranges are re-queried.
func dedupeEvents(events []model.Event) []model.Event {
	seen := make(map[logKey]struct{}, len(events))
	out := make([]model.Event, 0, len(events))
	for _, event := range events {
		if event == nil {
			continue
		}
		meta := event.Meta()
		key := logKey{kind: event.Kind(), txHash: strings.ToLower(meta.TxHash), logIndex: meta.LogIndex}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, event)
	}
	return out
}
