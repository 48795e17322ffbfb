package model

import (
	"encoding/json"
	"testing"
)

func TestClaimRecordPhase(t *testing.T) {
	claim := ClaimRecord{ClaimNumber: 1}
	if claim.Phase() != PhasePending {
		t.Fatalf("fresh claim should be pending")
	}

	claim.RequestingUpdate = &TxRef{TxHash: "0xaa", Timestamp: 100}
	if claim.Phase() != PhasePending {
		t.Fatalf("phase mismatch: %s", claim.Phase())
	}

	claim.AllocationClaimed = &TxRef{TxHash: "0xbb", Timestamp: 200}
	if claim.Phase() != PhaseFinalized {
		t.Fatalf("phase mismatch: %s", claim.Phase())
	}
	if !claim.HasRequestingUpdate("0xAA") {
		t.Fatalf("requesting update hash should match case-insensitively")
	}
}

func TestClaimRecordCloneIsDeep(t *testing.T) {
	original := ClaimRecord{ClaimNumber: 2, RequestingUpdate: &TxRef{TxHash: "0xaa"}}
	clone := original.Clone()
	clone.RequestingUpdate.TxHash = "0xcc"

	if original.RequestingUpdate.TxHash != "0xaa" {
		t.Fatalf("clone shares requesting update ref")
	}
}

func TestClaimRecordAmountIsJSONString(t *testing.T) {
	claim := ClaimRecord{
		ClaimNumber:       1,
		Amount:            "1.235",
		RequestingUpdate:  &TxRef{TxHash: "0xaa", Timestamp: 1},
		AllocationClaimed: &TxRef{TxHash: "0xbb", Timestamp: 2},
	}

	data, err := json.Marshal(claim)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, ok := decoded["amount"].(string); !ok {
		t.Fatalf("amount should be string")
	}
}

func TestStateClaimLogAppendsPending(t *testing.T) {
	state := FacilitatorState{
		Claims:  []ClaimRecord{{ClaimNumber: 2}, {ClaimNumber: 1}},
		Pending: &ClaimRecord{ClaimNumber: 3},
	}

	log := state.ClaimLog()
	if len(log) != 3 || log[2].ClaimNumber != 3 {
		t.Fatalf("claim log mismatch: %+v", log)
	}
}
