package facilitator

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

const fundingTx = "0x00000000000000000000000000000000000000000000000000000000000000aa"

type recordingClaimer struct {
	calls []string
	ts    []uint64
}

func (r *recordingClaimer) AddPendingClaim(txHash string, blockTimestamp uint64) bool {
	r.calls = append(r.calls, txHash)
	r.ts = append(r.ts, blockTimestamp)
	return len(r.calls) == 1
}

func TestConfirmerWaitsForReceipt(t *testing.T) {
	chain := &fakeChain{
		receipts: []*types.Receipt{
			nil,
			nil,
			{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(77)},
		},
		receiptErrs: []error{errors.New("connection reset")},
	}
	claimer := &recordingClaimer{}
	confirmer := NewConfirmer(chain, claimer, time.Millisecond, 3, nil)

	added, err := confirmer.WaitFunded(context.Background(), fundingTx)
	if err != nil {
		t.Fatalf("wait funded: %v", err)
	}
	if !added {
		t.Fatalf("expected pending claim to be added")
	}
	if len(claimer.calls) != 1 || claimer.ts[0] != 1700000077 {
		t.Fatalf("claimer mismatch: %+v %+v", claimer.calls, claimer.ts)
	}
}

func TestConfirmerRevertedTransaction(t *testing.T) {
	chain := &fakeChain{
		receipts: []*types.Receipt{{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(5)}},
	}
	claimer := &recordingClaimer{}

	_, err := NewConfirmer(chain, claimer, time.Millisecond, 0, nil).WaitFunded(context.Background(), fundingTx)
	if !errors.Is(err, ErrTxReverted) {
		t.Fatalf("expected ErrTxReverted, got %v", err)
	}
	if len(claimer.calls) != 0 {
		t.Fatalf("reverted transaction must not be recorded")
	}
}

func TestConfirmerGivesUpAfterErrors(t *testing.T) {
	chain := &fakeChain{
		receiptErrs: []error{errors.New("a"), errors.New("b"), errors.New("c")},
	}

	if _, err := NewConfirmer(chain, &recordingClaimer{}, time.Millisecond, 2, nil).WaitFunded(context.Background(), fundingTx); err == nil {
		t.Fatalf("expected error after repeated receipt failures")
	}
}

func TestConfirmerHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewConfirmer(&fakeChain{}, &recordingClaimer{}, time.Millisecond, 0, nil).WaitFunded(ctx, fundingTx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestConfirmerInvalidHash(t *testing.T) {
	if _, err := NewConfirmer(&fakeChain{}, &recordingClaimer{}, time.Millisecond, 0, nil).WaitFunded(context.Background(), "0x1234"); err == nil {
		t.Fatalf("expected error for short hash")
	}
}
