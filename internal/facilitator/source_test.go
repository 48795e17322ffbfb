package facilitator

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"claimScope/internal/model"
)

var (
	testContract = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	testAccount  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	otherAccount = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type fakeChain struct {
	mu          sync.Mutex
	latest      uint64
	logs        []types.Log
	filterCalls int
	failFilters int
	views       map[string]*big.Int
	receipts    []*types.Receipt
	receiptErrs []error
}

func (f *fakeChain) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filterCalls++
	if f.failFilters > 0 {
		f.failFilters--
		return nil, errors.New("rpc unavailable")
	}

	var out []types.Log
	for _, log := range f.logs {
		if log.BlockNumber < fromBlock || log.BlockNumber > toBlock {
			continue
		}
		if !containsAddress(addresses, log.Address) || !matchTopics(topics, log.Topics) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func (f *fakeChain) LatestBlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

func (f *fakeChain) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	return 1700000000 + number, nil
}

func (f *fakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	facilityABI, err := FacilityABI()
	if err != nil {
		return nil, err
	}
	method, err := facilityABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	value, ok := f.views[method.Name]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return method.Outputs.Pack(value)
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.receiptErrs) > 0 {
		err := f.receiptErrs[0]
		f.receiptErrs = f.receiptErrs[1:]
		return nil, err
	}
	if len(f.receipts) == 0 {
		return nil, ethereum.NotFound
	}
	receipt := f.receipts[0]
	f.receipts = f.receipts[1:]
	if receipt == nil {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func containsAddress(addresses []common.Address, addr common.Address) bool {
	if len(addresses) == 0 {
		return true
	}
	for _, candidate := range addresses {
		if candidate == addr {
			return true
		}
	}
	return false
}

func matchTopics(filter [][]common.Hash, topics []common.Hash) bool {
	for i, alternatives := range filter {
		if len(alternatives) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		found := false
		for _, want := range alternatives {
			if topics[i] == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func buildLog(t *testing.T, kind model.EventKind, account common.Address, amount *big.Int, block uint64, txIndex, logIndex uint) types.Log {
	t.Helper()
	facilityABI, err := FacilityABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	event := facilityABI.Events[kind.String()]

	var data []byte
	if amount != nil {
		data, err = event.Inputs.NonIndexed().Pack(amount)
		if err != nil {
			t.Fatalf("pack %s: %v", kind, err)
		}
	}

	return types.Log{
		Address:     testContract,
		Topics:      []common.Hash{event.ID, topicFromAddress(account)},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(txIndex))),
		TxIndex:     txIndex,
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(block)),
		Index:       logIndex,
	}
}

func newTestSource(t *testing.T, chain *fakeChain, batchSize uint64) *Source {
	t.Helper()
	source, err := NewSource(SourceConfig{
		Contract:     testContract,
		BatchSize:    batchSize,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
	}, chain, nil)
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	return source
}

func TestSourceQueryFiltersKindAndAccount(t *testing.T) {
	amount := big.NewInt(2_000_000_000_000_000_000)
	chain := &fakeChain{
		latest: 120,
		logs: []types.Log{
			buildLog(t, model.KindRequestingUpdate, testAccount, nil, 10, 0, 0),
			buildLog(t, model.KindAllocationClaimed, testAccount, amount, 12, 0, 1),
			buildLog(t, model.KindAllocationClaimed, otherAccount, amount, 13, 0, 0),
			buildLog(t, model.KindAllocationClaimed, testAccount, amount, 110, 2, 4),
		},
	}
	source := newTestSource(t, chain, 50)

	events, err := source.Query(context.Background(), model.KindAllocationClaimed, testAccount.Hex(), 0, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if chain.filterCalls != 3 {
		t.Fatalf("expected 3 batched filter calls, got %d", chain.filterCalls)
	}

	claimed, ok := events[1].(model.AllocationClaimed)
	if !ok {
		t.Fatalf("unexpected event type %T", events[1])
	}
	if claimed.Amount.Cmp(amount) != 0 {
		t.Fatalf("amount mismatch: %s", claimed.Amount)
	}
	if claimed.Account != testAccount.Hex() || claimed.BlockNumber != 110 || claimed.TxIndex != 2 || claimed.LogIndex != 4 {
		t.Fatalf("meta mismatch: %+v", claimed.LogMeta)
	}
	if claimed.Timestamp != 1700000110 {
		t.Fatalf("timestamp mismatch: %d", claimed.Timestamp)
	}
}

func TestSourceQueryEmptyRange(t *testing.T) {
	source := newTestSource(t, &fakeChain{latest: 5}, 10)

	events, err := source.Query(context.Background(), model.KindRequestingUpdate, testAccount.Hex(), 10, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestSourceQueryRetriesTransientFailure(t *testing.T) {
	chain := &fakeChain{
		latest:      20,
		failFilters: 1,
		logs:        []types.Log{buildLog(t, model.KindRequestingUpdate, testAccount, nil, 10, 0, 0)},
	}
	source := newTestSource(t, chain, 100)

	events, err := source.Query(context.Background(), model.KindRequestingUpdate, testAccount.Hex(), 0, 20)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 1 || chain.filterCalls != 2 {
		t.Fatalf("expected 1 event after 2 calls, got %d events %d calls", len(events), chain.filterCalls)
	}
}

func TestSourceQueryErrorCarriesKind(t *testing.T) {
	chain := &fakeChain{latest: 20, failFilters: 10}
	source := newTestSource(t, chain, 100)

	_, err := source.Query(context.Background(), model.KindAllocationUpdated, testAccount.Hex(), 0, 20)
	var queryErr *QueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("expected QueryError, got %v", err)
	}
	if queryErr.Kind != model.KindAllocationUpdated || queryErr.Account != testAccount.Hex() {
		t.Fatalf("query error mismatch: %+v", queryErr)
	}
}

func TestSourceQueryInvalidAccount(t *testing.T) {
	source := newTestSource(t, &fakeChain{latest: 20}, 100)
	if _, err := source.Query(context.Background(), model.KindRequestingUpdate, "not-an-address", 0, 0); err == nil {
		t.Fatalf("expected error for invalid account")
	}
}

func TestSourceWithoutClient(t *testing.T) {
	var source *Source
	if _, err := source.Query(context.Background(), model.KindRequestingUpdate, testAccount.Hex(), 0, 0); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestSourceQueryKindsKeepsLogOrder(t *testing.T) {
	chain := &fakeChain{
		latest: 30,
		logs: []types.Log{
			buildLog(t, model.KindRequestingUpdate, testAccount, nil, 10, 0, 0),
			buildLog(t, model.KindAllocationUpdated, testAccount, big.NewInt(7), 11, 0, 0),
			buildLog(t, model.KindGasBudgetUpdated, testAccount, big.NewInt(9), 11, 0, 1),
			buildLog(t, model.KindAllocationClaimed, testAccount, big.NewInt(7), 12, 0, 0),
		},
	}
	source := newTestSource(t, chain, 100)

	events, err := source.QueryKinds(context.Background(), watchKinds, testAccount.Hex(), 0, 30)
	if err != nil {
		t.Fatalf("query kinds: %v", err)
	}
	want := []model.EventKind{
		model.KindRequestingUpdate,
		model.KindAllocationUpdated,
		model.KindGasBudgetUpdated,
		model.KindAllocationClaimed,
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, event := range events {
		if event.Kind() != want[i] {
			t.Fatalf("event %d kind %s, want %s", i, event.Kind(), want[i])
		}
	}
}
