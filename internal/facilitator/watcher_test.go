package facilitator

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"

	"claimScope/internal/metrics"
	"claimScope/internal/model"
	"claimScope/internal/session"
)

type recordingHandler struct {
	requests []model.RequestingUpdate
	claims   []model.AllocationClaimed
}

func (r *recordingHandler) OnRequestingUpdate(ctx context.Context, event model.RequestingUpdate) error {
	r.requests = append(r.requests, event)
	return nil
}

func (r *recordingHandler) OnAllocationClaimed(ctx context.Context, event model.AllocationClaimed) error {
	r.claims = append(r.claims, event)
	return nil
}

type countingRefresher struct {
	calls int
}

func (c *countingRefresher) Refresh(ctx context.Context) error {
	c.calls++
	return nil
}

func (f *fakeChain) mine(latest uint64, logs ...types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest = latest
	f.logs = append(f.logs, logs...)
}

func blocksObserved(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() == "claims_blocks_observed_total" {
			return family.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("blocks observed metric not registered")
	return 0
}

func TestWatcherDispatchesNewBlocks(t *testing.T) {
	chain := &fakeChain{
		latest: 100,
		logs:   []types.Log{buildLog(t, model.KindRequestingUpdate, testAccount, nil, 90, 0, 0)},
	}
	sess := session.New()
	sess.Login(testAccount)
	handler := &recordingHandler{}
	refresher := &countingRefresher{}
	reg := prometheus.NewRegistry()

	watcher := NewWatcher(WatchConfig{RefreshEvery: 3}, newTestSource(t, chain, 100), sess, handler, refresher, nil, metrics.New(reg))

	if err := watcher.Poll(context.Background()); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if watcher.Next() != 101 {
		t.Fatalf("watch should start after head, next=%d", watcher.Next())
	}
	if len(handler.requests) != 0 {
		t.Fatalf("history before the head must not be dispatched")
	}

	chain.mine(103,
		buildLog(t, model.KindRequestingUpdate, testAccount, nil, 101, 0, 0),
		buildLog(t, model.KindAllocationUpdated, testAccount, big.NewInt(5), 102, 0, 0),
		buildLog(t, model.KindAllocationClaimed, testAccount, big.NewInt(5), 103, 0, 0),
		buildLog(t, model.KindAllocationClaimed, otherAccount, big.NewInt(5), 103, 1, 1),
	)
	if err := watcher.Poll(context.Background()); err != nil {
		t.Fatalf("second poll: %v", err)
	}

	if len(handler.requests) != 1 || len(handler.claims) != 1 {
		t.Fatalf("dispatch mismatch: %d requests %d claims", len(handler.requests), len(handler.claims))
	}
	if handler.claims[0].Timestamp != 1700000103 {
		t.Fatalf("live event timestamp not resolved: %d", handler.claims[0].Timestamp)
	}
	if watcher.Next() != 104 {
		t.Fatalf("next mismatch: %d", watcher.Next())
	}
	if refresher.calls != 1 {
		t.Fatalf("expected one periodic refresh, got %d", refresher.calls)
	}
	if got := blocksObserved(t, reg); got != 3 {
		t.Fatalf("blocks observed mismatch: %v", got)
	}
}

func TestWatcherRestartsOnSessionChange(t *testing.T) {
	chain := &fakeChain{latest: 50}
	sess := session.New()
	sess.Login(testAccount)
	handler := &recordingHandler{}
	watcher := NewWatcher(WatchConfig{FromBlock: 40}, newTestSource(t, chain, 100), sess, handler, nil, nil, nil)

	if err := watcher.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if watcher.Next() != 51 {
		t.Fatalf("next mismatch: %d", watcher.Next())
	}

	sess.Logout()
	chain.mine(55, buildLog(t, model.KindRequestingUpdate, testAccount, nil, 52, 0, 0))
	if err := watcher.Poll(context.Background()); err != nil {
		t.Fatalf("poll without account: %v", err)
	}
	if len(handler.requests) != 0 {
		t.Fatalf("nothing should be dispatched without an account")
	}

	sess.Login(otherAccount)
	chain.mine(56, buildLog(t, model.KindRequestingUpdate, otherAccount, nil, 45, 0, 0))
	if err := watcher.Poll(context.Background()); err != nil {
		t.Fatalf("poll after login: %v", err)
	}
	if len(handler.requests) != 1 || handler.requests[0].Account != otherAccount.Hex() {
		t.Fatalf("new account should be watched from the configured block: %+v", handler.requests)
	}
}

func TestWatcherResumesFromCursor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watch.json")
	chain := &fakeChain{latest: 200}
	sess := session.New()
	sess.Login(testAccount)

	first := NewWatcher(WatchConfig{FromBlock: 150, CursorPath: path}, newTestSource(t, chain, 100), sess, &recordingHandler{}, nil, nil, nil)
	if err := first.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	chain.mine(210, buildLog(t, model.KindRequestingUpdate, testAccount, nil, 205, 0, 0))
	handler := &recordingHandler{}
	second := NewWatcher(WatchConfig{CursorPath: path}, newTestSource(t, chain, 100), sess, handler, nil, nil, nil)
	if err := second.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(handler.requests) != 1 {
		t.Fatalf("resumed watcher should see blocks after the cursor, got %d", len(handler.requests))
	}
}

func TestCursorStoreIgnoresOtherAccount(t *testing.T) {
	store := NewCursorStore(filepath.Join(t.TempDir(), "cursor.json"))
	if err := store.Save(testAccount.Hex(), 99); err != nil {
		t.Fatalf("save: %v", err)
	}

	cursor, ok, err := store.Load(testAccount.Hex())
	if err != nil || !ok || cursor.LastObservedBlock != 99 {
		t.Fatalf("load mismatch: %+v %v %v", cursor, ok, err)
	}
	if _, ok, err := store.Load(otherAccount.Hex()); err != nil || ok {
		t.Fatalf("cursor of another account must be ignored: %v %v", ok, err)
	}

	var disabled *CursorStore
	if _, ok, err := disabled.Load(testAccount.Hex()); err != nil || ok {
		t.Fatalf("disabled store should load nothing")
	}
}

func TestWatcherFromBlockCoversBlocksMinedBeforeFirstPoll(t *testing.T) {
	// head was 99 when the initial refresh read it; block 100 lands before the first poll
	chain := &fakeChain{latest: 99}
	sess := session.New()
	sess.Login(testAccount)
	handler := &recordingHandler{}
	watcher := NewWatcher(WatchConfig{FromBlock: 100}, newTestSource(t, chain, 100), sess, handler, nil, nil, nil)

	chain.mine(100, buildLog(t, model.KindAllocationClaimed, testAccount, big.NewInt(5), 100, 0, 0))
	if err := watcher.Poll(context.Background()); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	chain.mine(110)
	if err := watcher.Poll(context.Background()); err != nil {
		t.Fatalf("second poll: %v", err)
	}

	if len(handler.claims) != 1 || handler.claims[0].BlockNumber != 100 {
		t.Fatalf("claim mined before the first poll was not dispatched: %+v", handler.claims)
	}
	if watcher.Next() != 111 {
		t.Fatalf("next mismatch: %d", watcher.Next())
	}
}
