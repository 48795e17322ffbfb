package claims

import (
	"context"
	"errors"
	"sync"
	"testing"

	"claimScope/internal/model"
)

type fakeReader struct {
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeReader) Snapshot(ctx context.Context, account string) (model.FacilitatorSnapshot, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return model.FacilitatorSnapshot{}, f.err
	}
	return model.FacilitatorSnapshot{
		Account:         account,
		BlockNumber:     99,
		TokenAllocation: "5000",
		ClaimedTokens:   "2000",
	}, nil
}

type memorySink struct {
	mu      sync.Mutex
	reports []model.ClaimReport
}

func (m *memorySink) SaveState(ctx context.Context, report model.ClaimReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, report)
	return nil
}

func TestRefresherWritesReport(t *testing.T) {
	source := newFakeSource()
	source.add(
		requestingUpdate(10, 0, "0xaa"),
		allocationClaimed(12, 0, "0xbb", "2000000000000000000"),
	)
	store, sess := newTestStore(source)
	sink := &memorySink{}
	refresher := NewRefresher(RefresherConfig{ChainID: 1, Contract: "0xf1"}, store, &fakeReader{}, sink, sess, nil, nil)

	if err := refresher.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if len(sink.reports) != 1 {
		t.Fatalf("expected one report, got %d", len(sink.reports))
	}
	report := sink.reports[0]
	if report.Account != alice.Hex() || report.ChainID != 1 || report.Contract != "0xf1" {
		t.Fatalf("report header mismatch: %+v", report)
	}
	if len(report.State.Claims) != 1 || report.State.Claims[0].Amount != "2.000" {
		t.Fatalf("report claims mismatch: %+v", report.State.Claims)
	}
	if report.Snapshot == nil || report.Snapshot.TokenAllocation != "5000" {
		t.Fatalf("report snapshot mismatch: %+v", report.Snapshot)
	}

	last, ok := refresher.LastReport()
	if !ok || last.GeneratedAt != report.GeneratedAt {
		t.Fatalf("last report mismatch: %+v", last)
	}
}

func TestRefresherToleratesSnapshotFailure(t *testing.T) {
	source := newFakeSource()
	source.add(requestingUpdate(10, 0, "0xaa"))
	store, sess := newTestStore(source)
	sink := &memorySink{}
	refresher := NewRefresher(RefresherConfig{}, store, &fakeReader{err: errors.New("execution reverted")}, sink, sess, nil, nil)

	if err := refresher.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(sink.reports) != 1 || sink.reports[0].Snapshot != nil {
		t.Fatalf("report should be written without snapshot: %+v", sink.reports)
	}
	if sink.reports[0].State.Pending == nil {
		t.Fatalf("claims should still be reconciled")
	}
}

func TestRefresherWithoutAccount(t *testing.T) {
	store, sess := newTestStore(newFakeSource())
	sess.Logout()
	sink := &memorySink{}
	refresher := NewRefresher(RefresherConfig{}, store, &fakeReader{}, sink, sess, nil, nil)

	if err := refresher.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(sink.reports) != 0 {
		t.Fatalf("no report expected without account")
	}
	if _, ok := refresher.LastReport(); ok {
		t.Fatalf("no last report expected")
	}
}

func TestRefresherDropsOverlappingRequests(t *testing.T) {
	store, sess := newTestStore(newFakeSource())
	reader := &fakeReader{started: make(chan struct{}), release: make(chan struct{})}
	sink := &memorySink{}
	refresher := NewRefresher(RefresherConfig{}, store, reader, sink, sess, nil, nil)

	done := make(chan error, 1)
	go func() {
		done <- refresher.Refresh(context.Background())
	}()
	<-reader.started

	if err := refresher.Refresh(context.Background()); err != nil {
		t.Fatalf("overlapping refresh should be dropped silently: %v", err)
	}
	close(reader.release)

	if err := <-done; err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(sink.reports) != 1 {
		t.Fatalf("expected a single report, got %d", len(sink.reports))
	}
}

func TestRefresherWithoutStore(t *testing.T) {
	if err := NewRefresher(RefresherConfig{}, nil, nil, nil, nil, nil, nil).Refresh(context.Background()); !errors.Is(err, errStoreMissing) {
		t.Fatalf("expected errStoreMissing, got %v", err)
	}
}
