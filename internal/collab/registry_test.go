package collab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/crdt"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/storage"
)

type fakeLogStore struct {
	mu        sync.Mutex
	updates   map[uuid.UUID][][]byte
	appendErr error
}

func newFakeLogStore() *fakeLogStore {
	return &fakeLogStore{updates: make(map[uuid.UUID][][]byte)}
}

func (f *fakeLogStore) Append(_ context.Context, documentID uuid.UUID, update []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	stored := make([]byte, len(update))
	copy(stored, update)
	f.updates[documentID] = append(f.updates[documentID], stored)
	return nil
}

func (f *fakeLogStore) CountSince(_ context.Context, documentID uuid.UUID, _ *time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates[documentID]), nil
}

func (f *fakeLogStore) ReadSince(_ context.Context, documentID uuid.UUID, _ *time.Time) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.updates[documentID]))
	copy(out, f.updates[documentID])
	return out, nil
}

func (f *fakeLogStore) count(documentID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates[documentID])
}

type fakeSnapshots struct {
	mu   sync.Mutex
	data map[uuid.UUID][]byte
	at   map[uuid.UUID]time.Time
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{data: make(map[uuid.UUID][]byte), at: make(map[uuid.UUID]time.Time)}
}

func (f *fakeSnapshots) Load(_ context.Context, documentID uuid.UUID) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[documentID], nil
}

func (f *fakeSnapshots) Info(_ context.Context, documentID uuid.UUID) (*storage.SnapshotInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.at[documentID]
	if !ok {
		return nil, nil
	}
	return &storage.SnapshotInfo{LastSnapshotAt: at, Storage: storage.StorageInline}, nil
}

func testSettings() Settings {
	return Settings{
		Debounce:          10 * time.Millisecond,
		MaxDebounce:       50 * time.Millisecond,
		IdleTTL:           20 * time.Millisecond,
		SessionTimeout:    time.Second,
		SnapshotThreshold: 100,
		BackpressureLimit: 64,
	}
}

func newTestRegistry(logs LogStore, snaps SnapshotSource, settings Settings) *Registry {
	return NewRegistry(logs, snaps, settings, zap.NewNop())
}

func editorUpdates(text string) [][]byte {
	s := crdt.NewState()
	updates := make([][]byte, 0, len(text))
	for i, r := range []byte(text) {
		updates = append(updates, s.Insert(1, i, []byte{r}))
	}
	return updates
}

func TestAcquireHydratesFromSnapshotAndLog(t *testing.T) {
	docID := uuid.New()
	logs := newFakeLogStore()
	snaps := newFakeSnapshots()

	updates := editorUpdates("abc")
	state, err := crdt.Hydrate(nil, updates[:2])
	if err != nil {
		t.Fatal(err)
	}
	snaps.data[docID] = state.Encode()
	snaps.at[docID] = time.Now()
	logs.updates[docID] = updates[2:]

	g := newTestRegistry(logs, snaps, testSettings())
	replica, err := g.Acquire(context.Background(), docID)
	if err != nil {
		t.Fatal(err)
	}
	replica.mu.Lock()
	got := string(replica.state.Bytes())
	replica.mu.Unlock()
	if got != "abc" {
		t.Fatalf("hydrated content = %q, want %q", got, "abc")
	}
}

func TestAcquireReturnsSameReplica(t *testing.T) {
	docID := uuid.New()
	g := newTestRegistry(newFakeLogStore(), newFakeSnapshots(), testSettings())

	const n = 8
	replicas := make([]*Replica, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := g.Acquire(context.Background(), docID)
			if err != nil {
				t.Error(err)
				return
			}
			replicas[i] = r
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if replicas[i] != replicas[0] {
			t.Fatal("concurrent acquires produced distinct replicas")
		}
	}
	if g.ReplicaCount() != 1 {
		t.Fatalf("ReplicaCount = %d, want 1", g.ReplicaCount())
	}
}

func TestCorruptStoredUpdateQuarantines(t *testing.T) {
	docID := uuid.New()
	logs := newFakeLogStore()
	logs.updates[docID] = [][]byte{{0xff, 0xff, 0xff}}

	g := newTestRegistry(logs, newFakeSnapshots(), testSettings())
	replica, err := g.Acquire(context.Background(), docID)
	if err != nil {
		t.Fatal(err)
	}
	if !replica.Quarantined() {
		t.Fatal("replica not quarantined after corrupt stored update")
	}

	update := editorUpdates("x")[0]
	if err := replica.ApplyUpdate(context.Background(), nil, update); !errors.Is(err, ErrQuarantined) {
		t.Fatalf("err = %v, want ErrQuarantined", err)
	}
	// The log was not truncated or overwritten.
	if logs.count(docID) != 1 {
		t.Fatalf("log length = %d, want 1", logs.count(docID))
	}
}

func TestApplyUpdateAppendsBeforeReturning(t *testing.T) {
	docID := uuid.New()
	logs := newFakeLogStore()
	g := newTestRegistry(logs, newFakeSnapshots(), testSettings())

	replica, err := g.Acquire(context.Background(), docID)
	if err != nil {
		t.Fatal(err)
	}
	update := editorUpdates("a")[0]
	if err := replica.ApplyUpdate(context.Background(), nil, update); err != nil {
		t.Fatal(err)
	}
	if logs.count(docID) != 1 {
		t.Fatalf("log length = %d, want 1", logs.count(docID))
	}
}

func TestApplyUpdateSurfacesAppendFailure(t *testing.T) {
	docID := uuid.New()
	logs := newFakeLogStore()
	g := newTestRegistry(logs, newFakeSnapshots(), testSettings())

	replica, err := g.Acquire(context.Background(), docID)
	if err != nil {
		t.Fatal(err)
	}
	logs.appendErr = errors.New("db down")
	update := editorUpdates("a")[0]
	if err := replica.ApplyUpdate(context.Background(), nil, update); err == nil {
		t.Fatal("expected append failure to surface")
	}
}

func TestDebouncedStoreAppendsFullState(t *testing.T) {
	docID := uuid.New()
	logs := newFakeLogStore()
	g := newTestRegistry(logs, newFakeSnapshots(), testSettings())

	replica, err := g.Acquire(context.Background(), docID)
	if err != nil {
		t.Fatal(err)
	}
	update := editorUpdates("a")[0]
	if err := replica.ApplyUpdate(context.Background(), nil, update); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for logs.count(docID) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("debounced store never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The stored full state decodes to the same document.
	stored := logs.updates[docID][1]
	restored, err := crdt.Hydrate(nil, [][]byte{stored})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(restored.Bytes()); got != "a" {
		t.Fatalf("stored state decodes to %q, want %q", got, "a")
	}
}

func TestIdleReplicaIsEvicted(t *testing.T) {
	docID := uuid.New()
	g := newTestRegistry(newFakeLogStore(), newFakeSnapshots(), testSettings())

	if _, err := g.Acquire(context.Background(), docID); err != nil {
		t.Fatal(err)
	}
	g.Release(docID)

	deadline := time.Now().Add(time.Second)
	for g.ReplicaCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle replica never evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCompactionRequestAfterThreshold(t *testing.T) {
	docID := uuid.New()
	settings := testSettings()
	settings.SnapshotThreshold = 2
	g := newTestRegistry(newFakeLogStore(), newFakeSnapshots(), settings)

	replica, err := g.Acquire(context.Background(), docID)
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range editorUpdates("ab") {
		if err := replica.ApplyUpdate(context.Background(), nil, u); err != nil {
			t.Fatal(err)
		}
	}

	requests := g.CompactionRequests()
	if len(requests) != 1 || requests[0] != docID {
		t.Fatalf("requests = %v, want [%s]", requests, docID)
	}
	// The flag is consumed on read.
	if again := g.CompactionRequests(); len(again) != 0 {
		t.Fatalf("second drain returned %v, want empty", again)
	}
}

func TestShutdownRefusesNewAcquires(t *testing.T) {
	g := newTestRegistry(newFakeLogStore(), newFakeSnapshots(), testSettings())
	if _, err := g.Acquire(context.Background(), uuid.New()); err != nil {
		t.Fatal(err)
	}
	if err := g.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Acquire(context.Background(), uuid.New()); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("err = %v, want ErrShuttingDown", err)
	}
}
