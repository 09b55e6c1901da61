package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"fairsim/internal/engine"
	"fairsim/internal/store"
	"fairsim/internal/summary"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// start watches st.Dir and returns the channel changes arrive on. The
// watcher stops when the test ends.
func start(t *testing.T, st *store.Store) <-chan Change {
	t.Helper()
	w, err := New(st.Dir, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	changes := make(chan Change, 64)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(c Change) {
			select {
			case changes <- c:
			default:
			}
		})
	}()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	return changes
}

// await reads changes until want arrives.
func await(t *testing.T, changes <-chan Change, want Change) {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case c := <-changes:
			if c == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %+v", want)
		}
	}
}

// ---------------------------------------------------------------------------
// Watcher
// ---------------------------------------------------------------------------

func TestModelEditReported(t *testing.T) {
	st := store.New(filepath.Join(t.TempDir(), "models"))
	if err := st.Init("acme", nil); err != nil {
		t.Fatal(err)
	}
	changes := start(t, st)

	path := filepath.Join(st.Dir, "acme", "model.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		t.Fatal(err)
	}
	await(t, changes, Change{Model: "acme", Kind: ModelChanged})
}

func TestSavedResultsReported(t *testing.T) {
	st := store.New(filepath.Join(t.TempDir(), "models"))
	if err := st.Init("acme", nil); err != nil {
		t.Fatal(err)
	}
	changes := start(t, st)

	m, err := st.Load("acme")
	if err != nil {
		t.Fatal(err)
	}
	res, err := engine.New(engine.Config{Seed: 3}, nil).Run(context.Background(), m, 20)
	if err != nil {
		t.Fatal(err)
	}
	sum, err := summary.Summarize(res)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SaveResults("acme", res, sum); err != nil {
		t.Fatal(err)
	}
	await(t, changes, Change{Model: "acme", Kind: ResultsChanged})
}

// TestNewModelReported creates a model after the watch started; its
// directory is picked up and the model reported.
func TestNewModelReported(t *testing.T) {
	st := store.New(filepath.Join(t.TempDir(), "models"))
	if err := st.Init("acme", nil); err != nil {
		t.Fatal(err)
	}
	changes := start(t, st)

	if err := st.Init("beta", nil); err != nil {
		t.Fatal(err)
	}
	await(t, changes, Change{Model: "beta", Kind: ModelChanged})
}

func TestNewMissingDir(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "absent"), 0, nil); err == nil {
		t.Fatal("expected error for a missing directory")
	}
}

// ---------------------------------------------------------------------------
// Debounce
// ---------------------------------------------------------------------------

func TestDueWaitsForQuiet(t *testing.T) {
	w := &Watcher{debounce: time.Second, pending: make(map[Change]time.Time)}
	base := time.Now()
	w.pending[Change{Model: "b", Kind: ModelChanged}] = base
	w.pending[Change{Model: "a", Kind: ResultsChanged}] = base
	w.pending[Change{Model: "a", Kind: ModelChanged}] = base
	w.pending[Change{Model: "c", Kind: ModelChanged}] = base.Add(900 * time.Millisecond)

	if got := w.due(base.Add(500 * time.Millisecond)); len(got) != 0 {
		t.Fatalf("due before the interval = %v", got)
	}
	want := []Change{
		{Model: "a", Kind: ModelChanged},
		{Model: "a", Kind: ResultsChanged},
		{Model: "b", Kind: ModelChanged},
	}
	if diff := cmp.Diff(want, w.due(base.Add(time.Second))); diff != "" {
		t.Errorf("due (-want +got):\n%s", diff)
	}
	if len(w.pending) != 1 {
		t.Errorf("pending = %v, want only c", w.pending)
	}
}
