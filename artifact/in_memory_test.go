package artifact

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hupe1980/taskmesh/core"
)

// Interface compliance (compile-time assertions)
var _ core.ArtifactStore = (*InMemoryStore)(nil)

func TestInMemoryArtifactStore_SaveGetIsolation(t *testing.T) {
	svc := NewInMemoryStore()
	data := []byte("freq_mhz,level_dbuv\n144.2,41.2\n")
	if err := svc.Save("run-1", core.Artifact{Path: "scan.csv", Format: "csv"}, data); err != nil {
		t.Fatalf("save: %v", err)
	}
	// mutate original slice
	data[0] = 'X'
	out, err := svc.Get("run-1", "scan.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out[0] != 'f' { // should not reflect mutation
		t.Fatalf("expected stored bytes untouched, got %q", string(out))
	}
	// mutate returned slice
	out[0] = 'x'
	out2, _ := svc.Get("run-1", "scan.csv")
	if out2[0] != 'f' { // original stored should be unchanged
		t.Fatalf("expected isolation, got %q", string(out2))
	}
}

func TestInMemoryArtifactStore_StatCarriesReference(t *testing.T) {
	svc := NewInMemoryStore()
	ref := core.Artifact{Path: "reports/summary.md", Format: "markdown", Description: "Scan summary"}
	if err := svc.Save("run-1", ref, []byte("# Summary")); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := svc.Stat("run-1", "reports/summary.md")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if got != ref {
		t.Fatalf("expected %+v, got %+v", ref, got)
	}
	if _, err := svc.Stat("run-1", "missing.md"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryArtifactStore_ListAndDelete(t *testing.T) {
	svc := NewInMemoryStore()
	if err := svc.Save("run-1", core.Artifact{Path: "scan.csv"}, []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := svc.Save("run-1", core.Artifact{Path: "notes.md"}, []byte("2")); err != nil {
		t.Fatal(err)
	}
	refs, err := svc.List("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 refs, got %d", len(refs))
	}
	if refs[0].Path != "notes.md" { // sorted by path
		t.Fatalf("expected notes.md first, got %q", refs[0].Path)
	}
	if err := svc.Delete("run-1", "scan.csv"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get("run-1", "scan.csv"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected error for deleted artifact, got %v", err)
	}
	refs, _ = svc.List("run-1")
	if len(refs) != 1 {
		t.Fatalf("expected 1 ref after delete, got %d", len(refs))
	}
}

func TestInMemoryArtifactStore_Concurrency(t *testing.T) {
	svc := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			path := fmt.Sprintf("chunk-%d.json", i%10)
			if err := svc.Save("run-1", core.Artifact{Path: path}, []byte("data")); err != nil {
				t.Errorf("save err: %v", err)
			}
			_, _ = svc.List("run-1")
		}()
	}
	wg.Wait()
	refs, err := svc.List("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) == 0 {
		t.Fatalf("expected some artifacts, got 0")
	}
}
