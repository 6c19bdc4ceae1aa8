package tempfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestRegistry_AddRemove(t *testing.T) {
	r := NewRegistry()

	r.Add("a.mp3.tmp")
	r.Add("a.mp3.tmp")
	r.Add("b.mp3.tmp")

	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	if !r.Contains("a.mp3.tmp") {
		t.Error("Contains(a) = false, want true")
	}

	if !r.Remove("a.mp3.tmp") {
		t.Error("Remove(a) = false, want true")
	}
	if r.Remove("a.mp3.tmp") {
		t.Error("second Remove(a) = true, want false")
	}
	if r.Contains("a.mp3.tmp") {
		t.Error("Contains(a) after Remove = true")
	}

	got := r.Snapshot()
	if len(got) != 1 || got[0] != "b.mp3.tmp" {
		t.Errorf("Snapshot() = %v, want [b.mp3.tmp]", got)
	}
}

func TestRegistry_ConcurrentMutation(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := fmt.Sprintf("item-%d.tmp", i)
			r.Add(p)
			if i%2 == 0 {
				r.Remove(p)
			}
		}(i)
	}
	wg.Wait()

	if r.Len() != 25 {
		t.Errorf("Len() = %d, want 25", r.Len())
	}
}

func TestRegistry_Sweep(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry()

	var registered []string
	for i := 0; i < 3; i++ {
		p := filepath.Join(dir, fmt.Sprintf("track-%d.mp3.tmp", i))
		if err := os.WriteFile(p, []byte("partial"), 0o644); err != nil {
			t.Fatalf("write temp: %v", err)
		}
		r.Add(p)
		registered = append(registered, p)
	}

	// Registered but never created: must be ignored silently.
	missing := filepath.Join(dir, "missing.mp3.tmp")
	r.Add(missing)

	// Final file that is not registered must survive.
	final := filepath.Join(dir, "done.mp3")
	if err := os.WriteFile(final, []byte("complete"), 0o644); err != nil {
		t.Fatalf("write final: %v", err)
	}

	swept := r.Sweep(zerolog.Nop())

	if len(swept) != 4 {
		t.Errorf("Sweep() attempted %d paths, want 4", len(swept))
	}
	for _, p := range registered {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("temp file %s still exists after Sweep", p)
		}
	}
	if _, err := os.Stat(final); err != nil {
		t.Errorf("final file removed by Sweep: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() after Sweep = %d, want 0", r.Len())
	}
}

func TestRegistry_SweepEmpty(t *testing.T) {
	r := NewRegistry()
	if swept := r.Sweep(zerolog.Nop()); len(swept) != 0 {
		t.Errorf("Sweep() on empty registry = %v", swept)
	}
}
