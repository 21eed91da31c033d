package logger

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
)

func TestAsyncWriterConcurrentSaturation(t *testing.T) {
	var buf bytes.Buffer
	w := newAsyncWriter([]io.Writer{&buf}, 0)

	const (
		writers = 8
		perG    = 400
	)

	var wg sync.WaitGroup
	for g := 0; g < writers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				line := fmt.Sprintf("g%d-%d\n", g, i)
				if _, err := w.Write([]byte(line)); err != nil {
					t.Errorf("write: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if got, want := len(lines), writers*perG; got != want {
		t.Fatalf("line count = %d, want %d", got, want)
	}

	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		if seen[line] {
			t.Fatalf("duplicate line %q", line)
		}
		seen[line] = true
	}
	for g := 0; g < writers; g++ {
		for i := 0; i < perG; i++ {
			key := fmt.Sprintf("g%d-%d", g, i)
			if !seen[key] {
				t.Fatalf("missing line %q", key)
			}
		}
	}
}

func TestAsyncWriterWriteAfterClose(t *testing.T) {
	var buf bytes.Buffer
	w := newAsyncWriter([]io.Writer{&buf}, 0)

	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := w.Write([]byte("late line\n")); err != nil {
		t.Fatalf("write after close: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush after close: %v", err)
	}
	if !strings.Contains(buf.String(), "late line") {
		t.Fatalf("late line not written, got %q", buf.String())
	}
}
