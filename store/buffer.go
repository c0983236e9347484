package store

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Buffer accumulates samples in memory and flushes them as immutable JSONL
// files. File names are timestamp-ordered so newer files sort later, and a
// random suffix plus a sequence counter keeps concurrent flushers apart.
type Buffer struct {
	mu      sync.Mutex
	dir     string
	tmpDir  string
	samples []Sample
	seq     int
	rng     *rand.Rand
}

func NewBuffer(dir string) (*Buffer, error) {
	if dir == "" {
		return nil, fmt.Errorf("buffer dir is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	tmpDir := filepath.Join(abs, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create buffer dir: %w", err)
	}
	return &Buffer{
		dir:    abs,
		tmpDir: tmpDir,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (b *Buffer) Add(samples ...Sample) {
	b.mu.Lock()
	b.samples = append(b.samples, samples...)
	b.mu.Unlock()
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Flush writes the buffered samples to a new file and empties the buffer.
// On failure the samples are retained for the next attempt. Returns the
// written path and sample count; an empty buffer is a no-op.
func (b *Buffer) Flush() (string, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.samples) == 0 {
		return "", 0, nil
	}

	b.seq++
	name := fmt.Sprintf("samples_%d_%04x_%04d.jsonl", time.Now().UnixNano(), b.rng.Intn(0x10000), b.seq)
	tmpPath := filepath.Join(b.tmpDir, name)
	outPath := filepath.Join(b.dir, name)

	if err := writeJSONL(tmpPath, b.samples); err != nil {
		_ = os.Remove(tmpPath)
		return "", 0, err
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", 0, err
	}

	n := len(b.samples)
	b.samples = b.samples[:0]
	return outPath, n, nil
}

func writeJSONL(path string, samples []Sample) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open jsonl: %w", err)
	}
	enc := json.NewEncoder(f)
	for i := range samples {
		if err := enc.Encode(&samples[i]); err != nil {
			f.Close()
			return fmt.Errorf("encode sample: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
