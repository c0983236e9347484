package model

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeModelDir(t *testing.T, dir string, fingerprint string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weights.onnx"), []byte("not a real network"), 0o644))
	manifest := `{"format":"onnx","board_size":15,"weights":["weights.onnx"],"fingerprint":"` + fingerprint + `"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.json"), []byte(manifest), 0o644))
}

func TestLoadAndFingerprint(t *testing.T) {
	dir := t.TempDir()
	writeModelDir(t, dir, "abc123")

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "onnx", m.Manifest.Format)
	assert.Equal(t, 15, m.Manifest.BoardSize)
	assert.Equal(t, "abc123", m.Fingerprint())
	assert.Equal(t, filepath.Join(dir, "weights.onnx"), m.WeightPath())
}

func TestLoadComputedFingerprintStable(t *testing.T) {
	dir := t.TempDir()
	writeModelDir(t, dir, "")

	m1, err := Load(dir)
	require.NoError(t, err)
	m2, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, m1.Fingerprint(), m2.Fingerprint())
	assert.NotEmpty(t, m1.Fingerprint())
}

func TestLoadMissingWeights(t *testing.T) {
	dir := t.TempDir()
	manifest := `{"format":"onnx","board_size":15,"weights":["gone.onnx"]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.json"), []byte(manifest), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestStaleLocal(t *testing.T) {
	dir := t.TempDir()
	writeModelDir(t, dir, "v1")

	m, err := Load(dir)
	require.NoError(t, err)

	stale, err := m.StaleLocal()
	require.NoError(t, err)
	assert.False(t, stale)

	// Rewriting the manifest with a newer mtime flips staleness.
	future := time.Now().Add(2 * time.Second)
	manifestPath := filepath.Join(dir, "model.json")
	require.NoError(t, os.Chtimes(manifestPath, future, future))

	stale, err = m.StaleLocal()
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestRemoteFetchETag(t *testing.T) {
	manifest := `{"format":"onnx","board_size":15,"weights":["weights.onnx"],"fingerprint":"v2"}`
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/model.json":
			hits++
			if r.Header.Get("If-None-Match") == `"v2"` {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("ETag", `"v2"`)
			w.Write([]byte(manifest))
		case "/weights.onnx":
			w.Write([]byte("weights"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dest := t.TempDir()
	f := &RemoteFetcher{}

	changed, err := f.Fetch(srv.URL, dest)
	require.NoError(t, err)
	assert.True(t, changed)

	m, err := Load(dest)
	require.NoError(t, err)
	assert.Equal(t, "v2", m.Fingerprint())

	// Second fetch with matching ETag is a no-op.
	changed, err = f.Fetch(srv.URL, dest)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 2, hits)
}
