// Package model handles the on-disk model store: a directory holding a
// model.json manifest plus one or more weight blobs, loadable from a local
// path or refreshed from a remote URL with ETag staleness detection.
package model

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Manifest is the model.json document describing a stored network.
type Manifest struct {
	Format      string   `json:"format"`
	BoardSize   int      `json:"board_size"`
	Weights     []string `json:"weights"`
	Fingerprint string   `json:"fingerprint,omitempty"`
}

// Model is a loaded manifest bound to its directory.
type Model struct {
	Dir      string
	Manifest Manifest
	modTime  time.Time
}

// Load reads model.json from dir and verifies the weight blobs exist.
func Load(dir string) (*Model, error) {
	manifestPath := filepath.Join(dir, "model.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Weights) == 0 {
		return nil, fmt.Errorf("manifest %s lists no weight blobs", manifestPath)
	}
	for _, w := range m.Weights {
		if _, err := os.Stat(filepath.Join(dir, w)); err != nil {
			return nil, fmt.Errorf("weight blob %s: %w", w, err)
		}
	}
	st, err := os.Stat(manifestPath)
	if err != nil {
		return nil, err
	}
	return &Model{Dir: dir, Manifest: m, modTime: st.ModTime()}, nil
}

// WeightPath returns the absolute path of the primary weight blob, the file
// handed to the inference backend.
func (m *Model) WeightPath() string {
	return filepath.Join(m.Dir, m.Manifest.Weights[0])
}

// Fingerprint identifies the model content. The manifest value wins when
// present; otherwise a hash of the manifest plus weight sizes is computed.
func (m *Model) Fingerprint() string {
	if m.Manifest.Fingerprint != "" {
		return m.Manifest.Fingerprint
	}
	h := fnv.New64a()
	data, _ := json.Marshal(m.Manifest)
	h.Write(data)
	for _, w := range m.Manifest.Weights {
		if st, err := os.Stat(filepath.Join(m.Dir, w)); err == nil {
			fmt.Fprintf(h, "%s:%d", w, st.Size())
		}
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// StaleLocal reports whether model.json changed on disk since Load.
func (m *Model) StaleLocal() (bool, error) {
	st, err := os.Stat(filepath.Join(m.Dir, "model.json"))
	if err != nil {
		return false, err
	}
	return st.ModTime().After(m.modTime), nil
}

// RemoteFetcher pulls a model directory from an HTTP base URL, using the
// manifest's ETag to skip unchanged models.
type RemoteFetcher struct {
	Client *http.Client
	etag   string
}

// Fetch downloads <baseURL>/model.json and its weight blobs into destDir
// when the remote ETag differs from the last fetch. Returns whether a new
// model was written.
func (f *RemoteFetcher) Fetch(baseURL, destDir string) (bool, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequest(http.MethodGet, baseURL+"/model.json", nil)
	if err != nil {
		return false, err
	}
	if f.etag != "" {
		req.Header.Set("If-None-Match", f.etag)
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("fetch manifest: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return false, fmt.Errorf("parse remote manifest: %w", err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return false, err
	}
	for _, w := range m.Weights {
		if err := downloadFile(client, baseURL+"/"+w, filepath.Join(destDir, w)); err != nil {
			return false, fmt.Errorf("fetch weight %s: %w", w, err)
		}
	}
	// Manifest last so a partially fetched model is never observed as valid.
	tmp := filepath.Join(destDir, "model.json.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return false, err
	}
	if err := os.Rename(tmp, filepath.Join(destDir, "model.json")); err != nil {
		return false, err
	}

	f.etag = resp.Header.Get("ETag")
	return true, nil
}

func downloadFile(client *http.Client, url, dest string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}
