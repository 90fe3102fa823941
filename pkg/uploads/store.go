// Package uploads holds raw file uploads until a dataset consumes them.
// Each upload lives under pending_uploads/<upload_id>/ beside a
// _meta.json sidecar; a background sweeper discards entries older than
// the configured TTL.
package uploads

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saurabh22suman/oreo.io-v3/pkg/delta"
	"github.com/saurabh22suman/oreo.io-v3/pkg/domain"
	"github.com/saurabh22suman/oreo.io-v3/pkg/paths"
)

const metaFileName = "_meta.json"

// DefaultTTL bounds how long a pending upload survives unconsumed.
const DefaultTTL = 24 * time.Hour

// Metadata is the sidecar document of one upload.
type Metadata struct {
	UploadID  string    `json:"upload_id"`
	Filename  string    `json:"filename"`
	CreatedAt time.Time `json:"created_at"`
	FilePath  string    `json:"file_path"`
}

// Store is the staging upload store.
type Store struct {
	resolver *paths.Resolver
	adapter  *delta.Adapter
	ttl      time.Duration
}

// NewStore creates an upload store with the default TTL.
func NewStore(resolver *paths.Resolver, adapter *delta.Adapter) *Store {
	return &Store{resolver: resolver, adapter: adapter, ttl: DefaultTTL}
}

// SetTTL overrides the sweep age.
func (s *Store) SetTTL(ttl time.Duration) { s.ttl = ttl }

// Put stores an uploaded file and returns its metadata.
func (s *Store) Put(filename string, r io.Reader) (*Metadata, error) {
	uploadID := "up_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	dir, err := s.resolver.PendingUpload(uploadID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	safeName := filepath.Base(filename)
	filePath := filepath.Join(dir, safeName)
	f, err := os.Create(filePath)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.RemoveAll(dir)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	meta := &Metadata{
		UploadID:  uploadID,
		Filename:  safeName,
		CreatedAt: time.Now().UTC(),
		FilePath:  filePath,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, metaFileName), data, 0o644); err != nil {
		return nil, err
	}

	log.Printf("[Uploads] stored %s as %s", safeName, uploadID)
	return meta, nil
}

// Get loads the metadata of one upload.
func (s *Store) Get(uploadID string) (*Metadata, error) {
	dir, err := s.resolver.PendingUpload(uploadID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &domain.ErrNotFound{Kind: "upload", ID: uploadID}
		}
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Delete removes one upload and its directory.
func (s *Store) Delete(uploadID string) error {
	dir, err := s.resolver.PendingUpload(uploadID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &domain.ErrNotFound{Kind: "upload", ID: uploadID}
	}
	return os.RemoveAll(dir)
}

// Finalize parses the upload and appends its rows to the dataset's main
// table with duplicate suppression, then discards the upload.
func (s *Store) Finalize(ctx context.Context, uploadID, projectID, datasetID string) (*domain.AppendResult, error) {
	meta, err := s.Get(uploadID)
	if err != nil {
		return nil, err
	}
	rows, err := ParseFile(meta.FilePath)
	if err != nil {
		return nil, err
	}

	mainPath, err := s.adapter.EnsureDataset(ctx, projectID, datasetID, nil)
	if err != nil {
		return nil, err
	}
	result, err := s.adapter.AppendDedup(ctx, mainPath, rows)
	if err != nil {
		return nil, err
	}

	if err := s.Delete(uploadID); err != nil {
		log.Printf("[Uploads] failed to discard %s after finalize: %v", uploadID, err)
	}
	log.Printf("[Uploads] finalized %s into %s/%s: inserted=%d duplicates=%d",
		uploadID, projectID, datasetID, result.Inserted, result.Duplicates)
	return result, nil
}

// SweepExpired deletes uploads older than the TTL. Returns the number of
// entries removed.
func (s *Store) SweepExpired() (int, error) {
	root := filepath.Join(s.resolver.Root(), "pending_uploads")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-s.ttl)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		if meta.CreatedAt.Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(root, entry.Name())); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		log.Printf("[Uploads] swept %d expired uploads", removed)
	}
	return removed, nil
}
