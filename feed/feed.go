// Package feed adapts the scraping collaborator's output to the engine
// boundary. Both sources consume already-parsed snapshot batches; no
// fetching or parsing of marketplace pages happens here or anywhere else
// in this repository.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/Bezludnev/parsingCarAvalible/identity"
	"github.com/Bezludnev/parsingCarAvalible/models"
)

// fingerprintBatch derives description fingerprints for snapshots whose
// collaborator shipped raw text instead of a hash. Raw text is dropped
// after hashing; the engine stores fingerprints only.
func fingerprintBatch(batch *models.SnapshotBatch) {
	for i := range batch.Snapshots {
		snap := &batch.Snapshots[i]
		if snap.DescriptionHash == "" && snap.Description != "" {
			snap.DescriptionHash = identity.DescriptionFingerprint(snap.Description)
		}
		snap.Description = ""
	}
}

// HTTPSource pulls a snapshot batch from the collaborator's endpoint.
// The requested ids are passed along so the collaborator can report which
// of them it failed to observe; the configured filter ids scope what the
// collaborator crawls for discoveries.
type HTTPSource struct {
	client    *http.Client
	baseURL   string
	filterIDs []string
}

func NewHTTPSource(client *http.Client, baseURL string, filterIDs []string) *HTTPSource {
	return &HTTPSource{client: client, baseURL: baseURL, filterIDs: filterIDs}
}

func (s *HTTPSource) Fetch(ctx context.Context, ids []string) (*models.SnapshotBatch, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	q := u.Query()
	if len(ids) > 0 {
		q.Set("ids", strings.Join(ids, ","))
	}
	if len(s.filterIDs) > 0 {
		q.Set("filters", strings.Join(s.filterIDs, ","))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	var batch models.SnapshotBatch
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("decode feed response: %w", err)
	}
	fingerprintBatch(&batch)
	return &batch, nil
}

// FileSource reads a snapshot batch from a JSON file, for one-shot runs
// and replaying captured passes.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Fetch returns the file's batch as-is. Ids requested but absent from
// the file surface as error outcomes in the pass, not as missing.
func (s *FileSource) Fetch(_ context.Context, _ []string) (*models.SnapshotBatch, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read feed file: %w", err)
	}

	var batch models.SnapshotBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("parse feed file: %w", err)
	}
	fingerprintBatch(&batch)
	return &batch, nil
}
