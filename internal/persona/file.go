package persona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/counselsim/internal/domain"
)

// FileSource serves records from a JSON dataset file. The file holds either
// a list of records or an object keyed by id. Records are cached; Refresh
// reloads them when the file's modification time changes.
type FileSource struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	loaded  bool
	modTime time.Time
	order   []string
	records map[string]map[string]any
}

var _ Source = (*FileSource)(nil)

// NewFileSource returns a source for the dataset at path. Relative paths that
// do not exist are also tried one directory up.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{path: path, logger: logger}
}

func (f *FileSource) resolve() string {
	if filepath.IsAbs(f.path) {
		return f.path
	}
	if _, err := os.Stat(f.path); err == nil {
		return f.path
	}
	parent := filepath.Join("..", f.path)
	if _, err := os.Stat(parent); err == nil {
		return parent
	}
	return f.path
}

// Refresh reloads the dataset if the file changed since the last load.
func (f *FileSource) Refresh(_ context.Context) error {
	path := f.resolve()
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat dataset %s: %w", path, err)
	}

	f.mu.RLock()
	fresh := f.loaded && info.ModTime().Equal(f.modTime)
	f.mu.RUnlock()
	if fresh {
		return nil
	}

	raws, err := ReadDataset(path)
	if err != nil {
		return err
	}

	order := make([]string, 0, len(raws))
	records := make(map[string]map[string]any, len(raws))
	for i, raw := range raws {
		id := stringify(raw["id"])
		if id == "" {
			f.logger.Warn("Skipping dataset record without id", "path", path, "index", i)
			continue
		}
		if _, dup := records[id]; !dup {
			order = append(order, id)
		}
		records[id] = raw
	}

	f.mu.Lock()
	f.order = order
	f.records = records
	f.modTime = info.ModTime()
	f.loaded = true
	f.mu.Unlock()

	f.logger.Info("Dataset loaded", "path", path, "records", len(order))
	return nil
}

func (f *FileSource) ensureLoaded(ctx context.Context) error {
	f.mu.RLock()
	loaded := f.loaded
	f.mu.RUnlock()
	if loaded {
		return nil
	}
	return f.Refresh(ctx)
}

// IDs returns record ids in file order.
func (f *FileSource) IDs(ctx context.Context) ([]string, error) {
	if err := f.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.order...), nil
}

// Lookup normalizes the record with the given id.
func (f *FileSource) Lookup(ctx context.Context, id string) (Record, error) {
	if err := f.ensureLoaded(ctx); err != nil {
		return Record{}, err
	}
	f.mu.RLock()
	raw, ok := f.records[id]
	f.mu.RUnlock()
	if !ok {
		return Record{}, fmt.Errorf("patient %s: %w", id, domain.ErrNotFound)
	}
	return Normalize(raw)
}

// ReadDataset decodes a dataset file into raw records.
func ReadDataset(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("dataset file not found: %s: %w", path, err)
		}
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", path, err)
	}
	return datasetRecords(doc)
}

func datasetRecords(doc any) ([]map[string]any, error) {
	switch v := doc.(type) {
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if rec, ok := item.(map[string]any); ok {
				out = append(out, rec)
			}
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k, item := range v {
			if _, ok := item.(map[string]any); !ok {
				return nil, fmt.Errorf("dataset entry %q is not an object: %w", k, domain.ErrInvalidFormat)
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]map[string]any, 0, len(keys))
		for _, k := range keys {
			out = append(out, v[k].(map[string]any))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("dataset must be a list or an object keyed by id: %w", domain.ErrInvalidFormat)
	}
}
