package auth

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

var requiredColumns = []string{"id", "api_key", "owner", "added"}

// Entry is one row of the allow-list.
type Entry struct {
	ID     string
	APIKey string
	Owner  string
	Added  string
}

// AllowList is a CSV-backed set of accepted API keys. Reloads swap the whole
// table at once, so lookups never see a half-loaded file.
type AllowList struct {
	path    string
	entries atomic.Pointer[map[string]Entry]
}

// NewAllowList creates an allow-list backed by the CSV file at path.
// Call Load before the first lookup.
func NewAllowList(path string) *AllowList {
	a := &AllowList{path: path}
	empty := map[string]Entry{}
	a.entries.Store(&empty)
	return a
}

// Path returns the backing file.
func (a *AllowList) Path() string { return a.path }

// Load parses the CSV file and replaces the in-memory table.
func (a *AllowList) Load() error {
	f, err := os.Open(a.path)
	if err != nil {
		return fmt.Errorf("open allow-list: %w", err)
	}
	defer f.Close()

	entries, err := parseAllowList(f)
	if err != nil {
		return fmt.Errorf("parse allow-list %s: %w", a.path, err)
	}
	a.entries.Store(&entries)
	return nil
}

// Lookup returns the entry for an API key.
func (a *AllowList) Lookup(apiKey string) (Entry, bool) {
	entries := a.entries.Load()
	if entries == nil {
		return Entry{}, false
	}
	entry, ok := (*entries)[apiKey]
	return entry, ok
}

// Len reports the number of loaded keys.
func (a *AllowList) Len() int {
	return len(*a.entries.Load())
}

// Watch reloads the allow-list whenever its file changes, until ctx is done.
// The parent directory is watched so editors and atomic renames are seen.
// A failed reload keeps the previous table.
func (a *AllowList) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create allow-list watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(a.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(a.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := a.Load(); err != nil {
				log.Warnf("allow-list reload failed: %v", err)
				continue
			}
			log.Infof("allow-list reloaded from %s (%d keys)", a.path, a.Len())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("allow-list watcher error: %v", err)
		}
	}
}

func parseAllowList(r io.Reader) (map[string]Entry, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty csv")
	}
	if err != nil {
		return nil, err
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[name] = i
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("csv missing required columns: %v", missing)
	}

	entries := make(map[string]Entry)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		entry := Entry{
			ID:     row[columns["id"]],
			APIKey: row[columns["api_key"]],
			Owner:  row[columns["owner"]],
			Added:  row[columns["added"]],
		}
		entries[entry.APIKey] = entry
	}
	return entries, nil
}
