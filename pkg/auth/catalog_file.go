package auth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk layout of a catalog:
//
//	permissions: [payments:create, payments:read]
//	roles:
//	  PAYMENTS: [payments:create, payments:read]
//	groups:
//	  PAYMENT_ACCESS: [PAYMENTS, ADMIN]
type catalogFile struct {
	Permissions []Permission          `yaml:"permissions"`
	Roles       map[Role][]Permission `yaml:"roles"`
	Groups      map[string][]Role     `yaml:"groups"`
}

// ParseCatalog builds a catalog from YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, NewConfigurationError(fmt.Sprintf("invalid catalog YAML: %v", err))
	}
	return NewCatalog(f.Permissions, f.Roles, f.Groups)
}

// LoadCatalogFile reads and parses a catalog file.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// CatalogWatcher reloads a catalog file when it changes and installs the new
// snapshot in a registry. A reload that fails validation leaves the previous
// snapshot in place.
type CatalogWatcher struct {
	path     string
	registry *CatalogRegistry
	watcher  *fsnotify.Watcher
	onReload func(*Catalog, error)
}

// NewCatalogWatcher watches path. onReload, if non-nil, is called after every
// reload attempt with either the new catalog or the error.
func NewCatalogWatcher(path string, registry *CatalogRegistry, onReload func(*Catalog, error)) (*CatalogWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are seen.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	return &CatalogWatcher{
		path:     filepath.Clean(path),
		registry: registry,
		watcher:  w,
		onReload: onReload,
	}, nil
}

// Run processes file events until ctx is cancelled.
func (cw *CatalogWatcher) Run(ctx context.Context) error {
	defer cw.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			cw.Reload()
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return nil
			}
			if cw.onReload != nil {
				cw.onReload(nil, fmt.Errorf("watcher error: %w", err))
			}
		}
	}
}

// Reload re-reads the file once and swaps the snapshot on success.
func (cw *CatalogWatcher) Reload() {
	c, err := LoadCatalogFile(cw.path)
	if err == nil {
		cw.registry.Swap(c)
	}
	if cw.onReload != nil {
		cw.onReload(c, err)
	}
}
