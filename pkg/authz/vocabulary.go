package authz

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/caseworks/authcore/pkg/observability"
)

// vocabularyFile is the on-disk shape of the role vocabulary:
//
//	defaults:
//	  - caseworker
//	  - supervisor
//	tenants:
//	  acme:
//	    roles: [caseworker, intake-coordinator]
type vocabularyFile struct {
	Defaults []string `yaml:"defaults"`
	Tenants  map[string]struct {
		Roles []string `yaml:"roles"`
	} `yaml:"tenants"`
}

// Vocabulary holds the role names operators allow per tenant. A tenant
// without its own entry falls back to the defaults. It reloads itself when
// the backing file changes, so adding a role does not need a restart. An
// empty or absent vocabulary disables validation entirely.
type Vocabulary struct {
	mu       sync.RWMutex
	defaults map[string]bool
	tenants  map[string]map[string]bool
	path     string
	logger   *observability.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// LoadVocabulary reads the vocabulary file and starts watching it for
// changes. Callers must Close it on shutdown. A missing file yields an
// empty, non-watching vocabulary.
func LoadVocabulary(path string, logger *observability.Logger) (*Vocabulary, error) {
	v := &Vocabulary{
		defaults: make(map[string]bool),
		tenants:  make(map[string]map[string]bool),
		path:     path,
		logger:   logger,
		done:     make(chan struct{}),
	}
	if path == "" {
		return v, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.WithField("path", path).Warn("Role vocabulary file not found, validation disabled")
		return v, nil
	}
	if err := v.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create vocabulary watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch vocabulary file: %w", err)
	}
	v.watcher = watcher
	go v.watch()
	return v, nil
}

func (v *Vocabulary) reload() error {
	data, err := os.ReadFile(v.path)
	if err != nil {
		return fmt.Errorf("failed to read vocabulary file: %w", err)
	}
	var file vocabularyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse vocabulary file: %w", err)
	}

	defaults := make(map[string]bool, len(file.Defaults))
	for _, name := range file.Defaults {
		if name != "" {
			defaults[name] = true
		}
	}
	tenants := make(map[string]map[string]bool, len(file.Tenants))
	for code, entry := range file.Tenants {
		names := make(map[string]bool, len(entry.Roles))
		for _, name := range entry.Roles {
			if name != "" {
				names[name] = true
			}
		}
		tenants[code] = names
	}

	v.mu.Lock()
	v.defaults = defaults
	v.tenants = tenants
	v.mu.Unlock()

	v.logger.WithFields(map[string]interface{}{
		"path":     v.path,
		"defaults": len(defaults),
		"tenants":  len(tenants),
	}).Info("Loaded role vocabulary")
	return nil
}

func (v *Vocabulary) watch() {
	for {
		select {
		case <-v.done:
			return
		case event, ok := <-v.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := v.reload(); err != nil {
				// Keep the last good vocabulary on a bad edit
				v.logger.WithError(err).Error("Failed to reload role vocabulary")
			}
		case err, ok := <-v.watcher.Errors:
			if !ok {
				return
			}
			v.logger.WithError(err).Error("Vocabulary watcher error")
		}
	}
}

// Close stops the file watcher
func (v *Vocabulary) Close() error {
	close(v.done)
	if v.watcher != nil {
		return v.watcher.Close()
	}
	return nil
}

// Allows reports whether the role name is acceptable for the tenant. The
// tenant's own list wins when present, otherwise the defaults apply. With
// nothing configured everything is allowed.
func (v *Vocabulary) Allows(tenantCode, name string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if names, ok := v.tenants[tenantCode]; ok && len(names) > 0 {
		return names[name]
	}
	if len(v.defaults) == 0 {
		return true
	}
	return v.defaults[name]
}

// RolesFor returns the configured role names for the tenant, unordered
func (v *Vocabulary) RolesFor(tenantCode string) []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	source := v.defaults
	if names, ok := v.tenants[tenantCode]; ok && len(names) > 0 {
		source = names
	}
	out := make([]string, 0, len(source))
	for name := range source {
		out = append(out, name)
	}
	return out
}
