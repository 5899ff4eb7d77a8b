// Package registry holds the model catalog. The catalog starts from built-in provider
// entries, can be replaced from a YAML file and follows that file as it changes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/davidbz/conductor/internal/domain"
	"github.com/davidbz/conductor/internal/observability"
)

var _ domain.ModelRegistry = (*Registry)(nil)

// Registry is a thread-safe model catalog. Readers always see a complete catalog:
// Replace swaps the whole map or rejects the input.
type Registry struct {
	mu     sync.RWMutex
	models map[string]domain.ModelConfig
}

// New creates a registry holding models.
func New(models []domain.ModelConfig) (*Registry, error) {
	r := &Registry{}
	if err := r.Replace(models); err != nil {
		return nil, err
	}
	return r, nil
}

// ListModels implements domain.ModelRegistry.
func (r *Registry) ListModels(_ context.Context, filter domain.ModelFilter) ([]domain.ModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]domain.ModelConfig, 0, len(r.models))
	for _, m := range r.models {
		if filter.Matches(m) {
			models = append(models, copyModel(m))
		}
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// GetModel implements domain.ModelRegistry.
func (r *Registry) GetModel(_ context.Context, id string) (domain.ModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[id]
	if !ok {
		return domain.ModelConfig{}, fmt.Errorf("%w: %s", domain.ErrModelNotFound, id)
	}
	return copyModel(m), nil
}

// Replace validates models and swaps them in as the whole catalog.
func (r *Registry) Replace(models []domain.ModelConfig) error {
	next := make(map[string]domain.ModelConfig, len(models))
	for _, m := range models {
		if err := m.Validate(); err != nil {
			return err
		}
		if _, dup := next[m.ID]; dup {
			return fmt.Errorf("%w: duplicate model id %s", domain.ErrInvalidModelConfig, m.ID)
		}
		next[m.ID] = copyModel(m)
	}

	r.mu.Lock()
	r.models = next
	r.mu.Unlock()
	return nil
}

// LoadFile replaces the catalog with the models listed in a YAML file.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read model catalog: %w", err)
	}
	models, err := ParseCatalog(data)
	if err != nil {
		return fmt.Errorf("failed to parse model catalog %s: %w", path, err)
	}
	return r.Replace(models)
}

// Watch reloads the catalog whenever path is written until ctx is done. A reload that
// fails to read, parse or validate is logged and the previous catalog stays in place.
func (r *Registry) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}

	// Watch the directory; editors often replace the file instead of writing it.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		r.watchLoop(ctx, watcher, path)
	}()
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	logger := observability.FromContext(ctx)
	baseName := filepath.Base(path)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != baseName {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if err := r.LoadFile(path); err != nil {
				logger.Warn("model catalog reload rejected, keeping previous catalog",
					observability.String("path", path),
					observability.Error(err))
				continue
			}
			logger.Info("model catalog reloaded", observability.String("path", path))

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("model catalog watcher error", observability.Error(err))
		}
	}
}

// catalogFile is the YAML layout of a catalog file.
type catalogFile struct {
	Models []fileModel `yaml:"models"`
}

// fileModel defaults enabled to true when the key is omitted.
type fileModel domain.ModelConfig

func (m *fileModel) UnmarshalYAML(node *yaml.Node) error {
	type plain domain.ModelConfig
	p := plain{Enabled: true}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*m = fileModel(p)
	return nil
}

// ParseCatalog decodes a YAML catalog of the form `models: [...]`.
func ParseCatalog(data []byte) ([]domain.ModelConfig, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.Models) == 0 {
		return nil, errors.New("catalog lists no models")
	}

	models := make([]domain.ModelConfig, len(file.Models))
	for i, m := range file.Models {
		models[i] = domain.ModelConfig(m)
	}
	return models, nil
}

func copyModel(m domain.ModelConfig) domain.ModelConfig {
	m.Capabilities = append([]string(nil), m.Capabilities...)
	return m
}
