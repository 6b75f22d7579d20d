package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/flowmesh/core"
)

// Meta is the sidecar metadata accompanying a plugin source artifact on disk
// (<name>.src + <name>.meta.yaml).
type Meta struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Author      string   `yaml:"author"`
	Version     string   `yaml:"version"`
	Tags        []string `yaml:"tags"`
}

// BindFunc turns a verified descriptor into an executable capability. The
// binding step is an external collaborator concern; the registry only gates
// admission.
type BindFunc func(d core.ToolDescriptor) (core.Tool, error)

// Loader submits plugin artifacts dropped into a directory. Each artifact is
// a .src file with a .meta.yaml sidecar.
type Loader struct {
	registry *Registry
	bind     BindFunc
}

// NewLoader constructs a Loader. bind must not be nil.
func NewLoader(registry *Registry, bind BindFunc) *Loader {
	return &Loader{registry: registry, bind: bind}
}

// LoadDir submits every artifact found in dir. Returns per-plugin admission
// outcomes keyed by plugin name; a submission error does not abort the scan.
func (l *Loader) LoadDir(dir string) (map[string]AdmissionResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read plugin dir: %w", err)
	}

	results := make(map[string]AdmissionResult)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".src") {
			continue
		}
		res, name, err := l.loadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			l.registry.logger.Warn("registry.load_dir.skip", "file", entry.Name(), "error", err.Error())
			continue
		}
		results[name] = res
	}
	return results, nil
}

// loadFile reads one artifact plus sidecar and submits it.
func (l *Loader) loadFile(path string) (AdmissionResult, string, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return AdmissionResult{}, "", fmt.Errorf("read artifact: %w", err)
	}

	metaPath := strings.TrimSuffix(path, ".src") + ".meta.yaml"
	metaRaw, err := os.ReadFile(metaPath)
	if err != nil {
		return AdmissionResult{}, "", fmt.Errorf("read sidecar metadata: %w", err)
	}

	var meta Meta
	if err := yaml.Unmarshal(metaRaw, &meta); err != nil {
		return AdmissionResult{}, "", fmt.Errorf("parse sidecar metadata: %w", err)
	}
	if meta.Name == "" {
		return AdmissionResult{}, "", fmt.Errorf("sidecar metadata for %s is missing a name", path)
	}

	d := core.ToolDescriptor{
		Name:        meta.Name,
		Description: meta.Description,
		Tags:        meta.Tags,
		Source:      string(source),
		Author:      meta.Author,
		Version:     meta.Version,
	}

	handler, err := l.bind(d)
	if err != nil {
		return AdmissionResult{}, "", fmt.Errorf("bind %s: %w", meta.Name, err)
	}

	res, err := l.registry.Submit(Submission{Descriptor: d, Handler: handler})
	if err != nil {
		return AdmissionResult{}, "", err
	}
	return res, meta.Name, nil
}

// Watch auto-submits artifacts as they appear in dir until ctx is cancelled.
// Write events on .src files trigger (re-)submission, superseding the
// previous trust score.
func (l *Loader) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !strings.HasSuffix(event.Name, ".src") {
				continue
			}
			if _, name, err := l.loadFile(event.Name); err != nil {
				l.registry.logger.Warn("registry.watch.skip", "file", event.Name, "error", err.Error())
			} else {
				l.registry.logger.Info("registry.watch.submitted", "plugin", name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.registry.logger.Error("registry.watch.error", "error", err.Error())
		}
	}
}
