// Package registry discovers wake word models on disk and hands out shared,
// lazily-loaded model handles.
//
// A model is either a directory or a .onnx file inside the builtin or custom
// model directory; its key is the file stem (e.g. "okay_nabu"). An optional
// sidecar "<key>.yaml" next to the model supplies the spoken phrase, language
// and extra aliases; absent that, the phrase is derived from the key.
//
// The registry never hot-unloads: models removed from disk stay resolvable
// for the life of the process so in-flight sessions keep valid handles.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hearken-audio/hearken/pkg/wake"
)

// ErrUnknownModel is returned by [Registry.Resolve] when neither a key nor an
// alias matches the requested name.
var ErrUnknownModel = errors.New("registry: unknown model")

// sidecar is the optional per-model metadata file.
type sidecar struct {
	Phrase   string   `yaml:"phrase"`
	Language string   `yaml:"language"`
	Aliases  []string `yaml:"aliases"`
}

// Entry is one discovered model. The descriptive fields are immutable after
// discovery; the underlying handle loads lazily on first use and is shared by
// every session that selects this model.
type Entry struct {
	// Key is the stable identifier derived from the model filename.
	Key string

	// Phrase is the spoken wake phrase, e.g. "Okay Nabu".
	Phrase string

	// Language is a BCP-47-ish language tag, or empty when unknown.
	Language string

	// Aliases are alternative names that resolve to this entry. Always
	// includes the lowercased phrase.
	Aliases []string

	// Path is the on-disk location handed to the loader.
	Path string

	loader wake.Loader

	mu    sync.Mutex
	model wake.Model
}

// Model returns the loaded inference handle, loading it on first call.
// Loading is mutually exclusive per entry but never blocks inference on other
// already-loaded entries. A failed load is retried on the next call.
func (e *Entry) Model() (wake.Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.model != nil {
		return e.model, nil
	}
	m, err := e.loader.Load(e.Path)
	if err != nil {
		return nil, fmt.Errorf("registry: load %q: %w", e.Key, err)
	}
	slog.Info("model loaded", "key", e.Key, "path", e.Path)
	e.model = m
	return m, nil
}

// Loaded reports whether the model handle has been loaded.
func (e *Entry) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model != nil
}

// close releases the loaded handle, if any.
func (e *Entry) close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil
	}
	err := e.model.Close()
	e.model = nil
	return err
}

// Registry maps model keys and aliases to entries. All methods are safe for
// concurrent use; reload is mutually exclusive with itself and never
// invalidates handed-out entries.
type Registry struct {
	loader     wake.Loader
	builtinDir string
	customDir  string

	reloadMu sync.Mutex

	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
	aliases map[string]string
}

// New creates a registry and performs the initial scan of both directories.
// builtinDir or customDir may be empty; at least one must exist.
func New(loader wake.Loader, builtinDir, customDir string) (*Registry, error) {
	r := &Registry{
		loader:     loader,
		builtinDir: builtinDir,
		customDir:  customDir,
		entries:    make(map[string]*Entry),
		aliases:    make(map[string]string),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// List returns every discovered entry in stable discovery order (builtin
// models first, then custom, each sorted by key).
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Entry, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.entries[key])
	}
	return out
}

// Resolve returns the entry for a model key or alias. On a miss it re-scans
// the model directories once, so a model dropped into the custom directory is
// resolvable without an explicit reload. Fails with [ErrUnknownModel].
func (r *Registry) Resolve(name string) (*Entry, error) {
	if e := r.lookup(name); e != nil {
		return e, nil
	}
	if err := r.Reload(); err != nil {
		slog.Warn("registry reload during resolve failed", "err", err)
	}
	if e := r.lookup(name); e != nil {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
}

// lookup checks keys first, then aliases.
func (r *Registry) lookup(name string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[name]; ok {
		return e
	}
	if key, ok := r.aliases[strings.ToLower(name)]; ok {
		return r.entries[key]
	}
	return nil
}

// Reload re-scans both model directories and adds newly discovered models.
// Already-known entries are left untouched, so loaded handles stay valid.
func (r *Registry) Reload() error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	type scanned struct {
		key     string
		path    string
		builtin bool
	}
	var found []scanned

	for _, dir := range []struct {
		path    string
		builtin bool
	}{{r.builtinDir, true}, {r.customDir, false}} {
		if dir.path == "" {
			continue
		}
		keys, err := scanDir(dir.path)
		if err != nil {
			return err
		}
		for key, path := range keys {
			found = append(found, scanned{key: key, path: path, builtin: dir.builtin})
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].builtin != found[j].builtin {
			return found[i].builtin
		}
		return found[i].key < found[j].key
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range found {
		if _, ok := r.entries[s.key]; ok {
			continue
		}
		e := newEntry(r.loader, s.key, s.path, s.builtin)
		r.entries[s.key] = e
		r.order = append(r.order, s.key)
		for _, alias := range e.Aliases {
			alias = strings.ToLower(alias)
			if prev, ok := r.aliases[alias]; ok && prev != s.key {
				slog.Warn("duplicate model alias ignored", "alias", alias, "kept", prev, "ignored", s.key)
				continue
			}
			r.aliases[alias] = s.key
		}
		slog.Debug("model discovered", "key", s.key, "path", s.path)
	}
	return nil
}

// Preload eagerly loads the named models (or every model when names is
// empty). Returns the first resolution error; load failures are logged and
// retried lazily later.
func (r *Registry) Preload(names []string) error {
	var entries []*Entry
	if len(names) == 0 {
		entries = r.List()
	} else {
		for _, name := range names {
			e, err := r.Resolve(name)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
	}
	for _, e := range entries {
		if _, err := e.Model(); err != nil {
			slog.Warn("model preload failed", "key", e.Key, "err", err)
		}
	}
	return nil
}

// Close releases every loaded model handle.
func (r *Registry) Close() error {
	var errs []error
	for _, e := range r.List() {
		if err := e.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", e.Key, err))
		}
	}
	return errors.Join(errs...)
}

// newEntry builds an Entry, reading the optional sidecar metadata.
func newEntry(loader wake.Loader, key, path string, builtin bool) *Entry {
	e := &Entry{
		Key:    key,
		Phrase: phraseFromKey(key),
		loader: loader,
		Path:   path,
	}
	if builtin {
		e.Language = "en"
	}

	if meta, err := readSidecar(path); err != nil {
		slog.Warn("model sidecar unreadable", "key", key, "err", err)
	} else if meta != nil {
		if meta.Phrase != "" {
			e.Phrase = meta.Phrase
		}
		if meta.Language != "" {
			e.Language = meta.Language
		}
		e.Aliases = append(e.Aliases, meta.Aliases...)
	}

	e.Aliases = append(e.Aliases, strings.ToLower(e.Phrase))
	return e
}

// scanDir returns key -> path for every model in dir. A model is a
// subdirectory or a .onnx file; everything else is ignored.
func scanDir(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: scan %q: %w", dir, err)
	}

	out := make(map[string]string)
	for _, de := range entries {
		name := de.Name()
		switch {
		case de.IsDir():
			out[name] = filepath.Join(dir, name)
		case strings.HasSuffix(name, ".onnx"):
			key := strings.TrimSuffix(name, ".onnx")
			out[key] = filepath.Join(dir, name)
		}
	}
	return out, nil
}

// readSidecar loads "<model>.yaml" next to the model path, returning nil when
// no sidecar exists.
func readSidecar(modelPath string) (*sidecar, error) {
	path := strings.TrimSuffix(modelPath, ".onnx") + ".yaml"
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var meta sidecar
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse %q: %w", path, err)
	}
	return &meta, nil
}

// phraseFromKey derives a human phrase from a model key:
// "okay_nabu" -> "Okay Nabu".
func phraseFromKey(key string) string {
	words := strings.Fields(strings.ReplaceAll(strings.ToLower(key), "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
