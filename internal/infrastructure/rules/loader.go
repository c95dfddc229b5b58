package rules

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/pkg/logger"
)

//go:embed default_rules.yaml
var defaultRules []byte

// Default returns the catalogue shipped with the binary.
func Default() (*Catalogue, error) {
	return Parse(defaultRules)
}

// Loader holds the current catalogue and swaps it when the rule file
// changes. It implements programtree.RelationshipRules and
// programtree.ValidationRuleLookup by delegating to the current catalogue,
// so a reload applies to the next validation without restarting.
type Loader struct {
	path     string
	log      *logger.Logger
	mu       sync.RWMutex
	current  *Catalogue
	onChange []func(*Catalogue)
}

var (
	_ programtree.RelationshipRules    = (*Loader)(nil)
	_ programtree.ValidationRuleLookup = (*Loader)(nil)
)

// NewLoader creates a Loader and performs the initial load. An empty path
// selects the embedded default catalogue.
func NewLoader(path string, log *logger.Logger) (*Loader, error) {
	if log == nil {
		log = logger.Default()
	}
	l := &Loader{path: path, log: log.With(logger.Component("rules"))}
	c, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = c
	return l, nil
}

// Catalogue returns the current catalogue.
func (l *Loader) Catalogue() *Catalogue {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked after every successful reload.
func (l *Loader) OnChange(fn func(*Catalogue)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch hot-reloads the rule file on change until stop is called. An invalid
// file is logged and the previous catalogue stays in effect.
func (l *Loader) Watch() (stop func(), err error) {
	if l.path == "" {
		return func() {}, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rules watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("rules watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						l.log.Warn("rules reload rejected, keeping previous catalogue", logger.Err(err))
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.log.Warn("rules watcher error", logger.Err(err))
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload re-reads the rule file immediately.
func (l *Loader) Reload() (*Catalogue, error) {
	c, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = c
	callbacks := make([]func(*Catalogue), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()

	l.log.Info("rules loaded", logger.String("version", c.Version()), logger.String("path", l.path))
	for _, fn := range callbacks {
		fn(c)
	}
	return c, nil
}

func (l *Loader) load() (*Catalogue, error) {
	if l.path == "" {
		return Default()
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", l.path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.path, err)
	}
	return c, nil
}

// IsAuthorized implements programtree.RelationshipRules.
func (l *Loader) IsAuthorized(parent, child programtree.NodeType) bool {
	return l.Catalogue().IsAuthorized(parent, child)
}

// MaxChildren implements programtree.RelationshipRules.
func (l *Loader) MaxChildren(parent, child programtree.NodeType) int {
	return l.Catalogue().MaxChildren(parent, child)
}

// MinChildren implements programtree.RelationshipRules.
func (l *Loader) MinChildren(parent, child programtree.NodeType) int {
	return l.Catalogue().MinChildren(parent, child)
}

// MandatoryChildren implements programtree.RelationshipRules.
func (l *Loader) MandatoryChildren(parent programtree.NodeType) []programtree.NodeType {
	return l.Catalogue().MandatoryChildren(parent)
}

// Get implements programtree.ValidationRuleLookup.
func (l *Loader) Get(fieldReference string) (string, bool) {
	return l.Catalogue().Get(fieldReference)
}
