// Package localpolicy loads policy rules from a local YAML file, for
// offline or development use, and hot-reloads them when the file changes.
// Locally loaded rules are replaced wholesale by the next successful
// remote sync.
package localpolicy

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/agion-ai/agion-go/policy"
)

// fileRule mirrors policy.Rule with yaml tags and an enabled default.
type fileRule struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Expression  string            `yaml:"expression"`
	Decision    string            `yaml:"decision"`
	Priority    int               `yaml:"priority"`
	Enforcement string            `yaml:"enforcement"`
	Disabled    bool              `yaml:"disabled,omitempty"`
	Metadata    map[string]string `yaml:"metadata,omitempty"`
}

type policyFile struct {
	Rules []fileRule `yaml:"rules"`
}

// Load reads and parses a local policy file.
func Load(path string) ([]policy.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}

	rules := make([]policy.Rule, 0, len(pf.Rules))
	for i, fr := range pf.Rules {
		if fr.ID == "" {
			return nil, fmt.Errorf("rule %d: missing id", i)
		}
		if fr.Expression == "" {
			return nil, fmt.Errorf("rule %q: missing expression", fr.ID)
		}
		decision := policy.Decision(fr.Decision)
		if decision == "" {
			decision = policy.DecisionDeny
		}
		enforcement := policy.EnforcementLevel(fr.Enforcement)
		if enforcement == "" {
			enforcement = policy.EnforcementSoft
		}
		rules = append(rules, policy.Rule{
			ID:          fr.ID,
			Name:        fr.Name,
			Expression:  fr.Expression,
			Decision:    decision,
			Priority:    fr.Priority,
			Enforcement: enforcement,
			Enabled:     !fr.Disabled,
			Metadata:    fr.Metadata,
		})
	}
	return rules, nil
}

// Watcher reloads the policy file on change.
type Watcher struct {
	fsw    *fsnotify.Watcher
	done   chan struct{}
	logger *slog.Logger
}

// Watch starts watching path and invokes apply with the freshly loaded
// rules after each change. A file that fails to parse leaves the current
// rules in place.
func Watch(path string, apply func([]policy.Rule), logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	// Watch the directory: editors replace files on save, which drops
	// a watch placed on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", path, err)
	}

	w := &Watcher{fsw: fsw, done: make(chan struct{}), logger: logger}
	go w.loop(path, apply)
	return w, nil
}

func (w *Watcher) loop(path string, apply func([]policy.Rule)) {
	var debounce <-chan time.Time
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce = time.After(200 * time.Millisecond)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("policy file watch error", "error", err)
		case <-debounce:
			debounce = nil
			rules, err := Load(path)
			if err != nil {
				w.logger.Warn("policy file reload failed, keeping current rules",
					"path", path, "error", err)
				continue
			}
			apply(rules)
			w.logger.Info("local policy rules reloaded", "path", path, "count", len(rules))
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
