package rbac

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/carebridge/pkg/observability"
)

// ParsePolicy decodes a YAML policy document. Omitted roles fall back to
// DefaultHierarchy and an omitted decision to deny.
func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Policy{}, fmt.Errorf("failed to decode policy: %w", err)
	}

	if len(p.Roles) == 0 {
		p.Roles = DefaultHierarchy()
	}
	if p.DefaultDecision == "" {
		p.DefaultDecision = DecisionDeny
	}
	return p, nil
}

// LoadPolicy reads and decodes the policy file at path
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// PolicyWatcher reloads a policy file into a Model whenever it changes
type PolicyWatcher struct {
	path     string
	model    *Model
	logger   *observability.Logger
	reloaded chan struct{}
}

func NewPolicyWatcher(path string, model *Model, logger *observability.Logger) *PolicyWatcher {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &PolicyWatcher{
		path:     path,
		model:    model,
		logger:   logger.Component("rbac").WithField("policy_file", path),
		reloaded: make(chan struct{}, 1),
	}
}

// Reloaded receives after each reload attempt, successful or not
func (pw *PolicyWatcher) Reloaded() <-chan struct{} {
	return pw.reloaded
}

// Run watches the file's directory until ctx is done. Editors often replace
// files by rename, so the directory is watched rather than the file.
func (pw *PolicyWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(pw.path)); err != nil {
		return fmt.Errorf("failed to watch policy directory: %w", err)
	}

	target := filepath.Clean(pw.path)
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
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pw.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			pw.logger.WithError(err).Warn("policy watcher error")
		}
	}
}

func (pw *PolicyWatcher) reload() {
	defer func() {
		select {
		case pw.reloaded <- struct{}{}:
		default:
		}
	}()

	p, err := LoadPolicy(pw.path)
	if err == nil {
		err = pw.model.Replace(p)
	}
	if err != nil {
		pw.logger.WithError(err).Error("policy reload failed, keeping previous policy")
		return
	}
	pw.logger.Info("policy reloaded")
}
