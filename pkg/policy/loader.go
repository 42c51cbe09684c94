package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/open-policy-agent/opa/ast"
	"github.com/rs/zerolog"
)

// Rule names a policy module may define. Each is a set of violations.
const (
	// RuleDeny rejects the candidate when the policy severity is blocking.
	RuleDeny = "deny"

	// RuleWarn reports without rejecting.
	RuleWarn = "warn"
)

const defaultReloadDelay = 500 * time.Millisecond

// moduleInfo is what admission needs to know about a parsed policy module.
type moduleInfo struct {
	module      *ast.Module
	path        string
	rules       []string
	description string
}

// inspectModule parses src and finds its admission entry points. A module
// that defines neither deny nor warn can never affect a candidate and is
// rejected.
func inspectModule(name, src string) (*moduleInfo, error) {
	module, err := ast.ParseModule(name, src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if module == nil || module.Package == nil {
		return nil, fmt.Errorf("policy %s has no package", name)
	}

	seen := make(map[string]bool)
	for _, r := range module.Rules {
		ref := r.Head.Ref()
		if len(ref) == 0 {
			continue
		}
		if rule := ref[0].Value.String(); rule == RuleDeny || rule == RuleWarn {
			seen[rule] = true
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("policy %s defines neither %s nor %s", name, RuleDeny, RuleWarn)
	}
	rules := make([]string, 0, len(seen))
	for rule := range seen {
		rules = append(rules, rule)
	}
	sort.Strings(rules)

	return &moduleInfo{
		module:      module,
		path:        module.Package.Path.String(),
		rules:       rules,
		description: leadingComment(module),
	}, nil
}

// leadingComment joins the comment lines above the package clause.
func leadingComment(module *ast.Module) string {
	if module.Package.Location == nil {
		return ""
	}
	var parts []string
	for _, c := range module.Comments {
		if c.Location == nil || c.Location.Row >= module.Package.Location.Row {
			continue
		}
		if text := strings.TrimSpace(string(c.Text)); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json":
		return true
	}
	return false
}

// Loader reads admission policies from .rego and .json files and reloads
// them when they change on disk.
type Loader struct {
	logger      zerolog.Logger
	reloadDelay time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:      logger.With().Str("component", "policy-loader").Logger(),
		reloadDelay: defaultReloadDelay,
	}
}

// LoadFromPaths loads the policies named by paths. Directories are walked
// recursively and their unreadable policies are skipped with a warning; a
// file named directly must load. Two sources declaring the same policy name
// are an error, since one would silently shadow the other.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var (
		policies []Policy
		origin   = make(map[string]string)
	)

	add := func(p *Policy, source string) error {
		if prev, dup := origin[p.Name]; dup {
			return fmt.Errorf("policy %s is declared by both %s and %s", p.Name, prev, source)
		}
		origin[p.Name] = source
		policies = append(policies, *p)
		return nil
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}

		if !info.IsDir() {
			p, err := l.loadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
			}
			if err := add(p, path); err != nil {
				return nil, err
			}
			continue
		}

		err = filepath.WalkDir(path, func(file string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !isPolicyFile(file) {
				return nil
			}
			p, err := l.loadFile(file)
			if err != nil {
				l.logger.Warn().Err(err).Str("path", file).Msg("Skipping policy file")
				return nil
			}
			return add(p, file)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
	}

	l.logger.Info().
		Int("total", len(policies)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return policies, nil
}

// loadFile reads one policy file.
func (l *Loader) loadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var p *Policy
	switch filepath.Ext(path) {
	case ".rego":
		p, err = parseRegoPolicy(path, data)
	case ".json":
		p, err = parseJSONPolicy(path, data)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}
	if err != nil {
		return nil, err
	}

	l.logger.Debug().
		Str("path", path).
		Str("policy", p.Name).
		Strs("rules", p.Rules).
		Msg("Policy loaded from file")

	return p, nil
}

// parseRegoPolicy turns a bare module into a blocking policy named after
// its file. The comment block above the package clause is the description.
func parseRegoPolicy(path string, data []byte) (*Policy, error) {
	name := strings.TrimSuffix(filepath.Base(path), ".rego")
	info, err := inspectModule(name, string(data))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &Policy{
		Name:        name,
		Description: info.description,
		Rego:        string(data),
		Severity:    SeverityError,
		Enabled:     true,
		Rules:       info.rules,
		Metadata:    map[string]interface{}{"source": path},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// parseJSONPolicy reads a policy definition that carries its module inline
// along with name, severity and tags.
func parseJSONPolicy(path string, data []byte) (*Policy, error) {
	p := Policy{Enabled: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("policy name is required")
	}
	if p.Rego == "" {
		return nil, fmt.Errorf("policy %s has no rego code", p.Name)
	}

	switch p.Severity {
	case "":
		p.Severity = SeverityError
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
	default:
		return nil, fmt.Errorf("policy %s has unknown severity %q", p.Name, p.Severity)
	}

	info, err := inspectModule(p.Name, p.Rego)
	if err != nil {
		return nil, err
	}
	p.Rules = info.rules
	if p.Description == "" {
		p.Description = info.description
	}
	if p.Metadata == nil {
		p.Metadata = make(map[string]interface{})
	}
	p.Metadata["source"] = path

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	return &p, nil
}

// Watch reloads the policies under paths whenever a policy file is written,
// created, removed or renamed, until ctx is done. reload receives the full
// policy set; a set that fails to load is logged and the previous one
// stays in force.
func (l *Loader) Watch(ctx context.Context, paths []string, reload func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Named files are watched through their directory so that editors
	// replacing the file by rename keep triggering events.
	files := make(map[string]bool)
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}
		if info.IsDir() {
			err = filepath.WalkDir(path, func(dir string, d os.DirEntry, err error) error {
				if err != nil || !d.IsDir() {
					return err
				}
				return watcher.Add(dir)
			})
		} else {
			files[filepath.Clean(path)] = true
			err = watcher.Add(filepath.Dir(path))
		}
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
		}
	}

	l.mu.Lock()
	if l.watcher != nil {
		_ = l.watcher.Close()
	}
	l.watcher = watcher
	l.mu.Unlock()

	relevant := func(name string) bool {
		if !isPolicyFile(name) {
			return false
		}
		dir := filepath.Dir(name)
		for _, path := range paths {
			if files[filepath.Clean(path)] {
				if filepath.Clean(path) == filepath.Clean(name) {
					return true
				}
				continue
			}
			if rel, err := filepath.Rel(path, dir); err == nil && !strings.HasPrefix(rel, "..") {
				return true
			}
		}
		return false
	}

	go l.watch(ctx, watcher, paths, relevant, reload)

	l.logger.Info().
		Int("paths", len(paths)).
		Msg("Started watching policy paths")

	return nil
}

// watch serializes reloads: events restart the debounce timer and the reload
// runs on this goroutine.
func (l *Loader) watch(ctx context.Context, watcher *fsnotify.Watcher, paths []string, relevant func(string) bool, reload func([]Policy) error) {
	defer watcher.Close()

	timer := time.NewTimer(l.reloadDelay)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watcher.Add(event.Name); err != nil {
						l.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch directory")
					}
					continue
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !relevant(event.Name) {
				continue
			}
			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Policy file changed")
			timer.Reset(l.reloadDelay)

		case <-timer.C:
			policies, err := l.LoadFromPaths(ctx, paths)
			if err == nil {
				err = reload(policies)
			}
			if err != nil {
				l.logger.Error().Err(err).Msg("Failed to reload policies; keeping the previous set")
				continue
			}
			l.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	l.watcher = nil
	return err
}
