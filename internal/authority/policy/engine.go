package policy

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// ErrAlreadyInitialized is returned by WatchConfigFile if a watcher has
// already been armed for this engine.
var ErrAlreadyInitialized = errors.New("policy: engine already watching a config file")

// ErrEvaluationPanic wraps a recovered panic from a rule, preserving the
// fail-closed contract: the engine never lets a misbehaving rule escape as
// an unhandled panic, but it also never treats it as a pass.
type ErrEvaluationPanic struct {
	Inner any
}

func (e *ErrEvaluationPanic) Error() string {
	return fmt.Sprintf("policy: rule evaluation panicked: %v", e.Inner)
}

// Engine is the synchronous, pure, fail-closed Policy Engine. Config is
// loaded once and then only ever replaced wholesale (via hot reload),
// never mutated in place, so a goroutine mid-Evaluate always sees a
// consistent snapshot.
type Engine struct {
	builtins []Rule
	userCfg  atomic.Pointer[Config]
	cache    *resultCache

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	path    string
}

// New constructs an engine with the built-in rules and an empty user
// configuration.
func New() *Engine {
	return &Engine{
		builtins: BuiltinRules(),
		cache:    newResultCache(defaultCacheSize),
	}
}

// LoadConfigFile performs the one-time initial load of user rules. It does
// not arm a file watcher — call WatchConfigFile separately for hot reload.
func (e *Engine) LoadConfigFile(path string, loadedAt func() (cfg *Config, err error)) error {
	cfg, err := loadedAt()
	if err != nil {
		return err
	}
	e.userCfg.Store(cfg)
	if cfg.CacheSize > 0 {
		e.cache = newResultCache(cfg.CacheSize)
	}
	e.cache.clear()
	return nil
}

// WatchConfigFile arms an fsnotify watcher on path. On every write event,
// the file is reparsed and the config pointer is swapped atomically; the
// evaluation cache is cleared since cached verdicts may have been computed
// against stale rules. Re-arming an already-watching engine is rejected.
func (e *Engine) WatchConfigFile(path string, loadFn func(path string) (*Config, error)) error {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	if e.watcher != nil {
		return ErrAlreadyInitialized
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policy: create watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return fmt.Errorf("policy: watch %s: %w", path, err)
	}
	e.watcher = w
	e.path = path
	go e.watchLoop(w, loadFn)
	return nil
}

func (e *Engine) watchLoop(w *fsnotify.Watcher, loadFn func(path string) (*Config, error)) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := loadFn(e.path)
			if err != nil {
				continue
			}
			e.userCfg.Store(cfg)
			e.cache.clear()
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the config watcher, if any.
func (e *Engine) Close() error {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	if e.watcher == nil {
		return nil
	}
	err := e.watcher.Close()
	e.watcher = nil
	return err
}

// Evaluate runs every built-in and user rule against ctx and returns the
// aggregated verdict. A cached verdict is returned if ctx's content hash
// was seen before. Evaluate never panics: any rule panic is recovered and
// turned into a failing, non-cached Result — fail-closed.
func (e *Engine) Evaluate(ctx SemanticContext) (result Result, err error) {
	key := ctx.ContentHash()
	if cached, ok := e.cache.get(key); ok {
		return cached, nil
	}

	defer func() {
		if r := recover(); r != nil {
			result = Result{IsValid: false, Reason: "policy engine error"}
			err = &ErrEvaluationPanic{Inner: r}
		}
	}()

	var violations []Violation
	violations = append(violations, e.runRules(e.builtins, ctx)...)
	if cfg := e.userCfg.Load(); cfg != nil {
		userRules, compileErr := compileUserRules(cfg)
		if compileErr != nil {
			return Result{IsValid: false, Reason: "policy engine error"}, compileErr
		}
		violations = append(violations, e.runRules(userRules, ctx)...)
	}

	result = Result{IsValid: len(violations) == 0, Violations: violations}
	if !result.IsValid {
		result.Reason = violations[0].Reason
	}
	e.cache.put(key, result)
	return result, nil
}

func (e *Engine) runRules(rules []Rule, ctx SemanticContext) []Violation {
	var out []Violation
	for _, r := range rules {
		out = append(out, r.Evaluate(ctx)...)
	}
	return out
}

// HighestSeverity returns the most severe violation's severity, or "" if
// there were none.
func HighestSeverity(violations []Violation) Severity {
	rank := map[Severity]int{SeverityLow: 1, SeverityHigh: 2, SeverityCritical: 3}
	var best Severity
	for _, v := range violations {
		if rank[v.Severity] > rank[best] {
			best = v.Severity
		}
	}
	return best
}
