package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Hook names a puppet script may define.
const (
	HookJoin      = "on_join"
	HookTick      = "on_tick"
	HookPeerJoin  = "on_peer_join"
	HookPeerLeave = "on_peer_leave"
)

// Runtime owns one sandboxed LState bound to an Engine.
//
// Runtime is safe for concurrent use; calls into the VM are serialized.
type Runtime struct {
	mu     sync.Mutex
	L      *lua.LState
	limit  int
	logger *zap.Logger
}

// NewRuntime creates a Runtime with the engine.* API registered.
//
// Precondition: engine and logger must be non-nil; instLimit >= 0 (0 = default).
// Postcondition: Returns a Runtime with no scripts loaded.
func NewRuntime(engine Engine, instLimit int, logger *zap.Logger) *Runtime {
	if engine == nil {
		panic("scripting.NewRuntime: engine must not be nil")
	}
	if logger == nil {
		panic("scripting.NewRuntime: logger must not be nil")
	}
	L := NewSandboxedState()
	registerEngine(L, engine, logger)
	return &Runtime{L: L, limit: instLimit, logger: logger}
}

// LoadDir executes every *.lua file in dir in lexicographic order.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns an error naming the first file that fails to load.
func (r *Runtime) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("scripting: reading script dir %q: %w", dir, err)
	}

	var luaFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			luaFiles = append(luaFiles, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(luaFiles)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, path := range luaFiles {
		if err := r.run(func() error { return r.L.DoFile(path) }); err != nil {
			return fmt.Errorf("scripting: loading %q: %w", path, err)
		}
	}
	r.logger.Info("scripts loaded",
		zap.String("dir", dir),
		zap.Int("files", len(luaFiles)),
	)
	return nil
}

// LoadString executes src under the given chunk name.
func (r *Runtime) LoadString(name, src string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.run(func() error { return r.L.DoString(src) }); err != nil {
		return fmt.Errorf("scripting: loading %q: %w", name, err)
	}
	return nil
}

// HasHook reports whether the named global function is defined.
func (r *Runtime) HasHook(hook string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.L == nil {
		return false
	}
	_, ok := r.L.GetGlobal(hook).(*lua.LFunction)
	return ok
}

// CallHook calls the named Lua global function. Returns (LNil, nil) if the
// hook is not defined. Lua runtime errors, including an exhausted
// instruction budget, are logged at Warn level and never propagated.
//
// Precondition: args must be valid lua.LValue instances.
// Postcondition: Returns the first return value of the hook, or LNil.
func (r *Runtime) CallHook(hook string, args ...lua.LValue) (lua.LValue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.L == nil {
		return lua.LNil, nil
	}

	fn := r.L.GetGlobal(hook)
	if fn == lua.LNil {
		return lua.LNil, nil
	}

	err := r.run(func() error {
		return r.L.CallByParam(lua.P{
			Fn:      fn,
			NRet:    1,
			Protect: true,
		}, args...)
	})
	if err != nil {
		r.logger.Warn("scripting: Lua runtime error",
			zap.String("hook", hook),
			zap.Error(err),
		)
		return lua.LNil, nil
	}

	ret := r.L.Get(-1)
	r.L.Pop(1)
	return ret, nil
}

// run executes fn under a fresh instruction budget. Callers hold mu.
func (r *Runtime) run(fn func() error) error {
	disarm := Limit(r.L, r.limit)
	defer disarm()
	return fn()
}

// Close releases the VM. Later calls are no-ops.
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.L != nil {
		r.L.Close()
		r.L = nil
	}
}
