package proc

import (
	"fmt"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/DevJayantaGhosh/sherlock/internal/model"
)

// Handle is a live child process registered under a process key.
type Handle struct {
	Key string

	mx      sync.Mutex
	cmd     *exec.Cmd
	pid     int
	pgid    int
	started time.Time
}

func newHandle(key string) *Handle {
	return &Handle{Key: key}
}

func (h *Handle) attach(cmd *exec.Cmd) {
	h.mx.Lock()
	defer h.mx.Unlock()
	h.cmd = cmd
	h.pid = cmd.Process.Pid
	h.pgid = groupOf(h.pid)
	h.started = time.Now().UTC()
}

// Pid returns the process id, zero until the process has started.
func (h *Handle) Pid() int {
	h.mx.Lock()
	defer h.mx.Unlock()
	return h.pid
}

// Pgid returns the process group id, zero when the platform has none.
func (h *Handle) Pgid() int {
	h.mx.Lock()
	defer h.mx.Unlock()
	return h.pgid
}

func (h *Handle) Started() time.Time {
	h.mx.Lock()
	defer h.mx.Unlock()
	return h.started
}

// Kill terminates the whole process tree of h. It is best effort and a no-op
// for a handle whose process has not started yet.
func (h *Handle) Kill() error {
	h.mx.Lock()
	cmd, pid, pgid := h.cmd, h.pid, h.pgid
	h.mx.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return killTree(cmd.Process, pid, pgid)
}

// Registry tracks live child processes. At most one handle exists per key.
type Registry struct {
	mx      sync.Mutex
	handles map[string]*Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Register adds h under its key and fails with model.ErrProcessExists when
// the key is taken.
func (r *Registry) Register(h *Handle) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if _, ok := r.handles[h.Key]; ok {
		return fmt.Errorf("%w: %s", model.ErrProcessExists, h.Key)
	}
	r.handles[h.Key] = h
	return nil
}

func (r *Registry) Get(key string) (*Handle, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()
	h, ok := r.handles[key]
	return h, ok
}

// Remove deletes and returns the handle stored under key.
func (r *Registry) Remove(key string) (*Handle, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()
	h, ok := r.handles[key]
	if ok {
		delete(r.handles, key)
	}
	return h, ok
}

// RemoveIf deletes key only when it still refers to h.
func (r *Registry) RemoveIf(key string, h *Handle) bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	if cur, ok := r.handles[key]; ok && cur == h {
		delete(r.handles, key)
		return true
	}
	return false
}

// Kill removes the handle stored under key and terminates its process tree.
// It reports whether a handle was registered.
func (r *Registry) Kill(key string) (bool, error) {
	h, ok := r.Remove(key)
	if !ok {
		return false, nil
	}
	return true, h.Kill()
}

func (r *Registry) Len() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return len(r.handles)
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mx.Lock()
	keys := make([]string, 0, len(r.handles))
	for k := range r.handles {
		keys = append(keys, k)
	}
	r.mx.Unlock()
	slices.Sort(keys)
	return keys
}
