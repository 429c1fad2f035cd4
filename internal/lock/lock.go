// Package lock ensures at most one active workflow session per skill.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	forgeerr "github.com/skill-forge/forge/internal/errors"
)

// Coordinator hands out per-skill exclusive locks backed by flock'd files.
// Acquisition failure is fatal to entering a workflow; it is never retried
// automatically. Release is idempotent and must run on every exit path.
type Coordinator struct {
	dir string

	mu   sync.Mutex
	held map[string]*os.File
}

// NewCoordinator creates a coordinator using dir for lock files.
func NewCoordinator(dir string) (*Coordinator, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	return &Coordinator{
		dir:  dir,
		held: make(map[string]*os.File),
	}, nil
}

func (c *Coordinator) lockPath(skillID string) string {
	return filepath.Join(c.dir, skillID+".lock")
}

// Acquire takes the exclusive lock for a skill. Returns LockConflict if
// another session (this process or any other) already holds it.
func (c *Coordinator) Acquire(skillID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.held[skillID]; ok {
		return forgeerr.LockConflict(skillID)
	}

	f, err := os.OpenFile(c.lockPath(skillID), os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("opening lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return forgeerr.LockConflict(skillID).WithCause(err)
	}

	// Record holder PID for manual recovery (forge unlock).
	f.Truncate(0)
	f.Seek(0, 0)
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Sync()

	c.held[skillID] = f
	return nil
}

// Release drops the lock for a skill. Safe to call when the lock is not
// held and safe to call repeatedly.
func (c *Coordinator) Release(skillID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releaseLocked(skillID)
}

func (c *Coordinator) releaseLocked(skillID string) error {
	f, ok := c.held[skillID]
	if !ok {
		return nil
	}
	delete(c.held, skillID)

	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	err := f.Close()
	os.Remove(c.lockPath(skillID))
	return err
}

// ReleaseAll drops every lock this coordinator holds. Called from
// process-level cleanup.
func (c *Coordinator) ReleaseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for skillID := range c.held {
		c.releaseLocked(skillID)
	}
}

// IsLocked reports whether any session holds the lock for a skill.
func (c *Coordinator) IsLocked(skillID string) bool {
	c.mu.Lock()
	if _, ok := c.held[skillID]; ok {
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()

	f, err := os.OpenFile(c.lockPath(skillID), os.O_RDWR, 0600)
	if err != nil {
		return false
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return true
	}
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return false
}

// ForceUnlock removes a lock file left behind by a crashed session. It
// refuses to remove a lock that is actively held.
func (c *Coordinator) ForceUnlock(skillID string) error {
	if c.IsLocked(skillID) {
		return forgeerr.LockConflict(skillID)
	}
	if err := os.Remove(c.lockPath(skillID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
