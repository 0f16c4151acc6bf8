// Package lock guards a local store against concurrent sync runs. Pull,
// push and import all rewrite rows wholesale; two processes doing that at
// once would interleave half-applied batches.
package lock

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/rtmsync/internal/util"
)

// LockFileName is the name of the lock file next to the database.
const LockFileName = "sync.lock"

// DefaultTTL is how long a lock stays valid without a heartbeat. A crashed
// process leaves a lock behind; after the TTL it is treated as stale and
// taken over.
const DefaultTTL = 60 * time.Second

// Lock is the on-disk lock state.
type Lock struct {
	Owner     string    `yaml:"owner"` // user@machine identifier
	Operation string    `yaml:"operation"`
	Acquired  time.Time `yaml:"acquired"`
	Heartbeat time.Time `yaml:"heartbeat"`
	TTL       string    `yaml:"ttl"`
	PID       int       `yaml:"pid"`
}

// TTLDuration parses the TTL string, falling back to DefaultTTL.
func (l *Lock) TTLDuration() time.Duration {
	d, err := time.ParseDuration(l.TTL)
	if err != nil {
		return DefaultTTL
	}
	return d
}

// IsStale returns true if the lock heartbeat is older than its TTL.
func (l *Lock) IsStale() bool {
	return time.Since(l.Heartbeat) > l.TTLDuration()
}

// LockError reports a lock held by another process.
type LockError struct {
	Owner     string
	Operation string
	PID       int
}

func (e *LockError) Error() string {
	return fmt.Sprintf("store is locked by %s (pid %d, running %s)", e.Owner, e.PID, e.Operation)
}

// RunLocker serializes sync runs against one store directory.
type RunLocker struct {
	dir   string
	owner string
	ttl   time.Duration
	mu    sync.Mutex
}

// NewRunLocker creates a locker for the directory holding the store.
func NewRunLocker(dir string) *RunLocker {
	return &RunLocker{dir: dir, owner: defaultOwner(), ttl: DefaultTTL}
}

func defaultOwner() string {
	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return username + "@" + host
}

func (r *RunLocker) path() string {
	return filepath.Join(r.dir, LockFileName)
}

func (r *RunLocker) read() (*Lock, error) {
	data, err := os.ReadFile(r.path())
	if err != nil {
		return nil, err
	}
	var l Lock
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse lock file: %w", err)
	}
	return &l, nil
}

func (r *RunLocker) write(l *Lock) error {
	data, err := yaml.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	return util.AtomicWriteFile(r.path(), data, 0o644)
}

// heldByOther reports whether the lock belongs to a different live run.
// The owner string is user@host, shared by every process the user starts
// on that machine, so the recorded PID is what tells two runs apart. A
// same-owner lock whose process is gone counts as stale.
func (r *RunLocker) heldByOther(l *Lock) bool {
	if l.IsStale() || l.PID == os.Getpid() {
		return false
	}
	if l.Owner != r.owner {
		return true
	}
	return processAlive(l.PID)
}

// processAlive probes the pid with signal 0. EPERM still means the
// process exists.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Acquire takes the lock for the named operation. A live lock held by
// another process fails with *LockError; a stale one is taken over.
func (r *RunLocker) Acquire(operation string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.read()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if err == nil && r.heldByOther(existing) {
		return &LockError{Owner: existing.Owner, Operation: existing.Operation, PID: existing.PID}
	}

	now := time.Now()
	return r.write(&Lock{
		Owner:     r.owner,
		Operation: operation,
		Acquired:  now,
		Heartbeat: now,
		TTL:       r.ttl.String(),
		PID:       os.Getpid(),
	})
}

// Heartbeat refreshes the lock so long runs are not treated as stale.
func (r *RunLocker) Heartbeat() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, err := r.read()
	if err != nil {
		return err
	}
	if l.Owner != r.owner || l.PID != os.Getpid() {
		return &LockError{Owner: l.Owner, Operation: l.Operation, PID: l.PID}
	}
	l.Heartbeat = time.Now()
	return r.write(l)
}

// Release removes the lock file. Releasing a lock held by someone else is
// refused.
func (r *RunLocker) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, err := r.read()
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if r.heldByOther(l) {
		return &LockError{Owner: l.Owner, Operation: l.Operation, PID: l.PID}
	}
	return os.Remove(r.path())
}
