package input

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrUnsupported is returned where no OS input backend exists
var ErrUnsupported = errors.New("input injection is not supported on this platform")

// Injector synthesizes input events. Scroll uses positive dy for up.
type Injector interface {
	Press(k Key) error
	Release(k Key) error
	Scroll(dy int) error
}

// Device is an Injector backed by an OS resource
type Device interface {
	Injector
	Close() error
}

// Tap presses and releases k
func Tap(inj Injector, k Key) error {
	if err := inj.Press(k); err != nil {
		return fmt.Errorf("failed to press %s: %w", k, err)
	}
	if err := inj.Release(k); err != nil {
		return fmt.Errorf("failed to release %s: %w", k, err)
	}
	return nil
}

// PlayHotkey plays keys as a chord. Modifiers before the last key are held,
// other keys before the last are tapped, and the last key is tapped. Held
// modifiers are released in reverse order even when a tap fails or panics.
func PlayHotkey(inj Injector, keys []Key) (err error) {
	if len(keys) == 0 {
		return nil
	}

	var held []Key
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			if rerr := inj.Release(held[i]); rerr != nil && err == nil {
				err = fmt.Errorf("failed to release %s: %w", held[i], rerr)
			}
		}
	}()

	for _, k := range keys[:len(keys)-1] {
		if k.IsModifier() {
			if err := inj.Press(k); err != nil {
				return fmt.Errorf("failed to press %s: %w", k, err)
			}
			held = append(held, k)
			continue
		}
		if err := Tap(inj, k); err != nil {
			return err
		}
	}

	return Tap(inj, keys[len(keys)-1])
}

// OpType is the kind of a recorded operation
type OpType string

const (
	OpPress   OpType = "press"
	OpRelease OpType = "release"
	OpScroll  OpType = "scroll"
)

// Op is one recorded injector call
type Op struct {
	Type OpType
	Key  Key
	DY   int
}

// String returns a compact form such as "press ctrl" or "scroll 1"
func (o Op) String() string {
	if o.Type == OpScroll {
		return fmt.Sprintf("%s %d", o.Type, o.DY)
	}
	return fmt.Sprintf("%s %s", o.Type, o.Key)
}

// DryRunHistory is the number of operations a logging recorder keeps
const DryRunHistory = 256

// Recorder is an Injector that records and logs operations instead of
// touching the OS. Fail, when set, can reject an operation before it is
// recorded. Limit, when positive, keeps only the newest Limit operations.
type Recorder struct {
	Fail  func(op Op) error
	Limit int

	logger *zap.Logger
	mu     sync.Mutex
	ops    []Op
}

// NewRecorder creates a recorder that logs each operation at debug level
func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{logger: logger}
}

// NewLoggingRecorder creates a recorder for long dry runs that holds at
// most DryRunHistory operations
func NewLoggingRecorder(logger *zap.Logger) *Recorder {
	r := NewRecorder(logger)
	r.Limit = DryRunHistory
	return r
}

func (r *Recorder) Press(k Key) error   { return r.record(Op{Type: OpPress, Key: k}) }
func (r *Recorder) Release(k Key) error { return r.record(Op{Type: OpRelease, Key: k}) }
func (r *Recorder) Scroll(dy int) error { return r.record(Op{Type: OpScroll, DY: dy}) }

// Close implements Device
func (r *Recorder) Close() error { return nil }

// Ops returns the recorded operations
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

// Strings returns the recorded operations in their compact form
func (r *Recorder) Strings() []string {
	ops := r.Ops()
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.String()
	}
	return out
}

// Reset forgets recorded operations
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.ops = nil
	r.mu.Unlock()
}

func (r *Recorder) record(op Op) error {
	if r.Fail != nil {
		if err := r.Fail(op); err != nil {
			return err
		}
	}
	r.mu.Lock()
	if r.Limit > 0 && len(r.ops) >= r.Limit {
		n := copy(r.ops, r.ops[len(r.ops)-r.Limit+1:])
		r.ops = r.ops[:n]
	}
	r.ops = append(r.ops, op)
	r.mu.Unlock()
	if r.logger != nil {
		r.logger.Debug("input", zap.Stringer("op", op))
	}
	return nil
}
