package macro

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"padlink/pkg/input"
	"padlink/pkg/queue"
)

// DefaultWorkers is the size of the executor pool
const DefaultWorkers = 2

// Executor plays macros on a fixed pool of workers. Submit never blocks;
// jobs wait in an unbounded queue.
type Executor struct {
	catalog  *Catalog
	injector input.Injector
	logger   *zap.Logger

	jobs   *queue.Queue[string]
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed   atomic.Bool
	executed atomic.Int64
	failed   atomic.Int64
}

// NewExecutor starts workers goroutines. workers <= 0 uses DefaultWorkers.
func NewExecutor(catalog *Catalog, injector input.Injector, workers int, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		catalog:  catalog,
		injector: injector,
		logger:   logger,
		jobs:     queue.New[string](),
		ctx:      ctx,
		cancel:   cancel,
	}

	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go e.worker()
	}

	return e
}

// Catalog returns the catalog macros are looked up in
func (e *Executor) Catalog() *Catalog {
	return e.catalog
}

// Submit queues id for execution. It returns false after Shutdown.
func (e *Executor) Submit(id string) bool {
	if e.closed.Load() {
		return false
	}
	return e.jobs.Push(id)
}

// Pending returns the number of queued jobs
func (e *Executor) Pending() int {
	return e.jobs.Len()
}

// Executed returns how many macros ran, and how many of those failed
func (e *Executor) Executed() (total, failed int64) {
	return e.executed.Load(), e.failed.Load()
}

// Shutdown cancels queued jobs and stops the workers without waiting for a
// running macro. It returns the number of jobs cancelled.
func (e *Executor) Shutdown() int {
	if !e.closed.CompareAndSwap(false, true) {
		return 0
	}
	e.jobs.Close()
	n := e.jobs.Clear()
	e.cancel()

	if n > 0 {
		e.logger.Info("cancelled pending macros", zap.Int("count", n))
	}
	return n
}

// Wait blocks until every worker has exited or timeout elapses
func (e *Executor) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (e *Executor) worker() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.jobs.Ready():
		}

		for {
			if e.ctx.Err() != nil {
				return
			}
			id, ok := e.jobs.Pop()
			if !ok {
				break
			}
			if err := e.Execute(id); err != nil {
				e.logger.Warn("macro failed", zap.String("macro", id), zap.Error(err))
			}
		}
	}
}

// Execute plays id synchronously on the calling goroutine
func (e *Executor) Execute(id string) (err error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}

	def, ok := e.catalog.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMacro, id)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("macro %s panicked: %v", id, r)
		}
		e.executed.Inc()
		if err != nil {
			e.failed.Inc()
		}
	}()

	switch def.Kind {
	case KindMouseScroll:
		err = e.scroll(def)
	case KindMedia:
		err = e.media(def)
	default:
		err = e.hotkey(def)
	}
	return err
}

func (e *Executor) scroll(def Definition) error {
	if def.DY == 0 {
		return nil
	}
	if err := e.injector.Scroll(def.DY); err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	e.logger.Info("executed macro", zap.String("macro", def.ID), zap.Int("dy", def.DY))
	return nil
}

func (e *Executor) media(def Definition) error {
	token := strings.TrimSpace(def.Key)
	if token == "" {
		return fmt.Errorf("macro %s has no media key", def.ID)
	}

	k, err := input.Resolve(token)
	if err != nil {
		return err
	}
	if err := input.Tap(e.injector, k); err != nil {
		return err
	}
	e.logger.Info("executed macro", zap.String("macro", def.ID), zap.String("key", token))
	return nil
}

func (e *Executor) hotkey(def Definition) error {
	keys, unresolved := input.ResolveAll(def.Keys)
	if len(unresolved) > 0 {
		e.logger.Warn("dropping unresolved key tokens",
			zap.String("macro", def.ID),
			zap.Strings("tokens", unresolved))
	}
	if len(keys) == 0 {
		return fmt.Errorf("macro %s has no valid keys: %w", def.ID, input.ErrUnresolvedToken)
	}

	if err := input.PlayHotkey(e.injector, keys); err != nil {
		return err
	}
	e.logger.Info("executed macro", zap.String("macro", def.ID), zap.Strings("keys", def.Keys))
	return nil
}
