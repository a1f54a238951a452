package macro

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"padlink/pkg/input"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog([]Category{{Name: "Test", Macros: []Definition{
		{ID: "copy", Kind: KindHotkey, Keys: []string{"Ctrl", "C"}},
		{ID: "copy_typo", Kind: KindHotkey, Keys: []string{"Ctrl", "???", "C"}},
		{ID: "all_bad", Kind: KindHotkey, Keys: []string{"???"}},
		{ID: "vol", Kind: KindMedia, Key: "VOLUME_UP"},
		{ID: "bad_media", Kind: KindMedia, Key: "WARP_DRIVE"},
		{ID: "up", Kind: KindMouseScroll, DY: 1},
		{ID: "still", Kind: KindMouseScroll, DY: 0},
	}}})
	require.NoError(t, err)
	return c
}

func TestExecute(t *testing.T) {
	tests := []struct {
		id      string
		want    []string
		wantErr error
	}{
		{id: "copy", want: []string{"press ctrl", "press c", "release c", "release ctrl"}},
		{id: "copy_typo", want: []string{"press ctrl", "press c", "release c", "release ctrl"}},
		{id: "all_bad", wantErr: input.ErrUnresolvedToken},
		{id: "vol", want: []string{"press volume_up", "release volume_up"}},
		{id: "bad_media", wantErr: input.ErrUnresolvedToken},
		{id: "up", want: []string{"scroll 1"}},
		{id: "still"},
		{id: "missing", wantErr: ErrUnknownMacro},
		{id: "  "},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			rec := input.NewRecorder(nil)
			e := NewExecutor(testCatalog(t), rec, 1, nil)
			defer e.Shutdown()

			err := e.Execute(tt.id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			if tt.want == nil {
				assert.Empty(t, rec.Ops())
			} else {
				assert.Equal(t, tt.want, rec.Strings())
			}
		})
	}
}

type panicInjector struct{}

func (panicInjector) Press(input.Key) error   { panic("no display") }
func (panicInjector) Release(input.Key) error { return nil }
func (panicInjector) Scroll(int) error        { return errors.New("no wheel") }

func TestExecute_RecoversPanics(t *testing.T) {
	e := NewExecutor(testCatalog(t), panicInjector{}, 1, nil)
	defer e.Shutdown()

	var err error
	assert.NotPanics(t, func() { err = e.Execute("copy") })
	assert.Error(t, err)

	assert.Error(t, e.Execute("up"))
	total, failed := e.Executed()
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(2), failed)
}

func TestSubmit_RunsOnWorkers(t *testing.T) {
	rec := input.NewRecorder(nil)
	e := NewExecutor(testCatalog(t), rec, 2, nil)
	defer e.Shutdown()

	for i := 0; i < 10; i++ {
		require.True(t, e.Submit("up"))
	}

	require.Eventually(t, func() bool { return len(rec.Ops()) == 10 }, 2*time.Second, 5*time.Millisecond)
	total, failed := e.Executed()
	assert.Equal(t, int64(10), total)
	assert.Zero(t, failed)
}

// blockingInjector holds every scroll until release is closed
type blockingInjector struct {
	input.Recorder
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingInjector) Scroll(dy int) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.Recorder.Scroll(dy)
}

func TestShutdown_CancelsPending(t *testing.T) {
	inj := &blockingInjector{started: make(chan struct{}), release: make(chan struct{})}
	e := NewExecutor(testCatalog(t), inj, 1, nil)

	require.True(t, e.Submit("up"))
	<-inj.started
	for i := 0; i < 5; i++ {
		require.True(t, e.Submit("up"))
	}

	start := time.Now()
	assert.Equal(t, 5, e.Shutdown())
	assert.Less(t, time.Since(start), 100*time.Millisecond, "shutdown must not wait for the running macro")
	assert.False(t, e.Submit("up"))
	assert.Zero(t, e.Shutdown())

	close(inj.release)
	assert.True(t, e.Wait(time.Second))
	assert.Len(t, inj.Ops(), 1)
}
