package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"padlink/pkg/config"
	"padlink/pkg/history"
	"padlink/pkg/protocol"
	"padlink/pkg/serial"
)

func newTestScreen(t *testing.T) tcell.SimulationScreen {
	t.Helper()
	screen := tcell.NewSimulationScreen("UTF-8")
	require.NoError(t, screen.Init())
	screen.SetSize(100, 30)
	t.Cleanup(screen.Fini)
	return screen
}

// screenText returns the visible rows of a simulation screen
func screenText(screen tcell.SimulationScreen) []string {
	cells, width, height := screen.GetContents()
	rows := make([]string, height)
	for y := 0; y < height; y++ {
		var sb strings.Builder
		for x := 0; x < width; x++ {
			c := cells[y*width+x]
			if len(c.Runes) == 0 {
				sb.WriteRune(' ')
				continue
			}
			sb.WriteRune(c.Runes[0])
		}
		rows[y] = strings.TrimRight(sb.String(), " ")
	}
	return rows
}

func containsRow(rows []string, substr string) bool {
	for _, r := range rows {
		if strings.Contains(r, substr) {
			return true
		}
	}
	return false
}

type fakeCommands struct {
	mu       sync.Mutex
	scans    int
	discs    int
	profiles []string
}

func (f *fakeCommands) Scan() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	return true
}

func (f *fakeCommands) Disconnect() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discs++
	return true
}

func (f *fakeCommands) SwitchProfile(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles = append(f.profiles, name)
	return true
}

func (f *fakeCommands) counts() (int, int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans, f.discs, append([]string(nil), f.profiles...)
}

func TestStatusBoard_DrawConnected(t *testing.T) {
	screen := newTestScreen(t)
	board := NewStatusBoard(screen, 12)

	board.ConnectionChanged(serial.StateConnected, "/dev/ttyACM0",
		&protocol.Hello{Type: "pico-macropad-backend", FWVersion: "0.3.1", Keys: 12})
	board.BindingsChanged("default", config.Bindings{"K1": "macro_copy", "E0_CW": "macro_vol_up"})
	board.KeyStateChanged(1, true)
	board.MacroDispatched("K1", "macro_copy", 1)
	board.Draw()

	rows := screenText(screen)
	assert.True(t, containsRow(rows, "connected on /dev/ttyACM0"), "rows: %q", rows)
	assert.True(t, containsRow(rows, "pico-macropad-backend fw 0.3.1, 12 keys"))
	assert.True(t, containsRow(rows, "profile: default"))
	assert.True(t, containsRow(rows, "K1  macro_copy"))
	assert.True(t, containsRow(rows, "cw macro_vol_up"))
	assert.True(t, containsRow(rows, "K1 -> macro_copy"))
	assert.True(t, containsRow(rows, "K12"))
	assert.False(t, containsRow(rows, "K13"))
}

func TestStatusBoard_PressedKeyIsHighlighted(t *testing.T) {
	screen := newTestScreen(t)
	board := NewStatusBoard(screen, 12)

	board.KeyStateChanged(2, true)
	board.Draw()

	cells, width, _ := screen.GetContents()
	// second cell of the first grid row
	pressed := cells[6*width+cellWidth+1]
	_, _, attrs := pressed.Style.Decompose()
	assert.NotZero(t, attrs&tcell.AttrReverse, "pressed key should be drawn reversed")

	released := cells[6*width+1]
	_, _, attrs = released.Style.Decompose()
	assert.Zero(t, attrs&tcell.AttrReverse)
}

func TestStatusBoard_HelloResizesGrid(t *testing.T) {
	screen := newTestScreen(t)
	board := NewStatusBoard(screen, 12)

	board.KeyStateChanged(12, true)
	board.ConnectionChanged(serial.StateConnected, "COM3", &protocol.Hello{Type: "pad", Keys: 8})
	board.Draw()

	rows := screenText(screen)
	assert.True(t, containsRow(rows, "K8"))
	assert.False(t, containsRow(rows, "K9 "))
}

func TestStatusBoard_ScanningHelp(t *testing.T) {
	screen := newTestScreen(t)
	board := NewStatusBoard(screen, 0)

	board.ConnectionChanged(serial.StateScanning, "", nil)
	board.Draw()

	assert.True(t, containsRow(screenText(screen), "scanning..."))
}

func TestStatusBoard_Keys(t *testing.T) {
	screen := newTestScreen(t)
	board := NewStatusBoard(screen, 12)
	cmds := &fakeCommands{}
	board.SetCommands(cmds)
	board.BindingsChanged("default", config.Bindings{})

	done := make(chan error, 1)
	go func() { done <- board.Run(context.Background()) }()

	screen.InjectKey(tcell.KeyRune, 's', tcell.ModNone)
	screen.InjectKey(tcell.KeyRune, 'd', tcell.ModNone)
	screen.InjectKey(tcell.KeyRune, 'p', tcell.ModNone)

	require.Eventually(t, func() bool {
		scans, discs, profiles := cmds.counts()
		return scans == 1 && discs == 1 && len(profiles) == 1
	}, time.Second, 5*time.Millisecond)

	_, _, profiles := cmds.counts()
	assert.Equal(t, "Gaming", profiles[0])

	screen.InjectKey(tcell.KeyRune, 'q', tcell.ModNone)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after q")
	}
}

func TestStatusBoard_ScanDisabledWhileScanning(t *testing.T) {
	screen := newTestScreen(t)
	board := NewStatusBoard(screen, 12)
	cmds := &fakeCommands{}
	board.SetCommands(cmds)
	board.ConnectionChanged(serial.StateScanning, "", nil)

	quit := board.handleKey(tcell.NewEventKey(tcell.KeyRune, 's', tcell.ModNone))
	assert.False(t, quit)

	scans, _, _ := cmds.counts()
	assert.Zero(t, scans)
}

func TestStatusBoard_RunStopsOnContext(t *testing.T) {
	screen := newTestScreen(t)
	board := NewStatusBoard(screen, 12)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- board.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestStatusBoard_NextProfileWraps(t *testing.T) {
	board := NewStatusBoard(newTestScreen(t), 0)

	tests := []struct {
		active string
		want   string
	}{
		{"default", "Gaming"},
		{"gaming", "Editing"},
		{"editing", "Default"},
		{"video_editing", "Default"},
	}

	for _, tt := range tests {
		board.BindingsChanged(tt.active, config.Bindings{})
		if got := board.nextProfile(); got != tt.want {
			t.Errorf("nextProfile() from %s = %q, want %q", tt.active, got, tt.want)
		}
	}
}

func TestStatusBoard_ProfilePicker(t *testing.T) {
	screen := newTestScreen(t)
	board := NewStatusBoard(screen, 12)
	cmds := &fakeCommands{}
	board.SetCommands(cmds)
	board.BindingsChanged("gaming", config.Bindings{})

	board.handleKey(tcell.NewEventKey(tcell.KeyRune, 'm', tcell.ModNone))
	board.Draw()
	assert.True(t, containsRow(screenText(screen), "Profile"), "picker should be drawn")

	// the active profile is highlighted, Down moves to the next one
	board.handleKey(tcell.NewEventKey(tcell.KeyDown, 0, tcell.ModNone))
	quit := board.handleKey(tcell.NewEventKey(tcell.KeyEnter, 0, tcell.ModNone))
	assert.False(t, quit)

	_, _, profiles := cmds.counts()
	assert.Equal(t, []string{"Editing"}, profiles)

	// q is swallowed by an open picker, Esc closes it
	board.handleKey(tcell.NewEventKey(tcell.KeyRune, 'm', tcell.ModNone))
	assert.False(t, board.handleKey(tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)))
	assert.False(t, board.handleKey(tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone)))
	assert.True(t, board.handleKey(tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)))

	_, _, profiles = cmds.counts()
	assert.Len(t, profiles, 1)
}

func TestStatusBoard_PicksStoredProfile(t *testing.T) {
	screen := newTestScreen(t)
	board := NewStatusBoard(screen, 12)
	cmds := &fakeCommands{}
	board.SetCommands(cmds)
	board.SetProfiles(config.ProfileNames("video_editing"))
	board.BindingsChanged("editing", config.Bindings{})

	assert.Equal(t, "video_editing", board.nextProfile())

	board.handleKey(tcell.NewEventKey(tcell.KeyRune, 'm', tcell.ModNone))
	board.Draw()
	assert.True(t, containsRow(screenText(screen), "video_editing"))
	board.handleKey(tcell.NewEventKey(tcell.KeyRune, '4', tcell.ModNone))

	_, _, profiles := cmds.counts()
	assert.Equal(t, []string{"video_editing"}, profiles)

	board.SetProfiles(nil)
	board.BindingsChanged("video_editing", config.Bindings{})
	assert.Equal(t, "Default", board.nextProfile(), "an empty list keeps the previous one")
}

func TestStatusBoard_ShowsHistory(t *testing.T) {
	screen := newTestScreen(t)
	board := NewStatusBoard(screen, 4)

	h := history.NewLog(10)
	board.SetHistory(h)
	for i := 1; i <= 7; i++ {
		h.MacroDispatched(fmt.Sprintf("K%d", i), "macro_copy", 1)
	}
	board.Draw()

	rows := screenText(screen)
	assert.False(t, containsRow(rows, "K2 -> macro_copy"), "only the newest entries are shown")
	assert.True(t, containsRow(rows, "K3 -> macro_copy"))
	assert.True(t, containsRow(rows, "K7 -> macro_copy"))
}
