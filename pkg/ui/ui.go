// Package ui provides the terminal status board
package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"

	"padlink/pkg/config"
	"padlink/pkg/dispatch"
	"padlink/pkg/history"
	"padlink/pkg/menu"
	"padlink/pkg/protocol"
	"padlink/pkg/serial"
)

// Commands are the controller requests the board can make
type Commands interface {
	Scan() bool
	Disconnect() bool
	SwitchProfile(name string) bool
}

// gridColumns is the key grid width; the stock pad is 4x3
const gridColumns = 4

// cellWidth is the width of one key cell including its border
const cellWidth = 18

// recentLines is how many history entries the board shows
const recentLines = 5

type quitEvent struct{}

// StatusBoard renders connection state, the pressed-key grid, the active
// profile and the last dispatched macro. Observer methods may be called
// from any goroutine; drawing happens on the Run goroutine.
type StatusBoard struct {
	screen tcell.Screen

	mu        sync.Mutex
	cmds      Commands
	profiles  []string
	state     serial.ConnectionState
	port      string
	hello     *protocol.Hello
	pressed   []bool
	profile   string
	bindings  config.Bindings
	lastMacro string
	lastAt    time.Time
	status    string

	history *history.Log
	picker  *menu.Menu
	chosen  string
}

// NewStatusBoard creates a board drawing on an initialized screen. keys is
// the grid size shown before the device sends its hello.
func NewStatusBoard(screen tcell.Screen, keys int) *StatusBoard {
	if keys < 0 {
		keys = 0
	}
	return &StatusBoard{
		screen:   screen,
		profiles: append([]string(nil), config.DefaultProfileNames...),
		pressed:  make([]bool, keys),
		bindings: config.Bindings{},
		picker:   menu.NewMenu("Profile"),
	}
}

// NewScreen creates and initializes a tcell screen with the terminal's
// default colors
func NewScreen() (tcell.Screen, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("failed to create screen: %w", err)
	}

	if err := screen.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize screen: %w", err)
	}

	screen.SetStyle(tcell.StyleDefault.
		Background(tcell.ColorReset).
		Foreground(tcell.ColorReset))
	screen.Clear()
	return screen, nil
}

// SetCommands connects the board to the controller
func (b *StatusBoard) SetCommands(c Commands) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cmds = c
}

// SetProfiles replaces the profile names the 'p' key cycles through
func (b *StatusBoard) SetProfiles(names []string) {
	if len(names) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profiles = append([]string(nil), names...)
}

// SetHistory shows the newest entries of h under the key grid
func (b *StatusBoard) SetHistory(h *history.Log) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = h
}

// KeyStateChanged implements dispatch.Observer
func (b *StatusBoard) KeyStateChanged(ui int, pressed bool) {
	b.mu.Lock()
	i := ui - 1
	if i >= 0 {
		for i >= len(b.pressed) {
			b.pressed = append(b.pressed, false)
		}
		b.pressed[i] = pressed
	}
	b.mu.Unlock()
	b.redraw()
}

// MacroDispatched implements dispatch.Observer
func (b *StatusBoard) MacroDispatched(selector, macroID string, count int) {
	b.mu.Lock()
	b.lastMacro = fmt.Sprintf("%s -> %s", selector, macroID)
	if count > 1 {
		b.lastMacro += fmt.Sprintf(" x%d", count)
	}
	b.lastAt = time.Now()
	b.mu.Unlock()
	b.redraw()
}

// ConnectionChanged implements app.Observer
func (b *StatusBoard) ConnectionChanged(state serial.ConnectionState, port string, hello *protocol.Hello) {
	b.mu.Lock()
	b.state = state
	b.port = port
	b.hello = hello
	if hello != nil {
		b.pressed = make([]bool, hello.Keys)
	}
	b.mu.Unlock()
	b.redraw()
}

// BindingsChanged implements app.Observer
func (b *StatusBoard) BindingsChanged(profile string, bindings config.Bindings) {
	b.mu.Lock()
	b.profile = profile
	b.bindings = bindings
	b.mu.Unlock()
	b.redraw()
}

// Status implements app.Observer
func (b *StatusBoard) Status(msg string) {
	b.mu.Lock()
	b.status = msg
	b.mu.Unlock()
	b.redraw()
}

// Run draws the board and handles keys until ctx is cancelled or the user
// quits. It does not finalize the screen.
func (b *StatusBoard) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			b.screen.PostEvent(tcell.NewEventInterrupt(quitEvent{}))
		case <-stop:
		}
	}()

	b.Draw()

	for {
		ev := b.screen.PollEvent()
		switch ev := ev.(type) {
		case nil:
			return nil
		case *tcell.EventInterrupt:
			if _, ok := ev.Data().(quitEvent); ok {
				return nil
			}
		case *tcell.EventResize:
			b.screen.Sync()
		case *tcell.EventKey:
			if b.handleKey(ev) {
				return nil
			}
		}
		b.Draw()
	}
}

// handleKey returns true when the user asked to quit
func (b *StatusBoard) handleKey(ev *tcell.EventKey) bool {
	b.mu.Lock()
	if b.picker.IsVisible() {
		b.picker.HandleKey(ev)
		choice := b.chosen
		b.chosen = ""
		cmds := b.cmds
		b.mu.Unlock()
		if choice != "" && cmds != nil {
			cmds.SwitchProfile(choice)
		}
		return false
	}
	cmds := b.cmds
	scanning := b.state == serial.StateScanning
	b.mu.Unlock()

	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC, tcell.KeyCtrlQ:
		return true
	case tcell.KeyRune:
	default:
		return false
	}

	switch ev.Rune() {
	case 'q', 'Q':
		return true
	case 's', 'S':
		if cmds != nil && !scanning {
			cmds.Scan()
		}
	case 'd', 'D':
		if cmds != nil {
			cmds.Disconnect()
		}
	case 'p', 'P':
		if cmds != nil {
			cmds.SwitchProfile(b.nextProfile())
		}
	case 'm', 'M':
		b.openPicker()
	}
	return false
}

// openPicker fills the profile menu and shows it with the active profile
// highlighted
func (b *StatusBoard) openPicker() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.picker.Clear()
	for i, name := range b.profiles {
		shortcut := ""
		if i < 9 {
			shortcut = fmt.Sprint(i + 1)
		}
		b.picker.AddItem(name, shortcut, func() { b.chosen = name })
		if config.ProfileID(name) == b.profile {
			b.picker.Select(i)
		}
	}
	b.picker.Show()
}

// nextProfile returns the profile after the active one, wrapping around
func (b *StatusBoard) nextProfile() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, name := range b.profiles {
		if config.ProfileID(name) == b.profile {
			return b.profiles[(i+1)%len(b.profiles)]
		}
	}
	return b.profiles[0]
}

func (b *StatusBoard) redraw() {
	b.screen.PostEvent(tcell.NewEventInterrupt(nil))
}

// Draw renders the board
func (b *StatusBoard) Draw() {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.screen
	s.Clear()

	plain := tcell.StyleDefault
	bold := plain.Bold(true)
	dim := plain.Dim(true)

	y := 0
	putString(s, 0, y, bold, "padlink")
	y += 2

	putString(s, 0, y, plain, "state:   ")
	putString(s, 9, y, stateStyle(b.state), b.state.String())
	if b.port != "" {
		putString(s, 9+len(b.state.String())+1, y, plain, "on "+b.port)
	}
	y++

	device := "-"
	if b.hello != nil {
		device = fmt.Sprintf("%s fw %s, %d keys", b.hello.Type, orDash(b.hello.FWVersion), b.hello.Keys)
	}
	putString(s, 0, y, plain, "device:  "+device)
	y++
	putString(s, 0, y, plain, "profile: "+orDash(b.profile))
	y += 2

	for i, down := range b.pressed {
		row, col := i/gridColumns, i%gridColumns
		ui := i + 1
		label := fmt.Sprintf("K%-2d %s", ui, b.bindings.Lookup(dispatch.KeySelector(ui)))
		style := plain
		if down {
			style = plain.Reverse(true)
		}
		putString(s, col*cellWidth, y+row, style, "["+pad(label, cellWidth-3)+"]")
	}
	rows := (len(b.pressed) + gridColumns - 1) / gridColumns
	y += rows + 1

	enc := fmt.Sprintf("E0: cw %s  ccw %s  btn %s",
		orDash(b.bindings.Lookup(dispatch.SelectorEncoderCW)),
		orDash(b.bindings.Lookup(dispatch.SelectorEncoderCCW)),
		orDash(b.bindings.Lookup(dispatch.SelectorEncoderButton)))
	putString(s, 0, y, plain, enc)
	y += 2

	last := "-"
	if b.lastMacro != "" {
		last = b.lastMacro + "  (" + b.lastAt.Format("15:04:05") + ")"
	}
	putString(s, 0, y, plain, "last:    "+last)
	y++
	if b.status != "" {
		putString(s, 0, y, dim, b.status)
	}
	y += 2

	help := "s scan  d disconnect  p next profile  m profiles  q quit"
	if b.state == serial.StateScanning {
		help = "scanning...  d disconnect  p next profile  m profiles  q quit"
	}
	putString(s, 0, y, dim, help)
	y += 2

	if b.history != nil {
		for _, e := range b.history.Recent(recentLines) {
			putString(s, 0, y, dim, e.Timestamp.Format("15:04:05")+" "+e.Direction.Arrow()+" "+e.Text)
			y++
		}
	}

	b.picker.Draw(s)
	s.Show()
}

func stateStyle(state serial.ConnectionState) tcell.Style {
	switch state {
	case serial.StateConnected:
		return tcell.StyleDefault.Foreground(tcell.ColorGreen)
	case serial.StateScanning, serial.StateDisconnecting:
		return tcell.StyleDefault.Foreground(tcell.ColorYellow)
	default:
		return tcell.StyleDefault
	}
}

func putString(s tcell.Screen, x, y int, style tcell.Style, text string) {
	for i, r := range text {
		s.SetContent(x+i, y, r, nil, style)
	}
}

func pad(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
