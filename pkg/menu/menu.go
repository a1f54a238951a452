// Package menu provides a keyboard-driven pop-up menu drawn over a tcell screen
package menu

import (
	"github.com/gdamore/tcell/v2"
)

// Item is a single menu entry
type Item struct {
	Label     string
	Shortcut  string
	Action    func()
	Enabled   bool
	Separator bool
}

// Menu is a centered pop-up list. It keeps no reference to the screen; the
// owner calls Draw after drawing its own content.
type Menu struct {
	title    string
	items    []Item
	selected int
	visible  bool
	width    int
	height   int

	onClose func()
}

// NewMenu creates an empty, hidden menu
func NewMenu(title string) *Menu {
	m := &Menu{title: title}
	m.updateDimensions()
	return m
}

// AddItem adds an enabled entry
func (m *Menu) AddItem(label, shortcut string, action func()) {
	m.items = append(m.items, Item{
		Label:    label,
		Shortcut: shortcut,
		Action:   action,
		Enabled:  true,
	})
	m.updateDimensions()
}

// AddSeparator adds a separator line
func (m *Menu) AddSeparator() {
	m.items = append(m.items, Item{Separator: true})
	m.updateDimensions()
}

// Items returns a copy of the entries
func (m *Menu) Items() []Item {
	return append([]Item(nil), m.items...)
}

// Select moves the highlight to index if it is selectable
func (m *Menu) Select(index int) {
	if index >= 0 && index < len(m.items) && m.selectable(index) {
		m.selected = index
	}
}

// Selected returns the highlighted index
func (m *Menu) Selected() int {
	return m.selected
}

// Show makes the menu visible and highlights the first selectable entry if
// the current one is not
func (m *Menu) Show() {
	m.visible = true
	if len(m.items) > 0 && !m.selectable(m.selected) {
		m.moveSelection(1)
	}
}

// Hide hides the menu
func (m *Menu) Hide() {
	if !m.visible {
		return
	}
	m.visible = false
	if m.onClose != nil {
		m.onClose()
	}
}

// IsVisible returns whether the menu is visible
func (m *Menu) IsVisible() bool {
	return m.visible
}

// Draw renders the menu centered on s
func (m *Menu) Draw(s tcell.Screen) {
	if !m.visible {
		return
	}

	style := tcell.StyleDefault.Background(tcell.ColorDarkBlue).Foreground(tcell.ColorWhite)
	selectedStyle := tcell.StyleDefault.Background(tcell.ColorWhite).Foreground(tcell.ColorBlack)
	disabledStyle := style.Foreground(tcell.ColorGray)

	sw, sh := s.Size()
	x0 := (sw - m.width) / 2
	y0 := (sh - m.height) / 2
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}

	m.drawBorder(s, x0, y0, style)

	y := y0 + 1
	if m.title != "" {
		drawText(s, x0+(m.width-len(m.title))/2, y, m.title, style.Bold(true))
		y++
		hline(s, x0+1, x0+m.width-1, y, style)
		y++
	}

	for i, item := range m.items {
		if item.Separator {
			hline(s, x0+1, x0+m.width-1, y, style)
			y++
			continue
		}

		itemStyle := style
		if !item.Enabled {
			itemStyle = disabledStyle
		} else if i == m.selected {
			itemStyle = selectedStyle
		}

		for x := x0 + 1; x < x0+m.width-1; x++ {
			s.SetContent(x, y, ' ', nil, itemStyle)
		}
		drawText(s, x0+2, y, item.Label, itemStyle)
		if item.Shortcut != "" {
			drawText(s, x0+m.width-len(item.Shortcut)-2, y, item.Shortcut, itemStyle)
		}
		y++
	}
}

// HandleKey processes a key while the menu is visible. It returns true when
// the key was consumed.
func (m *Menu) HandleKey(ev *tcell.EventKey) bool {
	if !m.visible {
		return false
	}

	switch ev.Key() {
	case tcell.KeyEscape:
		m.Hide()
		return true
	case tcell.KeyUp:
		m.moveSelection(-1)
		return true
	case tcell.KeyDown, tcell.KeyTab:
		m.moveSelection(1)
		return true
	case tcell.KeyEnter:
		m.activate(m.selected)
		return true
	case tcell.KeyRune:
		for i, item := range m.items {
			if item.Shortcut != "" && m.selectable(i) && string(ev.Rune()) == item.Shortcut {
				m.activate(i)
				return true
			}
		}
	}

	// swallow everything else so keys don't leak to the board underneath
	return true
}

func (m *Menu) selectable(i int) bool {
	return !m.items[i].Separator && m.items[i].Enabled
}

// moveSelection moves the highlight, skipping separators and disabled items
func (m *Menu) moveSelection(direction int) {
	n := len(m.items)
	if n == 0 {
		return
	}

	next := m.selected
	for range n {
		next = (next + direction + n) % n
		if m.selectable(next) {
			m.selected = next
			return
		}
	}
}

// activate runs the entry's action and closes the menu
func (m *Menu) activate(i int) {
	if i < 0 || i >= len(m.items) || !m.selectable(i) {
		return
	}
	action := m.items[i].Action
	m.Hide()
	if action != nil {
		action()
	}
}

func (m *Menu) drawBorder(s tcell.Screen, x0, y0 int, style tcell.Style) {
	x1, y1 := x0+m.width-1, y0+m.height-1

	s.SetContent(x0, y0, '┌', nil, style)
	s.SetContent(x1, y0, '┐', nil, style)
	s.SetContent(x0, y1, '└', nil, style)
	s.SetContent(x1, y1, '┘', nil, style)
	hline(s, x0+1, x1, y0, style)
	hline(s, x0+1, x1, y1, style)

	for y := y0 + 1; y < y1; y++ {
		s.SetContent(x0, y, '│', nil, style)
		s.SetContent(x1, y, '│', nil, style)
		for x := x0 + 1; x < x1; x++ {
			s.SetContent(x, y, ' ', nil, style)
		}
	}
}

// updateDimensions sizes the box to the widest entry
func (m *Menu) updateDimensions() {
	maxWidth := len(m.title) + 4
	for _, item := range m.items {
		if item.Separator {
			continue
		}
		if w := len(item.Label) + len(item.Shortcut) + 6; w > maxWidth {
			maxWidth = w
		}
	}

	m.width = maxWidth
	m.height = len(m.items) + 2
	if m.title != "" {
		m.height += 2
	}
}

// SetOnClose sets the callback run when the menu hides
func (m *Menu) SetOnClose(callback func()) {
	m.onClose = callback
}

// Clear removes all entries
func (m *Menu) Clear() {
	m.items = nil
	m.selected = 0
	m.updateDimensions()
}

func hline(s tcell.Screen, x0, x1, y int, style tcell.Style) {
	for x := x0; x < x1; x++ {
		s.SetContent(x, y, '─', nil, style)
	}
}

func drawText(s tcell.Screen, x, y int, text string, style tcell.Style) {
	for i, ch := range []rune(text) {
		s.SetContent(x+i, y, ch, nil, style)
	}
}
