//go:build linux

package input

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bendahl/uinput"
)

// DefaultUinputPath is the kernel's virtual input device node
const DefaultUinputPath = "/dev/uinput"

// Linux evdev key codes (linux/input-event-codes.h)
const (
	evKeyEsc        = 1
	evKeyMinus      = 12
	evKeyEqual      = 13
	evKeyBackspace  = 14
	evKeyTab        = 15
	evKeyLeftBrace  = 26
	evKeyRightBrace = 27
	evKeyEnter      = 28
	evKeyLeftCtrl   = 29
	evKeySemicolon  = 39
	evKeyApostrophe = 40
	evKeyGrave      = 41
	evKeyLeftShift  = 42
	evKeyBackslash  = 43
	evKeyComma      = 51
	evKeyDot        = 52
	evKeySlash      = 53
	evKeyLeftAlt    = 56
	evKeySpace      = 57
	evKeyF1         = 59
	evKeyF11        = 87
	evKeyF12        = 88
	evKeySysRq      = 99
	evKeyHome       = 102
	evKeyUp         = 103
	evKeyPageUp     = 104
	evKeyLeft       = 105
	evKeyRight      = 106
	evKeyEnd        = 107
	evKeyDown       = 108
	evKeyPageDown   = 109
	evKeyDelete     = 111
	evKeyMute       = 113
	evKeyVolumeDown = 114
	evKeyVolumeUp   = 115
	evKeyLeftMeta   = 125
	evKeyNextSong   = 163
	evKeyPlayPause  = 164
	evKeyPrevSong   = 165
	evKeyF13        = 183
)

var namedCodes = map[Key]int{
	KeyCtrl:      evKeyLeftCtrl,
	KeyShift:     evKeyLeftShift,
	KeyAlt:       evKeyLeftAlt,
	KeySuper:     evKeyLeftMeta,
	KeyEnter:     evKeyEnter,
	KeyTab:       evKeyTab,
	KeyEsc:       evKeyEsc,
	KeySpace:     evKeySpace,
	KeyBackspace: evKeyBackspace,
	KeyDelete:    evKeyDelete,
	KeyHome:      evKeyHome,
	KeyEnd:       evKeyEnd,
	KeyPageUp:    evKeyPageUp,
	KeyPageDown:  evKeyPageDown,
	KeyLeft:      evKeyLeft,
	KeyRight:     evKeyRight,
	KeyUp:        evKeyUp,
	KeyDown:      evKeyDown,
	KeyPrintScr:  evKeySysRq,
	KeyVolUp:     evKeyVolumeUp,
	KeyVolDown:   evKeyVolumeDown,
	KeyMute:      evKeyMute,
	KeyPlayPause: evKeyPlayPause,
	KeyNext:      evKeyNextSong,
	KeyPrev:      evKeyPrevSong,
}

// charCode is a US layout key and whether shift must be held for it
type charCode struct {
	code  int
	shift bool
}

var charCodes = buildCharCodes()

func buildCharCodes() map[rune]charCode {
	m := make(map[rune]charCode)

	rows := []struct {
		chars string
		first int
	}{
		{"1234567890", 2},
		{"qwertyuiop", 16},
		{"asdfghjkl", 30},
		{"zxcvbnm", 44},
	}
	for _, row := range rows {
		for i, r := range row.chars {
			m[r] = charCode{code: row.first + i}
		}
	}

	plain := map[rune]int{
		'-': evKeyMinus, '=': evKeyEqual, '[': evKeyLeftBrace, ']': evKeyRightBrace,
		';': evKeySemicolon, '\'': evKeyApostrophe, '`': evKeyGrave, '\\': evKeyBackslash,
		',': evKeyComma, '.': evKeyDot, '/': evKeySlash, ' ': evKeySpace,
	}
	for r, code := range plain {
		m[r] = charCode{code: code}
	}

	shifted := map[rune]rune{
		'!': '1', '@': '2', '#': '3', '$': '4', '%': '5', '^': '6', '&': '7', '*': '8', '(': '9', ')': '0',
		'_': '-', '+': '=', '{': '[', '}': ']', ':': ';', '"': '\'', '~': '`', '|': '\\',
		'<': ',', '>': '.', '?': '/',
	}
	for r, base := range shifted {
		m[r] = charCode{code: m[base].code, shift: true}
	}

	return m
}

// keyCode maps a resolved key to its evdev code
func keyCode(k Key) (charCode, error) {
	if k.Char != 0 {
		if cc, ok := charCodes[k.Char]; ok {
			return cc, nil
		}
		return charCode{}, fmt.Errorf("%w: no key for %q", ErrUnresolvedToken, k.Char)
	}
	if code, ok := namedCodes[k]; ok {
		return charCode{code: code}, nil
	}
	if strings.HasPrefix(k.Name, "f") {
		var n int
		if _, err := fmt.Sscanf(k.Name, "f%d", &n); err == nil {
			switch {
			case n >= 1 && n <= 10:
				return charCode{code: evKeyF1 + n - 1}, nil
			case n == 11:
				return charCode{code: evKeyF11}, nil
			case n == 12:
				return charCode{code: evKeyF12}, nil
			case n >= 13 && n <= 24:
				return charCode{code: evKeyF13 + n - 13}, nil
			}
		}
	}
	return charCode{}, fmt.Errorf("%w: no key code for %s", ErrUnresolvedToken, k)
}

// UinputInjector injects input through a virtual keyboard and mouse
// created with /dev/uinput
type UinputInjector struct {
	mu       sync.Mutex
	keyboard uinput.Keyboard
	mouse    uinput.Mouse
}

// NewUinputInjector creates the virtual devices. The process needs write
// access to path.
func NewUinputInjector(path, name string) (*UinputInjector, error) {
	keyboard, err := uinput.CreateKeyboard(path, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("failed to create virtual keyboard: %w", err)
	}

	mouse, err := uinput.CreateMouse(path, []byte(name+" wheel"))
	if err != nil {
		keyboard.Close()
		return nil, fmt.Errorf("failed to create virtual mouse: %w", err)
	}

	return &UinputInjector{keyboard: keyboard, mouse: mouse}, nil
}

// NewSystemInjector returns the platform injector
func NewSystemInjector(name string) (Device, error) {
	return NewUinputInjector(DefaultUinputPath, name)
}

// Press implements Injector
func (u *UinputInjector) Press(k Key) error {
	cc, err := keyCode(k)
	if err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if cc.shift {
		if err := u.keyboard.KeyDown(evKeyLeftShift); err != nil {
			return err
		}
	}
	return u.keyboard.KeyDown(cc.code)
}

// Release implements Injector
func (u *UinputInjector) Release(k Key) error {
	cc, err := keyCode(k)
	if err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.keyboard.KeyUp(cc.code); err != nil {
		return err
	}
	if cc.shift {
		return u.keyboard.KeyUp(evKeyLeftShift)
	}
	return nil
}

// Scroll implements Injector
func (u *UinputInjector) Scroll(dy int) error {
	if dy == 0 {
		return nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	return u.mouse.Wheel(false, int32(dy))
}

// Close destroys the virtual devices
func (u *UinputInjector) Close() error {
	kerr := u.keyboard.Close()
	merr := u.mouse.Close()
	if kerr != nil {
		return kerr
	}
	return merr
}
