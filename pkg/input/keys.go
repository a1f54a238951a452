// Package input resolves key tokens and synthesizes OS keyboard and mouse
// input
package input

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrUnresolvedToken is returned for key names that map to no key
var ErrUnresolvedToken = errors.New("unresolved key token")

// Key is a resolved key. Named keys have Char == 0; printable keys carry
// their lower-cased character in both Name and Char.
type Key struct {
	Name string
	Char rune
}

// String returns the key name
func (k Key) String() string {
	return k.Name
}

// IsModifier reports whether k is held across the rest of a hotkey
func (k Key) IsModifier() bool {
	switch k {
	case KeyCtrl, KeyShift, KeyAlt, KeySuper:
		return true
	}
	return false
}

var (
	KeyCtrl      = Key{Name: "ctrl"}
	KeyShift     = Key{Name: "shift"}
	KeyAlt       = Key{Name: "alt"}
	KeySuper     = Key{Name: "super"}
	KeyEnter     = Key{Name: "enter"}
	KeyTab       = Key{Name: "tab"}
	KeyEsc       = Key{Name: "esc"}
	KeySpace     = Key{Name: "space"}
	KeyBackspace = Key{Name: "backspace"}
	KeyDelete    = Key{Name: "delete"}
	KeyHome      = Key{Name: "home"}
	KeyEnd       = Key{Name: "end"}
	KeyPageUp    = Key{Name: "page_up"}
	KeyPageDown  = Key{Name: "page_down"}
	KeyLeft      = Key{Name: "left"}
	KeyRight     = Key{Name: "right"}
	KeyUp        = Key{Name: "up"}
	KeyDown      = Key{Name: "down"}
	KeyPrintScr  = Key{Name: "print_screen"}
	KeyVolUp     = Key{Name: "volume_up"}
	KeyVolDown   = Key{Name: "volume_down"}
	KeyMute      = Key{Name: "volume_mute"}
	KeyPlayPause = Key{Name: "play_pause"}
	KeyNext      = Key{Name: "next_track"}
	KeyPrev      = Key{Name: "prev_track"}
)

// named is keyed by the normalized token: upper case with spaces,
// underscores and hyphens removed
var named = map[string]Key{
	"CTRL":    KeyCtrl,
	"CONTROL": KeyCtrl,
	"SHIFT":   KeyShift,
	"ALT":     KeyAlt,
	"WIN":     KeySuper,
	"CMD":     KeySuper,
	"SUPER":   KeySuper,

	"ENTER":     KeyEnter,
	"RETURN":    KeyEnter,
	"TAB":       KeyTab,
	"ESC":       KeyEsc,
	"ESCAPE":    KeyEsc,
	"SPACE":     KeySpace,
	"BACKSPACE": KeyBackspace,
	"DELETE":    KeyDelete,
	"DEL":       KeyDelete,

	"HOME":     KeyHome,
	"END":      KeyEnd,
	"PGUP":     KeyPageUp,
	"PAGEUP":   KeyPageUp,
	"PGDN":     KeyPageDown,
	"PAGEDOWN": KeyPageDown,

	"LEFT":  KeyLeft,
	"RIGHT": KeyRight,
	"UP":    KeyUp,
	"DOWN":  KeyDown,

	"PRTSCN":      KeyPrintScr,
	"PRTSCR":      KeyPrintScr,
	"PRINTSCREEN": KeyPrintScr,

	"VOLUMEUP":   KeyVolUp,
	"VOLUMEDOWN": KeyVolDown,
	"VOLUMEMUTE": KeyMute,
	"PLAYPAUSE":  KeyPlayPause,
	"NEXTTRACK":  KeyNext,
	"PREVTRACK":  KeyPrev,
}

// FunctionKey returns F1..F24
func FunctionKey(n int) (Key, bool) {
	if n < 1 || n > 24 {
		return Key{}, false
	}
	return Key{Name: "f" + strconv.Itoa(n)}, true
}

// Resolve maps a token such as "Ctrl", "PrtScn", "F4", "Page Up" or "c" to a
// key. Matching ignores case, spaces, underscores and hyphens.
func Resolve(token string) (Key, error) {
	t := strings.TrimSpace(token)
	if t == "" {
		return Key{}, fmt.Errorf("%w: empty", ErrUnresolvedToken)
	}

	upper := strings.ToUpper(t)
	if len(upper) > 1 && upper[0] == 'F' {
		if n, err := strconv.Atoi(upper[1:]); err == nil {
			if k, ok := FunctionKey(n); ok {
				return k, nil
			}
		}
	}

	if k, ok := named[normalize(upper)]; ok {
		return k, nil
	}

	if utf8.RuneCountInString(t) == 1 {
		r, _ := utf8.DecodeRuneInString(t)
		if unicode.IsPrint(r) {
			r = unicode.ToLower(r)
			return Key{Name: string(r), Char: r}, nil
		}
	}

	return Key{}, fmt.Errorf("%w: %q", ErrUnresolvedToken, token)
}

// ResolveAll resolves every token, returning the keys that resolved and the
// tokens that did not
func ResolveAll(tokens []string) ([]Key, []string) {
	keys := make([]Key, 0, len(tokens))
	var unresolved []string
	for _, tok := range tokens {
		k, err := Resolve(tok)
		if err != nil {
			unresolved = append(unresolved, tok)
			continue
		}
		keys = append(keys, k)
	}
	return keys, unresolved
}

func normalize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-':
			return -1
		}
		return r
	}, s)
}
