// Package protocol decodes the macropad's newline-delimited JSON wire format
package protocol

import (
	"fmt"
	"strings"
)

// Kind is the value of the "t" discriminator field
type Kind string

const (
	KindHello     Kind = "hello"
	KindHeartbeat Kind = "hb"
	KindKey       Kind = "key"
	KindEncoder   Kind = "enc"
	KindButton    Kind = "btn"
)

// MaxKeys is the largest key count a hello may announce
const MaxKeys = 256

// Edge is the transition direction of a binary input
type Edge string

const (
	EdgeDown Edge = "down"
	EdgeUp   Edge = "up"
)

// Valid reports whether e is one of the two known edges
func (e Edge) Valid() bool {
	return e == EdgeDown || e == EdgeUp
}

// Message is one decoded wire record. The set of implementations is closed:
// Hello, Heartbeat, KeyEvent, EncoderEvent and ButtonEvent.
type Message interface {
	Kind() Kind
	isMessage()
}

// Hello is the handshake a device sends after it boots or a host connects
type Hello struct {
	Type      string   `json:"type"`
	FWVersion string   `json:"fw_version"`
	Keys      int      `json:"keys"`
	Pins      []string `json:"pins"`
}

// Heartbeat proves the device is alive. TS is in seconds.
type Heartbeat struct {
	TS float64 `json:"ts"`
}

// KeyEvent is a physical key transition. K is zero-based.
type KeyEvent struct {
	K    int      `json:"k"`
	Edge Edge     `json:"edge"`
	TS   *float64 `json:"ts,omitempty"`
}

// EncoderEvent is a rotary encoder tick. D is a signed delta in ticks.
type EncoderEvent struct {
	ID  int      `json:"id"`
	D   int      `json:"d"`
	Pos *int     `json:"pos,omitempty"`
	TS  *float64 `json:"ts,omitempty"`
}

// ButtonEvent is an encoder push-button transition
type ButtonEvent struct {
	ID   int      `json:"id"`
	Edge Edge     `json:"edge"`
	TS   *float64 `json:"ts,omitempty"`
}

func (Hello) Kind() Kind        { return KindHello }
func (Heartbeat) Kind() Kind    { return KindHeartbeat }
func (KeyEvent) Kind() Kind     { return KindKey }
func (EncoderEvent) Kind() Kind { return KindEncoder }
func (ButtonEvent) Kind() Kind  { return KindButton }

func (Hello) isMessage()        {}
func (Heartbeat) isMessage()    {}
func (KeyEvent) isMessage()     {}
func (EncoderEvent) isMessage() {}
func (ButtonEvent) isMessage()  {}

// String returns a one-line summary of the handshake
func (h Hello) String() string {
	return fmt.Sprintf("%s | FW %s | keys=%d | pins=[%s]", h.Type, h.FWVersion, h.Keys, strings.Join(h.Pins, ","))
}

func (e KeyEvent) String() string {
	return fmt.Sprintf("key k=%d %s", e.K, e.Edge)
}

func (e EncoderEvent) String() string {
	if e.Pos != nil {
		return fmt.Sprintf("enc id=%d d=%+d pos=%d", e.ID, e.D, *e.Pos)
	}
	return fmt.Sprintf("enc id=%d d=%+d", e.ID, e.D)
}

func (e ButtonEvent) String() string {
	return fmt.Sprintf("btn id=%d %s", e.ID, e.Edge)
}

func (h Heartbeat) String() string {
	return fmt.Sprintf("hb ts=%.3f", h.TS)
}

// DecodeError reports a line that could not be decoded. It is never fatal:
// callers log it and move on to the next line.
type DecodeError struct {
	Line  []byte
	Cause string
	Err   error
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %q: %s: %v", e.Line, e.Cause, e.Err)
	}
	return fmt.Sprintf("decode %q: %s", e.Line, e.Cause)
}

// Unwrap returns the underlying parse error, if any
func (e *DecodeError) Unwrap() error {
	return e.Err
}
