package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
	"unicode/utf8"
)

type object map[string]json.RawMessage

// Decode decodes one line using the current time as the receipt time
func Decode(line []byte) (Message, error) {
	return DecodeAt(line, time.Now())
}

// DecodeAt decodes one newline-terminated line. received is used as the
// heartbeat timestamp when the device does not send one.
func DecodeAt(line []byte, received time.Time) (msg Message, err error) {
	raw := append([]byte(nil), line...)

	defer func() {
		if r := recover(); r != nil {
			msg = nil
			err = &DecodeError{Line: raw, Cause: fmt.Sprintf("panic: %v", r)}
		}
	}()

	if !utf8.Valid(raw) {
		return nil, &DecodeError{Line: raw, Cause: "invalid utf-8"}
	}

	text := bytes.TrimSpace(raw)
	if len(text) == 0 {
		return nil, &DecodeError{Line: raw, Cause: "empty line"}
	}

	var obj object
	if err := json.Unmarshal(text, &obj); err != nil {
		return nil, &DecodeError{Line: raw, Cause: "invalid json", Err: err}
	}
	if obj == nil {
		return nil, &DecodeError{Line: raw, Cause: "not a json object"}
	}

	var kind string
	if ok, err := obj.strField("t", &kind); err != nil {
		return nil, &DecodeError{Line: raw, Cause: "bad discriminator", Err: err}
	} else if !ok {
		return nil, &DecodeError{Line: raw, Cause: `missing field "t"`}
	}

	switch Kind(kind) {
	case KindHello:
		msg, err = obj.hello()
	case KindHeartbeat:
		msg, err = obj.heartbeat(received)
	case KindKey:
		msg, err = obj.key()
	case KindEncoder:
		msg, err = obj.encoder()
	case KindButton:
		msg, err = obj.button()
	default:
		return nil, &DecodeError{Line: raw, Cause: fmt.Sprintf("unknown message type %q", kind)}
	}

	if err != nil {
		return nil, &DecodeError{Line: raw, Cause: fmt.Sprintf("%s message", kind), Err: err}
	}
	return msg, nil
}

func (o object) hello() (Message, error) {
	var h Hello
	if err := o.requireStr("type", &h.Type); err != nil {
		return nil, err
	}
	if _, err := o.strField("fw_version", &h.FWVersion); err != nil {
		return nil, err
	}
	if _, err := o.intField("keys", &h.Keys); err != nil {
		return nil, err
	}
	if h.Keys > MaxKeys {
		return nil, fmt.Errorf("field %q: %d exceeds the limit of %d", "keys", h.Keys, MaxKeys)
	}
	pins, err := o.strList("pins")
	if err != nil {
		return nil, err
	}
	h.Pins = pins
	return h, nil
}

func (o object) heartbeat(received time.Time) (Message, error) {
	hb := Heartbeat{TS: float64(received.UnixNano()) / 1e9}
	if _, err := o.floatField("ts", &hb.TS); err != nil {
		return nil, err
	}
	return hb, nil
}

func (o object) key() (Message, error) {
	var ev KeyEvent
	if err := o.requireInt("k", &ev.K); err != nil {
		return nil, err
	}
	edge, err := o.edge()
	if err != nil {
		return nil, err
	}
	ev.Edge = edge
	if ev.TS, err = o.optFloat("ts"); err != nil {
		return nil, err
	}
	return ev, nil
}

func (o object) encoder() (Message, error) {
	var ev EncoderEvent
	if err := o.requireInt("id", &ev.ID); err != nil {
		return nil, err
	}
	if err := o.requireInt("d", &ev.D); err != nil {
		return nil, err
	}

	var pos int
	ok, err := o.intField("pos", &pos)
	if err != nil {
		return nil, err
	}
	if ok {
		ev.Pos = &pos
	}
	if ev.TS, err = o.optFloat("ts"); err != nil {
		return nil, err
	}
	return ev, nil
}

func (o object) button() (Message, error) {
	var ev ButtonEvent
	if err := o.requireInt("id", &ev.ID); err != nil {
		return nil, err
	}
	edge, err := o.edge()
	if err != nil {
		return nil, err
	}
	ev.Edge = edge
	if ev.TS, err = o.optFloat("ts"); err != nil {
		return nil, err
	}
	return ev, nil
}

func (o object) edge() (Edge, error) {
	var s string
	if err := o.requireStr("edge", &s); err != nil {
		return "", err
	}
	e := Edge(s)
	if !e.Valid() {
		return "", fmt.Errorf("field %q: unknown edge %q", "edge", s)
	}
	return e, nil
}

// field returns the raw value of name, treating an explicit null as absent
func (o object) field(name string) (json.RawMessage, bool) {
	v, ok := o[name]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, false
	}
	return v, true
}

func (o object) strField(name string, dst *string) (bool, error) {
	v, ok := o.field(name)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return true, fmt.Errorf("field %q: expected string: %w", name, err)
	}
	return true, nil
}

func (o object) requireStr(name string, dst *string) error {
	ok, err := o.strField(name, dst)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("missing field %q", name)
	}
	return nil
}

func (o object) number(name string) (json.Number, bool, error) {
	v, ok := o.field(name)
	if !ok {
		return "", false, nil
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return "", true, fmt.Errorf("field %q: expected number: %w", name, err)
	}
	return n, true, nil
}

func (o object) intField(name string, dst *int) (bool, error) {
	n, ok, err := o.number(name)
	if err != nil || !ok {
		return ok, err
	}
	if i, err := n.Int64(); err == nil {
		if i < math.MinInt32 || i > math.MaxInt32 {
			return true, fmt.Errorf("field %q: expected integer, got %s", name, n)
		}
		*dst = int(i)
		return true, nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return true, fmt.Errorf("field %q: expected integer, got %s", name, n)
	}
	*dst = int(f)
	return true, nil
}

func (o object) requireInt(name string, dst *int) error {
	ok, err := o.intField(name, dst)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("missing field %q", name)
	}
	return nil
}

func (o object) floatField(name string, dst *float64) (bool, error) {
	n, ok, err := o.number(name)
	if err != nil || !ok {
		return ok, err
	}
	f, err := n.Float64()
	if err != nil {
		return true, fmt.Errorf("field %q: expected number: %w", name, err)
	}
	*dst = f
	return true, nil
}

func (o object) optFloat(name string) (*float64, error) {
	var f float64
	ok, err := o.floatField(name, &f)
	if err != nil || !ok {
		return nil, err
	}
	return &f, nil
}

func (o object) strList(name string) ([]string, error) {
	v, ok := o.field(name)
	if !ok {
		return []string{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return nil, fmt.Errorf("field %q: expected list: %w", name, err)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		out = append(out, string(bytes.TrimSpace(item)))
	}
	return out, nil
}
