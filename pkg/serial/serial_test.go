package serial

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestSerialConfig_Validate(t *testing.T) {
	valid := DefaultConfig().WithPort("COM1")

	tests := []struct {
		name    string
		mutate  func(c *SerialConfig)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *SerialConfig) {}, wantErr: false},
		{name: "empty port", mutate: func(c *SerialConfig) { c.Port = "" }, wantErr: true},
		{name: "invalid baud rate", mutate: func(c *SerialConfig) { c.BaudRate = 12345 }, wantErr: true},
		{name: "invalid data bits", mutate: func(c *SerialConfig) { c.DataBits = 9 }, wantErr: true},
		{name: "invalid stop bits", mutate: func(c *SerialConfig) { c.StopBits = 3 }, wantErr: true},
		{name: "invalid parity", mutate: func(c *SerialConfig) { c.Parity = "invalid" }, wantErr: true},
		{name: "zero read timeout", mutate: func(c *SerialConfig) { c.ReadTimeout = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid
			tt.mutate(&config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("SerialConfig.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.BaudRate != 115200 {
		t.Errorf("DefaultConfig() BaudRate = %d, want 115200", config.BaudRate)
	}

	if config.ReadTimeout != 200*time.Millisecond {
		t.Errorf("DefaultConfig() ReadTimeout = %v, want 200ms", config.ReadTimeout)
	}

	if config.Port != "" {
		t.Errorf("DefaultConfig() Port = %q, want empty", config.Port)
	}

	if err := config.WithPort("/dev/ttyACM0").Validate(); err != nil {
		t.Errorf("DefaultConfig().WithPort() returned invalid config: %v", err)
	}
}

func TestOpen_InvalidConfig(t *testing.T) {
	_, err := Open(SerialConfig{})
	if err == nil {
		t.Fatal("Open() with empty config should fail")
	}

	var serr *SerialError
	if !errors.As(err, &serr) {
		t.Fatalf("Open() error = %T, want *SerialError", err)
	}
	if serr.Operation != "open" {
		t.Errorf("SerialError.Operation = %q, want open", serr.Operation)
	}
}

func TestSerialError(t *testing.T) {
	cause := errors.New("device busy")
	err := NewSerialError("read", "COM1", cause)

	expected := "serial read operation failed on port COM1: device busy"
	if err.Error() != expected {
		t.Errorf("SerialError.Error() = %q, want %q", err.Error(), expected)
	}

	if !errors.Is(err, cause) {
		t.Error("SerialError should unwrap to its cause")
	}

	noCause := NewSerialError("close", "COM1", nil)
	if noCause.Error() != "serial close operation failed on port COM1" {
		t.Errorf("SerialError.Error() without cause = %q", noCause.Error())
	}
}

func TestConnectionState_String(t *testing.T) {
	tests := []struct {
		state    ConnectionState
		expected string
	}{
		{StateIdle, "idle"},
		{StateScanning, "scanning"},
		{StateConnected, "connected"},
		{StateDisconnecting, "disconnecting"},
		{ConnectionState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("ConnectionState(%d).String() = %q, want %q", tt.state, got, tt.expected)
		}
	}
}

// chunkReader returns one scripted chunk per Read; an empty chunk simulates
// a read timeout
type chunkReader struct {
	chunks []string
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, nil
	}
	c := r.chunks[0]
	r.chunks = r.chunks[1:]
	return copy(p, c), nil
}

func TestLineReader_SplitsAndBuffers(t *testing.T) {
	r := &chunkReader{chunks: []string{`{"t":"hb"}` + "\n" + `{"t":"ke`, "", `y"}` + "\n"}}
	lr := NewLineReader(r)

	line, err := lr.ReadLine()
	if err != nil || string(line) != `{"t":"hb"}`+"\n" {
		t.Fatalf("ReadLine() = %q, %v", line, err)
	}

	// partial line followed by a timed-out read
	line, err = lr.ReadLine()
	if err != nil || line != nil {
		t.Fatalf("ReadLine() on partial data = %q, %v, want nil, nil", line, err)
	}
	if lr.Buffered() == 0 {
		t.Error("partial line should stay buffered")
	}

	line, err = lr.ReadLine()
	if err != nil || string(line) != `{"t":"key"}`+"\n" {
		t.Fatalf("ReadLine() = %q, %v", line, err)
	}
}

func TestLineReader_TooLong(t *testing.T) {
	r := &chunkReader{chunks: []string{strings.Repeat("x", MaxLineLength+10), "ok\n"}}
	lr := NewLineReader(r)

	var sawTooLong bool
	for i := 0; i < 100; i++ {
		line, err := lr.ReadLine()
		if errors.Is(err, ErrLineTooLong) {
			sawTooLong = true
			continue
		}
		if err != nil {
			t.Fatalf("ReadLine() unexpected error: %v", err)
		}
		if line != nil {
			if string(line) != "ok\n" {
				t.Errorf("ReadLine() after overflow = %q, want ok", line)
			}
			break
		}
	}
	if !sawTooLong {
		t.Error("expected ErrLineTooLong for an unterminated run")
	}
}

func TestLineReader_PropagatesErrors(t *testing.T) {
	lr := NewLineReader(&chunkReader{err: io.ErrUnexpectedEOF})

	if _, err := lr.ReadLine(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadLine() error = %v, want %v", err, io.ErrUnexpectedEOF)
	}
}
