// Package probe finds the serial port a macropad is attached to
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"padlink/pkg/protocol"
	"padlink/pkg/serial"
)

// DefaultSignature is the hello type the stock firmware reports
const DefaultSignature = "pico-macropad-backend"

// DefaultTimeout is how long a single candidate port is listened to
const DefaultTimeout = 2500 * time.Millisecond

// ErrNotFound is returned when no candidate port speaks the protocol
var ErrNotFound = errors.New("no macropad found")

// Prober opens candidate ports one at a time and listens for a hello or
// heartbeat
type Prober struct {
	// Open opens a candidate. Defaults to serial.Open.
	Open serial.OpenFunc
	// Config is the serial configuration; Port is overwritten per candidate.
	Config serial.SerialConfig
	// Timeout bounds how long each candidate is listened to.
	Timeout time.Duration
	// Signature is the expected hello type. Empty accepts any hello.
	Signature string
	// Strict requires a hello; a heartbeat alone does not match.
	Strict bool
	Logger *zap.Logger
}

// NewProber creates a prober with the default serial settings
func NewProber(signature string, timeout time.Duration, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{
		Open:      serial.Open,
		Config:    serial.DefaultConfig(),
		Timeout:   timeout,
		Signature: signature,
		Logger:    logger,
	}
}

// FindDevice probes candidates in order and returns the first that matches.
// Total time is bounded by roughly len(candidates) * Timeout.
func (p *Prober) FindDevice(ctx context.Context, candidates []string) (string, error) {
	logger := p.logger()

	for _, name := range candidates {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		matched, err := p.probePort(ctx, name)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			logger.Debug("candidate rejected", zap.String("port", name), zap.Error(err))
			continue
		}
		if matched {
			logger.Info("macropad found", zap.String("port", name))
			return name, nil
		}
	}

	return "", ErrNotFound
}

// probePort listens to one port until it matches, is abandoned or its
// deadline passes
func (p *Prober) probePort(ctx context.Context, name string) (bool, error) {
	open := p.Open
	if open == nil {
		open = serial.Open
	}

	port, err := open(p.Config.WithPort(name))
	if err != nil {
		return false, fmt.Errorf("failed to open port: %w", err)
	}
	defer port.Close()

	reader := serial.NewLineReader(port)
	deadline := time.Now().Add(p.timeout())
	sawHeartbeat := false

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		line, err := reader.ReadLine()
		if errors.Is(err, serial.ErrLineTooLong) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to read: %w", err)
		}
		if line == nil {
			continue
		}

		msg, err := protocol.Decode(line)
		if err != nil {
			continue
		}

		switch m := msg.(type) {
		case protocol.Hello:
			if p.Signature != "" && m.Type != p.Signature {
				p.logger().Debug("hello type mismatch",
					zap.String("port", name),
					zap.String("type", m.Type),
					zap.String("want", p.Signature))
				return false, nil
			}
			return true, nil
		case protocol.Heartbeat:
			if !p.Strict {
				return true, nil
			}
			sawHeartbeat = true
		}
	}

	if sawHeartbeat {
		p.logger().Debug("heartbeat without hello", zap.String("port", name))
	}
	return false, nil
}

func (p *Prober) timeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultTimeout
	}
	return p.Timeout
}

func (p *Prober) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}
