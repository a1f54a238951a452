package app

import (
	"go.uber.org/zap"

	"padlink/pkg/config"
	"padlink/pkg/dispatch"
	"padlink/pkg/protocol"
	"padlink/pkg/serial"
)

// Observer receives notifications from the control context. Calls are made
// on the controller goroutine and must not block.
type Observer interface {
	dispatch.Observer

	// ConnectionChanged reports a state change. hello is nil until the
	// device has introduced itself.
	ConnectionChanged(state serial.ConnectionState, port string, hello *protocol.Hello)
	// BindingsChanged reports the active profile's bindings after a load,
	// reload or assignment.
	BindingsChanged(profile string, b config.Bindings)
	// Status is a short human-readable message.
	Status(msg string)
}

// NopObserver ignores every notification
type NopObserver struct{}

func (NopObserver) KeyStateChanged(int, bool)                                        {}
func (NopObserver) MacroDispatched(string, string, int)                              {}
func (NopObserver) ConnectionChanged(serial.ConnectionState, string, *protocol.Hello) {}
func (NopObserver) BindingsChanged(string, config.Bindings)                          {}
func (NopObserver) Status(string)                                                    {}

// LogObserver writes notifications to a logger. It is used when running
// without the status board.
type LogObserver struct {
	Logger *zap.Logger
}

// NewLogObserver creates a LogObserver
func NewLogObserver(logger *zap.Logger) *LogObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogObserver{Logger: logger}
}

func (o *LogObserver) KeyStateChanged(ui int, pressed bool) {
	o.Logger.Debug("key", zap.Int("ui", ui), zap.Bool("pressed", pressed))
}

func (o *LogObserver) MacroDispatched(selector, macroID string, count int) {
	o.Logger.Info("macro dispatched",
		zap.String("selector", selector),
		zap.String("macro", macroID),
		zap.Int("count", count))
}

func (o *LogObserver) ConnectionChanged(state serial.ConnectionState, port string, hello *protocol.Hello) {
	fields := []zap.Field{zap.Stringer("state", state)}
	if port != "" {
		fields = append(fields, zap.String("port", port))
	}
	if hello != nil {
		fields = append(fields,
			zap.String("device", hello.Type),
			zap.String("fw_version", hello.FWVersion),
			zap.Int("keys", hello.Keys))
	}
	o.Logger.Info("connection", fields...)
}

func (o *LogObserver) BindingsChanged(profile string, b config.Bindings) {
	o.Logger.Info("bindings loaded", zap.String("profile", profile), zap.Int("count", len(b)))
}

func (o *LogObserver) Status(msg string) {
	o.Logger.Info(msg)
}

// MultiObserver fans notifications out to several observers
type MultiObserver []Observer

func (m MultiObserver) KeyStateChanged(ui int, pressed bool) {
	for _, o := range m {
		o.KeyStateChanged(ui, pressed)
	}
}

func (m MultiObserver) MacroDispatched(selector, macroID string, count int) {
	for _, o := range m {
		o.MacroDispatched(selector, macroID, count)
	}
}

func (m MultiObserver) ConnectionChanged(state serial.ConnectionState, port string, hello *protocol.Hello) {
	for _, o := range m {
		o.ConnectionChanged(state, port, hello)
	}
}

func (m MultiObserver) BindingsChanged(profile string, b config.Bindings) {
	for _, o := range m {
		o.BindingsChanged(profile, b)
	}
}

func (m MultiObserver) Status(msg string) {
	for _, o := range m {
		o.Status(msg)
	}
}
