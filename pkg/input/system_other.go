//go:build !linux

package input

// NewSystemInjector returns the platform injector
func NewSystemInjector(name string) (Device, error) {
	return nil, ErrUnsupported
}
