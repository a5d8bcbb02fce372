package adapter

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nerrad567/sitewatch-core/internal/controller"
)

// Logger defines the logging interface used by the Factory.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Creator builds an adapter bound to one controller.
type Creator func(ctrl *controller.Controller) (Adapter, error)

// Factory resolves controllers to adapters by protocol code.
//
// Lookups are case-insensitive. Factory is safe for concurrent use; the
// scheduler calls Create from many goroutines.
type Factory struct {
	mu       sync.RWMutex
	creators map[string]Creator
	validate bool
	logger   Logger
}

// NewFactory creates an empty factory. When production is false, every
// created adapter is checked against RequiredCapabilities and gaps are logged.
func NewFactory(production bool) *Factory {
	return &Factory{
		creators: make(map[string]Creator),
		validate: !production,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the factory.
func (f *Factory) SetLogger(logger Logger) {
	f.mu.Lock()
	f.logger = logger
	f.mu.Unlock()
}

// Register binds a protocol code to a creator, replacing any previous one.
// It panics if creator is nil.
func (f *Factory) Register(code string, creator Creator) {
	if creator == nil {
		panic("adapter: Register creator is nil for " + code)
	}
	f.mu.Lock()
	f.creators[normalizeCode(code)] = creator
	f.mu.Unlock()
}

// Supports reports whether a creator is registered for code.
func (f *Factory) Supports(code string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.creators[normalizeCode(code)]
	return ok
}

// Protocols returns the registered protocol codes, sorted.
func (f *Factory) Protocols() []string {
	f.mu.RLock()
	codes := make([]string, 0, len(f.creators))
	for code := range f.creators {
		codes = append(codes, code)
	}
	f.mu.RUnlock()
	sort.Strings(codes)
	return codes
}

// Create builds the adapter for ctrl. Every error is a *ResolveError.
func (f *Factory) Create(ctrl *controller.Controller) (Adapter, error) {
	if ctrl == nil {
		return nil, &ResolveError{Err: fmt.Errorf("%w: nil controller", ErrConfiguration)}
	}

	code := ctrl.ProtocolCode()
	f.mu.RLock()
	creator, ok := f.creators[code]
	logger := f.logger
	f.mu.RUnlock()

	if !ok {
		return nil, &ResolveError{
			ControllerID: ctrl.ID,
			Code:         ctrl.Code,
			Err:          fmt.Errorf("%w: no adapter registered for code %q", ErrUnsupportedProtocol, ctrl.Code),
		}
	}

	a, err := creator(ctrl)
	if err != nil {
		return nil, &ResolveError{ControllerID: ctrl.ID, Code: ctrl.Code, Err: err}
	}
	if a == nil {
		return nil, &ResolveError{
			ControllerID: ctrl.ID,
			Code:         ctrl.Code,
			Err:          fmt.Errorf("%w: creator returned nil adapter", ErrConfiguration),
		}
	}

	if f.validate {
		if missing := a.Capabilities().Missing(RequiredCapabilities); len(missing) > 0 {
			logger.Warn("adapter missing required capabilities",
				"controller_id", ctrl.ID,
				"code", code,
				"missing", missing.Strings(),
			)
		}
	}

	return a, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
