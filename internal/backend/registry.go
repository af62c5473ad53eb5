package backend

import (
	"os/exec"

	"github.com/jamesrr39/goutil/errorsx"
)

// Factory builds a backend around an executable
type Factory func(executable string, opts Options) Backend

type registration struct {
	name        string
	factory     Factory
	executables []string
}

// Registry holds backends in priority order
type Registry struct {
	registrations []registration

	// LookPath finds executables, exec.LookPath by default
	LookPath func(file string) (string, error)
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{LookPath: exec.LookPath}
}

// DefaultRegistry returns the built-in backends, most preferred first
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("firefox", Firefox, "firefox", "firefox-esr")
	r.Register("chrome", Chrome, "google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome")
	r.Register("electron", Electron, "electron")
	r.Register("phantomjs", PhantomJS, "phantomjs")
	r.Register("slimerjs", SlimerJS, "slimerjs")
	r.Register("wkhtmltoimage", Wkhtmltoimage, "wkhtmltoimage")
	r.Register("inkscape", Inkscape, "inkscape")
	return r
}

// Register adds a backend at the lowest priority, or replaces the factory
// of an existing one in place. executables are the names searched for when
// no path is configured.
func (r *Registry) Register(name string, factory Factory, executables ...string) {
	for i, reg := range r.registrations {
		if reg.name == name {
			r.registrations[i] = registration{name, factory, executables}
			return
		}
	}
	r.registrations = append(r.registrations, registration{name, factory, executables})
}

// Names lists the registered backends in priority order
func (r *Registry) Names() []string {
	names := make([]string, len(r.registrations))
	for i, reg := range r.registrations {
		names[i] = reg.name
	}
	return names
}

// Availability describes one registered backend on this machine
type Availability struct {
	Name       string
	Executable string
	Available  bool
}

// Available reports, in priority order, which backends can be run
func (r *Registry) Available(paths map[string]string) []Availability {
	var out []Availability
	for _, reg := range r.registrations {
		executable, ok := r.resolve(reg, paths)
		out = append(out, Availability{Name: reg.name, Executable: executable, Available: ok})
	}
	return out
}

// Select returns the preferred backend, or the first available one in
// priority order when preferred is empty. paths maps backend names to
// configured executables.
func (r *Registry) Select(preferred string, paths map[string]string, opts Options) (Backend, errorsx.Error) {
	opts = opts.withDefaults()

	candidates := r.registrations
	if preferred != "" {
		candidates = nil
		for _, reg := range r.registrations {
			if reg.name == preferred {
				candidates = []registration{reg}
			}
		}
		if candidates == nil {
			return nil, errorsx.Wrap(&NoBackendError{Tried: []string{preferred}})
		}
	}

	var tried []string
	for _, reg := range candidates {
		tried = append(tried, reg.name)
		executable, ok := r.resolve(reg, paths)
		if !ok {
			continue
		}
		return reg.factory(executable, opts), nil
	}

	return nil, errorsx.Wrap(&NoBackendError{Tried: tried})
}

func (r *Registry) resolve(reg registration, paths map[string]string) (string, bool) {
	lookPath := r.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	if configured := paths[reg.name]; configured != "" {
		executable, err := lookPath(configured)
		if err != nil {
			return configured, false
		}
		return executable, true
	}

	for _, name := range reg.executables {
		if executable, err := lookPath(name); err == nil {
			return executable, true
		}
	}

	return "", false
}
