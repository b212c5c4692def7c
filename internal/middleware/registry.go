package middleware

import (
	"context"

	"courier/pkg/errors"
)

// Factory builds a middleware instance from its configured name and
// free-form config block.
type Factory func(name string, config map[string]interface{}) (Middleware, error)

// Registry maps middleware kind names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a registry preloaded with the built-in kinds.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("logging", newLoggingMiddleware)
	return r
}

// Register adds a factory for the given kind, replacing any existing one.
func (r *Registry) Register(kind string, factory Factory) {
	r.factories[kind] = factory
}

// Spec describes one configured middleware instance.
type Spec struct {
	Name   string                 `yaml:"name" json:"name"`
	Kind   string                 `yaml:"kind" json:"kind"`
	Config map[string]interface{} `yaml:"config" json:"config"`
}

// Build constructs a Stack from ordered middleware specs and runs
// Setup on it.
func (r *Registry) Build(ctx context.Context, specs []Spec) (*Stack, error) {
	middlewares := make([]Middleware, 0, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, errors.New(errors.MiddlewareConfig).
				WithMessage("middleware spec missing name")
		}
		factory, ok := r.factories[spec.Kind]
		if !ok {
			return nil, errors.Newf(errors.MiddlewareConfig,
				"unknown middleware kind %q for %q", spec.Kind, spec.Name)
		}
		m, err := factory(spec.Name, spec.Config)
		if err != nil {
			return nil, errors.Wrapf(err, errors.MiddlewareConfig,
				"building middleware %q: %v", spec.Name, err)
		}
		middlewares = append(middlewares, m)
	}

	stack := NewStack(middlewares...)
	if err := stack.Setup(ctx); err != nil {
		return nil, err
	}
	return stack, nil
}
