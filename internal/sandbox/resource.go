package sandbox

import (
	"context"
	"sort"
	"strings"

	"courier/internal/kvstore"
	"courier/pkg/errors"
)

// Resource is a named capability exposed to sandboxed code. One
// instance serves every session handled by the worker; per-session
// state must live in an external store namespaced by sandbox id.
type Resource interface {
	// Name returns the configured resource name.
	Name() string

	// Setup prepares the resource at application startup.
	Setup(ctx context.Context) error

	// Teardown releases the resource at application shutdown.
	Teardown(ctx context.Context) error

	// SandboxInit runs at session start, before the triggering
	// message is injected. Resources may push initialization
	// commands into the sandbox here.
	SandboxInit(ctx context.Context, api *API) error

	// Dispatch handles one command whose verb has already had the
	// resource prefix stripped. It returns a reply command, or nil
	// when no reply is warranted.
	Dispatch(ctx context.Context, api *API, cmd *Command) (*Command, error)
}

// HandlerFunc handles a single resource verb.
type HandlerFunc func(ctx context.Context, api *API, cmd *Command) (*Command, error)

// BaseResource provides name storage and verb-table dispatch for
// embedding in concrete resources. The verb table is built once at
// construction.
type BaseResource struct {
	name     string
	config   map[string]interface{}
	handlers map[string]HandlerFunc
}

// NewBaseResource creates a BaseResource with an empty verb table.
func NewBaseResource(name string, config map[string]interface{}) BaseResource {
	return BaseResource{
		name:     name,
		config:   config,
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a verb handler.
func (r *BaseResource) Register(verb string, h HandlerFunc) {
	r.handlers[verb] = h
}

// Config returns the resource's config block.
func (r *BaseResource) Config() map[string]interface{} { return r.config }

func (r *BaseResource) Name() string { return r.name }

func (r *BaseResource) Setup(ctx context.Context) error { return nil }

func (r *BaseResource) Teardown(ctx context.Context) error { return nil }

func (r *BaseResource) SandboxInit(ctx context.Context, api *API) error { return nil }

// Dispatch routes by verb. An unregistered verb is a protocol
// violation, reported via an UnknownCommand error.
func (r *BaseResource) Dispatch(ctx context.Context, api *API, cmd *Command) (*Command, error) {
	h, ok := r.handlers[cmd.Cmd]
	if !ok {
		return nil, errors.Newf(errors.UnknownCommand,
			"resource %q has no handler for %q", r.name, cmd.Cmd)
	}
	return h(ctx, api, cmd)
}

// SuccessReply builds a reply with success=true plus extra fields.
func SuccessReply(cmd *Command, fields map[string]interface{}) *Command {
	reply := NewReply(cmd, fields)
	reply.Set("success", true)
	return reply
}

// FailureReply builds a reply with success=false and a reason.
func FailureReply(cmd *Command, reason string) *Command {
	return NewReply(cmd, map[string]interface{}{
		"success": false,
		"reason":  reason,
	})
}

// ResourceEnv carries the external collaborators resource factories
// may need.
type ResourceEnv struct {
	Store kvstore.Store
}

// ResourceFactory builds a resource from its configured name and
// config block.
type ResourceFactory func(name string, config map[string]interface{}, env ResourceEnv) (Resource, error)

// ResourceRegistry maps resource kind identifiers (the "cls" field in
// configuration) to factories.
type ResourceRegistry struct {
	factories map[string]ResourceFactory
}

// NewResourceRegistry creates a registry preloaded with the built-in
// kinds.
func NewResourceRegistry() *ResourceRegistry {
	r := &ResourceRegistry{factories: make(map[string]ResourceFactory)}
	r.Register("kv", newKVResource)
	r.Register("outbound", newOutboundResource)
	r.Register("log", newLoggingResource)
	r.Register("http", newHTTPResource)
	r.Register("js", newJSResource)
	return r
}

// Register adds a factory for the given kind, replacing any existing
// one.
func (r *ResourceRegistry) Register(kind string, factory ResourceFactory) {
	r.factories[kind] = factory
}

// Build constructs the resource set from configuration. Each entry
// maps a resource name to a config block whose "cls" field selects the
// factory. Resources are built in sorted name order so setup and
// sandbox-init hooks run in a stable sequence. Names containing the
// command separator are rejected since reply routing could not
// reconstruct them.
func (r *ResourceRegistry) Build(specs map[string]map[string]interface{}, env ResourceEnv) (*Resources, error) {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	rs := &Resources{byName: make(map[string]Resource, len(specs))}
	for _, name := range names {
		spec := specs[name]
		if name == "" {
			return nil, errors.New(errors.ResourceNameInvalid).
				WithMessage("resource name must not be empty")
		}
		if strings.Contains(name, ".") {
			return nil, errors.Newf(errors.ResourceNameInvalid,
				"resource name %q must not contain %q", name, ".")
		}
		cls, _ := spec["cls"].(string)
		if cls == "" {
			return nil, errors.Newf(errors.ResourceConfig,
				"resource %q missing cls", name)
		}
		factory, ok := r.factories[cls]
		if !ok {
			return nil, errors.Newf(errors.ResourceConfig,
				"resource %q has unknown cls %q", name, cls)
		}
		config := make(map[string]interface{}, len(spec))
		for k, v := range spec {
			if k != "cls" {
				config[k] = v
			}
		}
		res, err := factory(name, config, env)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ResourceConfig,
				"building resource %q: %v", name, err)
		}
		rs.byName[name] = res
		rs.order = append(rs.order, name)
	}
	return rs, nil
}

// Resources is the named resource set for one application.
type Resources struct {
	byName map[string]Resource
	order  []string
}

// Get returns the named resource, or nil.
func (rs *Resources) Get(name string) Resource {
	return rs.byName[name]
}

// Names returns resource names in sorted order.
func (rs *Resources) Names() []string {
	return rs.order
}

// Setup runs Setup on every resource; the first failure aborts.
func (rs *Resources) Setup(ctx context.Context) error {
	for _, name := range rs.order {
		if err := rs.byName[name].Setup(ctx); err != nil {
			return errors.Wrapf(err, errors.ResourceError,
				"resource %q setup failed: %v", name, err)
		}
	}
	return nil
}

// Teardown runs Teardown on every resource in reverse order,
// continuing past failures.
func (rs *Resources) Teardown(ctx context.Context) error {
	var firstErr error
	for i := len(rs.order) - 1; i >= 0; i-- {
		if err := rs.byName[rs.order[i]].Teardown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SandboxInit runs every resource's SandboxInit hook in order.
func (rs *Resources) SandboxInit(ctx context.Context, api *API) error {
	for _, name := range rs.order {
		if err := rs.byName[name].SandboxInit(ctx, api); err != nil {
			return errors.Wrapf(err, errors.ResourceError,
				"resource %q sandbox init failed: %v", name, err)
		}
	}
	return nil
}
