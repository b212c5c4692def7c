package sandbox

import (
	"context"
	"os"

	"courier/pkg/errors"
)

// AppContexter is implemented by applications that provide extra
// context data to script sandboxes at initialization.
type AppContexter interface {
	AppContext() string
}

// jsResource pushes application source code into a script-interpreter
// sandbox before any messages arrive. It exposes no verbs to the
// child.
type jsResource struct {
	BaseResource
	javascript string
	appContext AppContexter
}

func newJSResource(name string, config map[string]interface{}, env ResourceEnv) (Resource, error) {
	r := &jsResource{BaseResource: NewBaseResource(name, config)}
	if src, ok := config["javascript"].(string); ok {
		r.javascript = src
	}
	if file, ok := config["javascript_file"].(string); ok && r.javascript == "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ResourceConfig,
				"reading javascript_file %q: %v", file, err)
		}
		r.javascript = string(data)
	}
	if r.javascript == "" {
		return nil, errors.Newf(errors.ResourceConfig,
			"js resource %q needs javascript or javascript_file", name)
	}
	return r, nil
}

// SetAppContext installs the application's context hook.
func (r *jsResource) SetAppContext(app AppContexter) {
	r.appContext = app
}

func (r *jsResource) SandboxInit(ctx context.Context, api *API) error {
	fields := map[string]interface{}{"javascript": r.javascript}
	if r.appContext != nil {
		if c := r.appContext.AppContext(); c != "" {
			fields["app_context"] = c
		}
	}
	return api.SendCommand(NewCommand("initialize", fields))
}
