package command

import (
	"context"

	"courier/internal/broker"
	httpclient "courier/internal/cli/http"
	"courier/internal/cli/state"
	"courier/internal/kvstore"
)

// Env carries the collaborators commands run against.
type Env struct {
	Broker     broker.Broker
	Store      kvstore.Store
	Status     *httpclient.Client
	State      *state.SessionState
	StatePath  string
	PrettyJSON bool

	// Print writes one formatted line to the REPL output.
	Print func(format string, args ...interface{})
}

// Command is one REPL verb.
type Command struct {
	Name  string
	Usage string
	Help  string
	Run   func(ctx context.Context, env *Env, args []string) error
}
