package sandbox

import (
	"context"
	"encoding/json"
	"fmt"

	"courier/internal/kvstore"
	"courier/pkg/errors"
)

// encodeValue stores arbitrary JSON values as their encoded text.
func encodeValue(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeValue reverses encodeValue. Missing keys decode to nil; values
// written by incr are bare integers and decode as numbers.
func decodeValue(raw string) (interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw, nil
	}
	return v, nil
}

// DefaultKeysPerSession caps distinct keys per sandbox session.
const DefaultKeysPerSession = 100

// kvResource gives sandboxed code a per-session key-value namespace
// with a distinct-key quota. Keys live in the shared store under
// "sandboxes#<sandbox_id>#<key>" with the session's key count tracked
// at "count#<sandbox_id>".
type kvResource struct {
	BaseResource
	store    kvstore.Store
	keyQuota int64
}

func newKVResource(name string, config map[string]interface{}, env ResourceEnv) (Resource, error) {
	if env.Store == nil {
		return nil, errors.Newf(errors.ResourceConfig,
			"kv resource %q requires a key-value store", name)
	}
	quota := int64(DefaultKeysPerSession)
	if v, ok := config["keys_per_session"].(int); ok {
		quota = int64(v)
	} else if v, ok := config["keys_per_session"].(float64); ok {
		quota = int64(v)
	}

	r := &kvResource{
		BaseResource: NewBaseResource(name, config),
		store:        env.Store,
		keyQuota:     quota,
	}
	r.Register("set", r.handleSet)
	r.Register("get", r.handleGet)
	r.Register("delete", r.handleDelete)
	r.Register("incr", r.handleIncr)
	return r, nil
}

func (r *kvResource) dataKey(api *API, key string) string {
	return fmt.Sprintf("sandboxes#%s#%s", api.SandboxID(), key)
}

func (r *kvResource) countKey(api *API) string {
	return fmt.Sprintf("count#%s", api.SandboxID())
}

// reserveKey counts a new key against the session quota. Existing keys
// cost nothing. On quota breach the tentative count is rolled back and
// false is returned, leaving state unchanged.
func (r *kvResource) reserveKey(ctx context.Context, api *API, key string) (bool, error) {
	exists, err := r.store.Exists(ctx, r.dataKey(api, key))
	if err != nil {
		return false, err
	}
	if exists > 0 {
		return true, nil
	}
	count, err := r.store.IncrBy(ctx, r.countKey(api), 1)
	if err != nil {
		return false, err
	}
	if count > r.keyQuota {
		_, _ = r.store.IncrBy(ctx, r.countKey(api), -1)
		return false, nil
	}
	return true, nil
}

func (r *kvResource) handleSet(ctx context.Context, api *API, cmd *Command) (*Command, error) {
	key := cmd.String("key")
	if key == "" {
		return FailureReply(cmd, "No key given"), nil
	}
	ok, err := r.reserveKey(ctx, api, key)
	if err != nil {
		return FailureReply(cmd, err.Error()), nil
	}
	if !ok {
		return FailureReply(cmd, "Too many keys"), nil
	}
	value, err := encodeValue(cmd.Extra["value"])
	if err != nil {
		return FailureReply(cmd, err.Error()), nil
	}
	if err := r.store.Set(ctx, r.dataKey(api, key), value, 0); err != nil {
		return FailureReply(cmd, err.Error()), nil
	}
	return SuccessReply(cmd, nil), nil
}

func (r *kvResource) handleGet(ctx context.Context, api *API, cmd *Command) (*Command, error) {
	key := cmd.String("key")
	if key == "" {
		return FailureReply(cmd, "No key given"), nil
	}
	raw, err := r.store.Get(ctx, r.dataKey(api, key))
	if err != nil {
		return FailureReply(cmd, err.Error()), nil
	}
	value, err := decodeValue(raw)
	if err != nil {
		return FailureReply(cmd, err.Error()), nil
	}
	return SuccessReply(cmd, map[string]interface{}{"value": value}), nil
}

func (r *kvResource) handleDelete(ctx context.Context, api *API, cmd *Command) (*Command, error) {
	key := cmd.String("key")
	if key == "" {
		return FailureReply(cmd, "No key given"), nil
	}
	removed, err := r.store.Del(ctx, r.dataKey(api, key))
	if err != nil {
		return FailureReply(cmd, err.Error()), nil
	}
	if removed > 0 {
		if _, err := r.store.IncrBy(ctx, r.countKey(api), -1); err != nil {
			return FailureReply(cmd, err.Error()), nil
		}
	}
	return SuccessReply(cmd, map[string]interface{}{"existed": removed > 0}), nil
}

// handleIncr treats the stored value as an integer counter. A new key
// counts once against the quota; repeat increments cost nothing. A
// non-numeric existing value is a handler failure, not a protocol
// violation.
func (r *kvResource) handleIncr(ctx context.Context, api *API, cmd *Command) (*Command, error) {
	key := cmd.String("key")
	if key == "" {
		return FailureReply(cmd, "No key given"), nil
	}
	amount := int64(1)
	if f, ok := cmd.Float("amount"); ok {
		amount = int64(f)
	}
	ok, err := r.reserveKey(ctx, api, key)
	if err != nil {
		return FailureReply(cmd, err.Error()), nil
	}
	if !ok {
		return FailureReply(cmd, "Too many keys"), nil
	}
	value, err := r.store.IncrBy(ctx, r.dataKey(api, key), amount)
	if err != nil {
		return FailureReply(cmd, "Value cannot be incremented"), nil
	}
	return SuccessReply(cmd, map[string]interface{}{"value": value}), nil
}
