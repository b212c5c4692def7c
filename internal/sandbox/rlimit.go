package sandbox

import (
	"encoding/json"
	"strconv"

	"courier/pkg/errors"
)

// RlimitsEnvVar carries the JSON-encoded limit map into the helper
// process, which consumes and removes it before exec.
const RlimitsEnvVar = "_SANDBOX_RLIMITS_"

// Numeric resource-limit identifiers, matching the Linux values.
const (
	RlimitCPU     = 0
	RlimitFsize   = 1
	RlimitData    = 2
	RlimitStack   = 3
	RlimitCore    = 4
	RlimitRSS     = 5
	RlimitNproc   = 6
	RlimitNofile  = 7
	RlimitMemlock = 8
	RlimitAS      = 9
)

// rlimitNames maps the symbolic names accepted in configuration to
// numeric identifiers.
var rlimitNames = map[string]int{
	"cpu":     RlimitCPU,
	"fsize":   RlimitFsize,
	"data":    RlimitData,
	"stack":   RlimitStack,
	"core":    RlimitCore,
	"rss":     RlimitRSS,
	"nproc":   RlimitNproc,
	"nofile":  RlimitNofile,
	"memlock": RlimitMemlock,
	"as":      RlimitAS,
}

// Rlimits maps numeric limit identifiers to [soft, hard] pairs.
type Rlimits map[int][2]uint64

// DefaultRlimits returns the stock limits applied to sandboxed
// processes when a deployment does not override them.
func DefaultRlimits() Rlimits {
	const mb = 1024 * 1024
	return Rlimits{
		RlimitCore:    {1 * mb, 1 * mb},
		RlimitCPU:     {60, 60},
		RlimitFsize:   {1 * mb, 1 * mb},
		RlimitData:    {32 * mb, 32 * mb},
		RlimitStack:   {1 * mb, 1 * mb},
		RlimitRSS:     {10 * mb, 10 * mb},
		RlimitNofile:  {10, 10},
		RlimitMemlock: {64 * 1024, 64 * 1024},
		RlimitAS:      {196 * mb, 196 * mb},
	}
}

// ResolveRlimits merges configured overrides into the defaults. Keys
// may be symbolic names or numeric identifiers; values are [soft, hard]
// pairs.
func ResolveRlimits(overrides map[string][]uint64) (Rlimits, error) {
	limits := DefaultRlimits()
	for name, pair := range overrides {
		id, ok := rlimitNames[name]
		if !ok {
			n, err := strconv.Atoi(name)
			if err != nil {
				return nil, errors.Newf(errors.RlimitInvalid, "unknown resource limit %q", name)
			}
			id = n
		}
		if len(pair) != 2 {
			return nil, errors.Newf(errors.RlimitInvalid,
				"resource limit %q needs a [soft, hard] pair", name)
		}
		if pair[0] > pair[1] {
			return nil, errors.Newf(errors.RlimitInvalid,
				"resource limit %q soft value exceeds hard value", name)
		}
		limits[id] = [2]uint64{pair[0], pair[1]}
	}
	return limits, nil
}

// EncodeEnv serializes the limits for the helper's environment channel,
// keyed by decimal identifier.
func (r Rlimits) EncodeEnv() (string, error) {
	obj := make(map[string][2]uint64, len(r))
	for id, pair := range r {
		obj[strconv.Itoa(id)] = pair
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return "", errors.Wrap(err, errors.RlimitInvalid)
	}
	return string(data), nil
}

// DecodeRlimitsEnv parses the helper-side environment value.
func DecodeRlimitsEnv(value string) (Rlimits, error) {
	var obj map[string][2]uint64
	if err := json.Unmarshal([]byte(value), &obj); err != nil {
		return nil, errors.Wrap(err, errors.RlimitInvalid)
	}
	limits := make(Rlimits, len(obj))
	for key, pair := range obj {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, errors.Newf(errors.RlimitInvalid, "bad resource limit id %q", key)
		}
		limits[id] = pair
	}
	return limits, nil
}
