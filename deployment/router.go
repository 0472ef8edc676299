package deployment

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// CanonicalID renders a deployment identity as a string so that the number 42,
// the float 42.0 and the string "42" compare equal. Empty and non-scalar values
// report false.
//
// Integers beyond 2^53 only survive as strings, json.Number or integer types; a
// float64 id, which is what a generic JSON decode yields, is already rounded.
func CanonicalID(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		s := strings.TrimSpace(id)
		return s, s != ""
	case json.Number:
		if i, err := id.Int64(); err == nil {
			return strconv.FormatInt(i, 10), true
		}
		if s, ok := integerLiteral(string(id)); ok {
			return s, true
		}
		f, err := id.Float64()
		if err != nil {
			return "", false
		}
		return canonicalFloat(f)
	case float64:
		return canonicalFloat(id)
	case float32:
		return canonicalFloat(float64(id))
	case int:
		return strconv.Itoa(id), true
	case int32:
		return strconv.FormatInt(int64(id), 10), true
	case int64:
		return strconv.FormatInt(id, 10), true
	case uint:
		return strconv.FormatUint(uint64(id), 10), true
	case uint32:
		return strconv.FormatUint(uint64(id), 10), true
	case uint64:
		return strconv.FormatUint(id, 10), true
	default:
		return "", false
	}
}

// integerLiteral normalizes a decimal integer too large for int64.
func integerLiteral(s string) (string, bool) {
	neg := strings.HasPrefix(s, "-")
	digits := strings.TrimPrefix(s, "-")
	if digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
		return "", false
	}
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return "0", true
	}
	if neg {
		return "-" + digits, true
	}
	return digits, true
}

func canonicalFloat(f float64) (string, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}

// Router decides whether an envelope belongs to the locally tracked deployment.
type Router struct {
	local string
}

func NewRouter(localID string) Router {
	id, _ := CanonicalID(localID)
	return Router{local: id}
}

// Local returns the canonical id the router filters on.
func (r Router) Local() string {
	return r.local
}

// Accept forwards envelopes without an identity unconditionally, trusting the
// transport subscription, and otherwise requires an exact canonical match.
func (r Router) Accept(env Envelope) bool {
	if !env.HasDeploymentID {
		return true
	}
	return env.DeploymentID == r.local
}
