package deployment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrMalformedEvent marks a message missing a required field or carrying a field of the wrong type.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownEvent marks a well-formed message whose type is not recognised.
	ErrUnknownEvent = errors.New("unknown event kind")
)

// NormalizeJSON decodes a raw transport frame and normalizes it.
func NormalizeJSON(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var msg map[string]any
	if err := dec.Decode(&msg); err != nil {
		return Envelope{}, fmt.Errorf("%w: decode: %v", ErrMalformedEvent, err)
	}
	return Normalize(msg)
}

// Normalize validates a decoded message and converts it into a typed Envelope.
// It never panics; every rejection is an error wrapping ErrMalformedEvent or ErrUnknownEvent.
func Normalize(msg map[string]any) (Envelope, error) {
	if msg == nil {
		return Envelope{}, fmt.Errorf("%w: empty message", ErrMalformedEvent)
	}
	rawType, _ := msg["type"].(string)
	rawType = strings.TrimSpace(rawType)
	env := Envelope{Type: rawType}
	if rawType == "" {
		return env, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	if raw, present := msg["deployment_id"]; present && raw != nil {
		id, ok := CanonicalID(raw)
		if !ok {
			if s, isString := raw.(string); !isString || strings.TrimSpace(s) != "" {
				return env, fmt.Errorf("%w: %s: deployment_id must be a string or number", ErrMalformedEvent, rawType)
			}
		} else {
			env.DeploymentID = id
			env.HasDeploymentID = true
		}
	}
	env.UserID, _ = msg["user_id"].(string)
	env.Timestamp = timeField(msg, "timestamp")

	data, _ := msg["data"].(map[string]any)

	switch Kind(rawType) {
	case KindConnectionEstablished:
		env.Event = ConnectionEstablished{}
	case KindPong:
		env.Event = Pong{}
	case KindDeploymentStarted:
		env.Event = DeploymentStarted{StartedAt: timeField(msg, "started_at")}
	case KindStageStarted:
		stage, err := requireStage(msg, rawType)
		if err != nil {
			return env, err
		}
		env.Event = StageStarted{
			Stage:     stage,
			Message:   messageField(msg, data),
			StartedAt: timeField(msg, "started_at"),
		}
	case KindStageProgress:
		stage, err := requireStage(msg, rawType)
		if err != nil {
			return env, err
		}
		progress, ok := toNumber(msg["progress"])
		if !ok {
			return env, fmt.Errorf("%w: %s: progress must be numeric", ErrMalformedEvent, rawType)
		}
		ev := StageProgress{
			Stage:       stage,
			Progress:    clampProgress(progress),
			ElapsedTime: numberChain(msg, data, "elapsed_time"),
		}
		if m, present := optionalMessage(msg, data); present {
			ev.Message = &m
		}
		env.Event = ev
	case KindStageCompleted:
		stage, err := requireStage(msg, rawType)
		if err != nil {
			return env, err
		}
		rawStatus, _ := msg["status"].(string)
		status := parseStageStatus(rawStatus)
		if status == StageUnresolved {
			return env, fmt.Errorf("%w: %s: status must be success or failed", ErrMalformedEvent, rawType)
		}
		env.Event = StageCompleted{
			Stage:       stage,
			Status:      status,
			Duration:    numberChain(msg, data, "duration"),
			CompletedAt: timeField(msg, "completed_at"),
			Message:     messageField(msg, data),
		}
	case KindDeploymentCompleted:
		rawStatus, _ := msg["status"].(string)
		status := ParseStatus(rawStatus)
		if !status.Terminal() {
			return env, fmt.Errorf("%w: %s: status must be success, failed or cancelled", ErrMalformedEvent, rawType)
		}
		ev := DeploymentCompleted{
			Status:        status,
			TotalDuration: numberChain(msg, data, "total_duration", "duration"),
			CompletedAt:   timeField(msg, "completed_at"),
			Message:       messageField(msg, data),
		}
		if raw, _ := msg["stage"].(string); raw != "" {
			if stage, ok := ParseStageKey(raw); ok {
				ev.Stage = stage
			}
		}
		env.Event = ev
	default:
		return env, fmt.Errorf("%w: %q", ErrUnknownEvent, rawType)
	}
	return env, nil
}

func requireStage(msg map[string]any, kind string) (StageKey, error) {
	raw, ok := msg["stage"].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: %s: missing stage", ErrMalformedEvent, kind)
	}
	stage, known := ParseStageKey(raw)
	if !known {
		return "", fmt.Errorf("%w: %s: unknown stage %q", ErrMalformedEvent, kind, raw)
	}
	return stage, nil
}

// numberChain resolves the first numeric value among keys, checking the top level
// before data.* for each key. This is the single fallback chain for durations.
func numberChain(msg, data map[string]any, keys ...string) *float64 {
	for _, key := range keys {
		if v, ok := toNumber(msg[key]); ok {
			return &v
		}
		if data != nil {
			if v, ok := toNumber(data[key]); ok {
				return &v
			}
		}
	}
	return nil
}

func optionalMessage(msg, data map[string]any) (string, bool) {
	if m, ok := msg["message"].(string); ok {
		return m, true
	}
	if data != nil {
		if m, ok := data["message"].(string); ok {
			return m, true
		}
	}
	return "", false
}

func messageField(msg, data map[string]any) string {
	m, _ := optionalMessage(msg, data)
	return m
}

func timeField(msg map[string]any, key string) *time.Time {
	raw, ok := msg[key].(string)
	if !ok {
		return nil
	}
	return parseOptionalTimestamp(raw)
}

// toNumber accepts JSON numbers in any decoded form. Strings are not numbers.
func toNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func clampProgress(p float64) int {
	rounded := int(math.Round(p))
	switch {
	case rounded < 0:
		return 0
	case rounded > 100:
		return 100
	default:
		return rounded
	}
}
