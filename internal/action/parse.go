package action

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// knownFields are the payload keys Parse understands. Everything else is
// dropped and reported back to the caller.
var knownFields = map[string]struct{}{
	"type":   {},
	"target": {},
	"dx":     {},
	"dy":     {},
	"value":  {},
	"keys":   {},
	"reason": {},
}

// Parse converts a raw model payload into an Action. It is total: every input
// yields either an Action or an E003 *Error. The second return value lists
// fields that were present but not recognized, sorted.
func Parse(raw map[string]any) (Action, []string, error) {
	if raw == nil {
		return nil, nil, Malformed(fmt.Errorf("payload is empty"))
	}

	var dropped []string
	for k := range raw {
		if _, ok := knownFields[k]; !ok {
			dropped = append(dropped, k)
		}
	}
	sort.Strings(dropped)

	typ, err := optionalString(raw, "type")
	if err != nil {
		return nil, dropped, Malformed(err)
	}
	typ = strings.TrimSpace(typ)
	if typ == "" {
		return nil, dropped, Malformed(fmt.Errorf("field \"type\" is required"))
	}
	target, err := optionalString(raw, "target")
	if err != nil {
		return nil, dropped, Malformed(err)
	}
	reason, err := optionalString(raw, "reason")
	if err != nil {
		return nil, dropped, Malformed(err)
	}

	switch Type(typ) {
	case TypeDrag:
		dx, _, err := optionalNumber(raw, "dx")
		if err != nil {
			return nil, dropped, Malformed(err)
		}
		dy, _, err := optionalNumber(raw, "dy")
		if err != nil {
			return nil, dropped, Malformed(err)
		}
		return Drag{Target: target, DX: dx, DY: dy, Reason: reason}, dropped, nil

	case TypeSetSlider:
		v, ok, err := optionalNumber(raw, "value")
		if err != nil {
			return nil, dropped, Malformed(err)
		}
		if !ok {
			return nil, dropped, Malformed(fmt.Errorf("set_slider requires a numeric \"value\""))
		}
		return SetSlider{Target: target, Value: v, Reason: reason}, dropped, nil

	case TypeKeypress:
		keys, err := optionalKeys(raw["keys"])
		if err != nil {
			return nil, dropped, Malformed(err)
		}
		return Keypress{Target: target, Keys: keys, Reason: reason}, dropped, nil

	default:
		return Unsupported{TypeName: typ, Target: target, Reason: reason}, dropped, nil
	}
}

// MustParse is Parse for fixtures; it panics on error.
func MustParse(raw map[string]any) Action {
	a, _, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return a
}

func optionalString(raw map[string]any, key string) (string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q must be a string, got %T", key, v)
	}
	return s, nil
}

func optionalNumber(raw map[string]any, key string) (float64, bool, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	f, err := ToFloat(v)
	if err != nil {
		return 0, false, fmt.Errorf("field %q: %w", key, err)
	}
	return f, true, nil
}

// ToFloat accepts JSON numbers in any of the shapes decoders produce, as well
// as numeric strings. Booleans, NaN and infinities are rejected.
func ToFloat(v any) (float64, error) {
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
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n.String())
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return f, nil
}

func optionalKeys(v any) ([]string, error) {
	switch k := v.(type) {
	case nil:
		return nil, nil
	case string:
		var keys []string
		for _, part := range strings.Split(k, "+") {
			if p := strings.TrimSpace(part); p != "" {
				keys = append(keys, p)
			}
		}
		return keys, nil
	case []string:
		return append([]string(nil), k...), nil
	case []any:
		keys := make([]string, 0, len(k))
		for i, item := range k {
			switch s := item.(type) {
			case string:
				keys = append(keys, s)
			case float64, int, int64, json.Number:
				keys = append(keys, fmt.Sprint(s))
			default:
				return nil, fmt.Errorf("keys[%d] must be a string, got %T", i, item)
			}
		}
		return keys, nil
	default:
		return nil, fmt.Errorf("field \"keys\" must be a list of strings, got %T", v)
	}
}
