package llmclient

import (
	"fmt"
	"strconv"
	"strings"
)

const legacyReason = "Auto-converted from legacy action format."

var requiredKeys = []string{"summary", "actions", "stop", "confidence"}

// Normalize converts a legacy-shaped reply into the strict schema. A reply
// that already has every required key is returned untouched.
func Normalize(data map[string]any) (map[string]any, error) {
	if data == nil {
		return nil, schemaErrorf("LLM response must be a JSON object.")
	}
	complete := true
	for _, k := range requiredKeys {
		if _, ok := data[k]; !ok {
			complete = false
			break
		}
	}
	if complete {
		return data, nil
	}

	rawActions, present := data["actions"]
	if (!present || rawActions == nil) && data["action"] != nil {
		rawActions = []any{data}
	}
	list, ok := rawActions.([]any)
	if !ok {
		return nil, schemaErrorf("LLM response missing actions list.")
	}

	actions := make([]any, 0, len(list))
	for _, item := range list {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		a, err := normalizeAction(raw)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}

	summary, _ := data["summary"].(string)
	if summary == "" {
		summary = "Auto-normalized response."
	}
	confidence := 0.5
	if v, ok := data["confidence"]; ok {
		f, err := toFloat(v)
		if err != nil {
			return nil, schemaErrorf("confidence: %v", err)
		}
		confidence = f
	}
	return map[string]any{
		"summary":    summary,
		"actions":    actions,
		"stop":       truthy(data["stop"]),
		"confidence": confidence,
	}, nil
}

func normalizeAction(raw map[string]any) (map[string]any, error) {
	typ := firstString(raw["type"], raw["action"])
	params, _ := firstNonEmpty(raw["params"], raw["parameters"]).(map[string]any)
	if params == nil {
		params = map[string]any{}
	}
	reason := firstString(raw["reason"], raw["justification"])
	if reason == "" {
		reason = legacyReason
	}
	out := map[string]any{"type": typ, "target": "", "reason": reason}

	switch typ {
	case "set_slider":
		target := firstNonEmpty(params["slider"], raw["target"])
		if target == nil {
			out["target"] = "unknown"
		} else {
			out["target"] = fmt.Sprint(target)
		}
		v := params["value"]
		if v == nil {
			v = raw["value"]
		}
		if v != nil {
			f, err := toFloat(v)
			if err != nil {
				return nil, schemaErrorf("set_slider value: %v", err)
			}
			out["value"] = f
		}
	case "drag":
		out["target"] = stringOr(raw["target"], "canvas")
		start, _ := params["start"].(map[string]any)
		end, _ := params["end"].(map[string]any)
		for _, axis := range []string{"x", "y"} {
			s, okS := start[axis]
			e, okE := end[axis]
			if !okS || !okE {
				continue
			}
			sf, err1 := toFloat(s)
			ef, err2 := toFloat(e)
			if err1 != nil || err2 != nil {
				return nil, schemaErrorf("drag %s coordinates must be numbers", axis)
			}
			out["d"+axis] = ef - sf
		}
		for _, k := range []string{"dx", "dy"} {
			if v, ok := params[k]; ok {
				f, err := toFloat(v)
				if err != nil {
					return nil, schemaErrorf("drag %s: %v", k, err)
				}
				out[k] = f
			}
		}
	case "keypress":
		out["target"] = stringOr(raw["target"], "keyboard")
		keys := firstNonEmpty(params["keys"], raw["keys"])
		if list, ok := keys.([]any); ok {
			strs := make([]any, len(list))
			for i, k := range list {
				strs[i] = fmt.Sprint(k)
			}
			out["keys"] = strs
		}
	default:
		out["target"] = stringOr(raw["target"], "unknown")
	}

	if typ == "" {
		return nil, schemaErrorf("Action type missing in LLM response.")
	}
	return out, nil
}

// Validate checks data against the strict action schema.
func Validate(data map[string]any) error {
	for _, k := range requiredKeys {
		if _, ok := data[k]; !ok {
			return schemaErrorf("'%s' is a required property", k)
		}
	}
	if _, ok := data["summary"].(string); !ok {
		return schemaErrorf("summary must be a string")
	}
	if _, ok := data["stop"].(bool); !ok {
		return schemaErrorf("stop must be a boolean")
	}
	c, ok := data["confidence"].(float64)
	if !ok {
		return schemaErrorf("confidence must be a number")
	}
	if c < 0 || c > 1 {
		return schemaErrorf("confidence %v is outside [0, 1]", c)
	}
	actions, ok := data["actions"].([]any)
	if !ok {
		return schemaErrorf("actions must be an array")
	}
	for i, item := range actions {
		a, ok := item.(map[string]any)
		if !ok {
			return schemaErrorf("actions[%d] must be an object", i)
		}
		for _, k := range []string{"type", "target", "reason"} {
			v, present := a[k]
			if !present {
				return schemaErrorf("actions[%d]: '%s' is a required property", i, k)
			}
			if _, ok := v.(string); !ok {
				return schemaErrorf("actions[%d].%s must be a string", i, k)
			}
		}
		for _, k := range []string{"dx", "dy", "value"} {
			if v, present := a[k]; present {
				if _, ok := v.(float64); !ok {
					return schemaErrorf("actions[%d].%s must be a number", i, k)
				}
			}
		}
		if v, present := a["keys"]; present {
			keys, ok := v.([]any)
			if !ok {
				return schemaErrorf("actions[%d].keys must be an array", i)
			}
			for j, k := range keys {
				if _, ok := k.(string); !ok {
					return schemaErrorf("actions[%d].keys[%d] must be a string", i, j)
				}
			}
		}
	}
	return nil
}

func firstNonEmpty(vals ...any) any {
	for _, v := range vals {
		if !isEmpty(v) {
			return v
		}
	}
	return nil
}

func firstString(vals ...any) string {
	s, _ := firstNonEmpty(vals...).(string)
	return s
}

func stringOr(v any, fallback string) string {
	if isEmpty(v) {
		return fallback
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// isEmpty mirrors the falsy values a legacy reply may carry.
func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case float64:
		return t == 0
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func truthy(v any) bool { return !isEmpty(v) }

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("could not convert %q to float", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("could not convert %T to float", v)
}
