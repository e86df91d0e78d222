package llmclient

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/resolve-agent/internal/action"
	"github.com/xkilldash9x/resolve-agent/internal/calibration"
	"github.com/xkilldash9x/resolve-agent/internal/vision"
)

const (
	strictHint          = "Return STRICT JSON only."
	defaultInstructions = "Follow standard color matching rules."
)

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type controlInfo struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Description  string   `json:"description"`
	Min          *float64 `json:"min"`
	Max          *float64 `json:"max"`
	DefaultValue *float64 `json:"defaultValue"`
}

type userPayload struct {
	Metrics          vision.Metrics     `json:"metrics"`
	AllowedActions   []action.Type      `json:"allowed_actions"`
	UserInstructions *string            `json:"user_instructions"`
	CurrentState     map[string]float64 `json:"current_state"`
	Controls         []controlInfo      `json:"controls"`
}

func controlsOf(p *calibration.Profile) []controlInfo {
	if p == nil {
		return []controlInfo{}
	}
	out := make([]controlInfo, 0, len(p.ControlMetadata))
	for _, name := range p.ControlNames() {
		m := p.ControlMetadata[name]
		out = append(out, controlInfo{
			Name:         name,
			Type:         m.Type,
			Description:  m.Description,
			Min:          m.Min,
			Max:          m.Max,
			DefaultValue: m.Default,
		})
	}
	return out
}

// systemPrompt lays out the reply schema, the coordinate conventions and
// every calibrated target with its valid range.
func systemPrompt(rc RequestContext, retryHint string) string {
	targetHint := "roi_center"
	if rc.Profile != nil && len(rc.Profile.Targets) > 0 {
		targetHint = strings.Join(rc.Profile.TargetNames(), ", ")
	}

	var details []string
	for _, c := range controlsOf(rc.Profile) {
		desc := c.Description
		if desc == "" {
			desc = c.Name
		}
		details = append(details, fmt.Sprintf("'%s' (%s: %s, Range: [%s, %s], Default: %s)",
			c.Name, c.Type, desc, numOrUnknown(c.Min), numOrUnknown(c.Max), numOrUnknown(c.DefaultValue)))
	}

	instructions := rc.Instructions
	if strings.TrimSpace(instructions) == "" {
		instructions = defaultInstructions
	}

	var b strings.Builder
	b.WriteString("You are controlling DaVinci Resolve color grading. ")
	b.WriteString("Return ONLY a JSON object that matches this schema exactly (no extra keys, no markdown): ")
	b.WriteString("{summary: string, actions: [{type: string, target: string, dx?: number, dy?: number, ")
	b.WriteString("value?: number, keys?: string[], reason: string}], stop: boolean, confidence: number}. ")
	b.WriteString("Rules: summary and reason must be short strings; confidence must be 0.0-1.0. ")
	b.WriteString("Coordinate system: origin is top-left of the screen; positive dx moves right, positive dy moves down. ")
	fmt.Fprintf(&b, "The 'target' field MUST be one of these calibration targets: %s. ", targetHint)
	fmt.Fprintf(&b, "Target Details & valid ranges: %s. ", strings.Join(details, "; "))
	b.WriteString("The 'current_state' shows the current values of the controllers in Resolve. ")
	b.WriteString("Use these values as a baseline for your adjustments. ")
	fmt.Fprintf(&b, "USER INSTRUCTIONS: %s ", instructions)
	b.WriteString("DO NOT use 'roi_center' for adjusting sliders or wheels. ")
	b.WriteString("Action Types:\n")
	b.WriteString("- 'set_slider': RECOMMENDED for all sliders and wheel components (contrast, saturation, Lift red, Gain blue, etc.). ")
	b.WriteString("YOU MUST provide the absolute 'value' to enter from the valid range. Deltas are not supported.\n")
	b.WriteString("- 'drag': Use ONLY for color wheels or relative movement if a target does not have a defined numeric range. ")
	b.WriteString("Requires dx (horizontal) and dy (vertical) in pixels. Typically 10-100px.\n")
	b.WriteString("- 'keypress': Use for hotkeys. Requires keys (list of strings).\n")
	b.WriteString("If no action is needed to match the reference look, return an empty actions array and stop=true.\n")
	b.WriteString("Note: The 'reason' field for each action should explicitly state the new target value ")
	b.WriteString("(e.g., 'Set Gain_blue to 1.2 to warm highlights').")
	if retryHint != "" {
		b.WriteString(" ")
		b.WriteString(retryHint)
	}
	return b.String()
}

func numOrUnknown(f *float64) string {
	if f == nil {
		return "Unknown"
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

// userContent is the multimodal user message: the JSON context first, then
// the reference and current images.
func userContent(rc RequestContext, ref, cur []byte) ([]contentPart, error) {
	state := rc.CurrentState
	if state == nil {
		state = map[string]float64{}
	}
	payload := userPayload{
		Metrics:        rc.Metrics,
		AllowedActions: action.SupportedTypes,
		CurrentState:   state,
		Controls:       controlsOf(rc.Profile),
	}
	if rc.Instructions != "" {
		instr := rc.Instructions
		payload.UserInstructions = &instr
	}
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request context: %w", err)
	}
	return []contentPart{
		{Type: "text", Text: string(text)},
		{Type: "image_url", ImageURL: &imageURL{URL: dataURI(ref)}},
		{Type: "image_url", ImageURL: &imageURL{URL: dataURI(cur)}},
	}, nil
}

func dataURI(jpeg []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)
}

// sortedUnique returns the non-blank strings of in, de-duplicated and sorted.
func sortedUnique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
