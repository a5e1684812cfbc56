package classify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// SchemaError is a response that could not be read as classifications.
// It is retryable: another sample from the model usually parses.
type SchemaError struct {
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm response schema: %s: %v", e.Reason, e.Err)
	}
	return "llm response schema: " + e.Reason
}

func (e *SchemaError) Unwrap() error   { return e.Err }
func (e *SchemaError) Retryable() bool { return true }
func (e *SchemaError) Kind() string    { return "llm_schema" }

// ActionItemKind tags the shape an action item arrived in.
type ActionItemKind int

const (
	ActionItemInvalid ActionItemKind = iota
	ActionItemText
	ActionItemObject
)

// ActionItemField is the model's action item, either a bare string or an object.
type ActionItemField struct {
	Kind        ActionItemKind
	Description string
	DueDate     string
}

func (a *ActionItemField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*a = ActionItemField{}
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		a.Kind = ActionItemText
		a.Description = strings.TrimSpace(s)
	case '{':
		var obj struct {
			Description string  `json:"description"`
			Task        string  `json:"task"`
			Text        string  `json:"text"`
			Title       string  `json:"title"`
			DueDate     *string `json:"due_date"`
			Due         *string `json:"due"`
			Deadline    *string `json:"deadline"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return nil
		}
		a.Kind = ActionItemObject
		a.Description = strings.TrimSpace(firstNonEmpty(obj.Description, obj.Task, obj.Text, obj.Title))
		for _, d := range []*string{obj.DueDate, obj.Due, obj.Deadline} {
			if d != nil && strings.TrimSpace(*d) != "" {
				a.DueDate = strings.TrimSpace(*d)
				break
			}
		}
	}
	// anything else (numbers, arrays, null) stays ActionItemInvalid and is dropped
	return nil
}

// flexInt accepts 3, 3.0 and "3". Values are clamped to the priority range before conversion.
type flexInt struct {
	Value int
	Set   bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	v, ok := parseNumber(b)
	if ok {
		v = math.Min(math.Max(v, 1), 5)
		f.Value, f.Set = int(v+0.5), true
	}
	return nil
}

// flexFloat accepts 0.8, "0.8" and "80%".
type flexFloat struct {
	Value float64
	Set   bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if strings.HasSuffix(s, `%"`) {
		if v, ok := parseNumber([]byte(strings.TrimSuffix(strings.Trim(s, `"`), "%"))); ok {
			f.Value, f.Set = v/100, true
		}
		return nil
	}
	if v, ok := parseNumber(b); ok {
		f.Value, f.Set = v, true
	}
	return nil
}

// flexBool accepts true, "true", "yes", 1.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(string(b)), `"`)) {
	case "true", "yes", "y", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

// flexString accepts a string or null; other shapes become empty.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(strings.TrimSpace(s))
	}
	return nil
}

// flexStrings accepts ["a","b"] or "a, b".
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(b []byte) error {
	var list []json.RawMessage
	if err := json.Unmarshal(b, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, raw := range list {
			var s string
			if json.Unmarshal(raw, &s) == nil {
				out = append(out, s)
			}
		}
		*f = out
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = strings.Split(s, ",")
	}
	return nil
}

func parseNumber(b []byte) (float64, bool) {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// RawClassification is one entry of the model's response before normalization.
type RawClassification struct {
	ID             flexString        `json:"id"`
	EmailID        flexString        `json:"email_id"`
	Priority       flexInt           `json:"priority"`
	Category       flexString        `json:"category"`
	NeedsReply     flexBool          `json:"needs_reply"`
	NeedsApproval  flexBool          `json:"needs_approval"`
	IsThreadActive flexBool          `json:"is_thread_active"`
	ActionItems    []ActionItemField `json:"action_items"`
	Deadline       flexString        `json:"deadline"`
	Summary        flexString        `json:"summary"`
	Confidence     flexFloat         `json:"confidence"`
	Topics         flexStrings       `json:"topics"`
	Sentiment      flexString        `json:"sentiment"`
}

// Key is the echoed email id.
func (r RawClassification) Key() string {
	return strings.TrimSpace(firstNonEmpty(string(r.ID), string(r.EmailID)))
}

type rawEnvelope struct {
	Classifications []RawClassification `json:"classifications"`
	Results         []RawClassification `json:"results"`
}

// ParseResponse reads the model output leniently: code fences are stripped, the outermost
// JSON object or array is extracted, and a single bare classification is accepted.
func ParseResponse(raw string) ([]RawClassification, error) {
	body := extractJSON(stripFences(raw))
	if body == "" {
		return nil, &SchemaError{Reason: "no json found"}
	}

	if body[0] == '[' {
		var list []RawClassification
		if err := json.Unmarshal([]byte(body), &list); err != nil {
			return nil, &SchemaError{Reason: "invalid array", Err: err}
		}
		return keyed(list)
	}

	var env rawEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, &SchemaError{Reason: "invalid object", Err: err}
	}
	if len(env.Classifications) > 0 {
		return keyed(env.Classifications)
	}
	if len(env.Results) > 0 {
		return keyed(env.Results)
	}

	var single RawClassification
	if err := json.Unmarshal([]byte(body), &single); err == nil && single.Key() != "" {
		return []RawClassification{single}, nil
	}
	return nil, &SchemaError{Reason: "no classifications"}
}

func keyed(list []RawClassification) ([]RawClassification, error) {
	out := list[:0]
	for _, c := range list {
		if c.Key() != "" {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, &SchemaError{Reason: "no classification carries an id"}
	}
	return out, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line
		s = s[nl+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// extractJSON returns the span from the first '{' or '[' to the matching last closer.
func extractJSON(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return ""
	}
	return s[start : end+1]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
