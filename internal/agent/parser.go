package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoAction means the planner text holds no candidate action.
var ErrNoAction = errors.New("no action found")

var errMissingTool = errors.New(`missing "tool" field`)

// ParseError is a candidate action that is not a valid action object.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed action: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Action is one tool call requested by the planner.
type Action struct {
	Tool  string
	Input string
}

// IsFinal reports whether the action ends the loop with an answer.
func (a Action) IsFinal() bool { return a.Tool == FinalAnswer }

var fencedJSON = regexp.MustCompile("(?s)```json[ \\t]*\\r?\\n?(.*?)```")

// ExtractAction finds the candidate action text: the contents of the first
// fenced json block, else the widest span from the first '{' to the last
// '}'. It reports false when neither exists.
func ExtractAction(text string) (string, bool) {
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", false
	}
	return text[start : end+1], true
}

// ParseAction extracts and decodes the action in planner text. It returns
// ErrNoAction when there is no candidate and a *ParseError when the
// candidate does not decode or lacks a tool. A non-string tool_input is
// kept as its JSON text.
func ParseAction(text string) (Action, error) {
	raw, ok := ExtractAction(text)
	if !ok {
		return Action{}, ErrNoAction
	}

	var wire struct {
		Tool  *string         `json:"tool"`
		Input json.RawMessage `json:"tool_input"`
	}
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return Action{}, &ParseError{Raw: raw, Err: err}
	}
	if wire.Tool == nil || strings.TrimSpace(*wire.Tool) == "" {
		return Action{}, &ParseError{Raw: raw, Err: errMissingTool}
	}

	input, err := decodeInput(wire.Input)
	if err != nil {
		return Action{}, &ParseError{Raw: raw, Err: err}
	}
	return Action{Tool: strings.TrimSpace(*wire.Tool), Input: input}, nil
}

func decodeInput(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decoding tool_input: %w", err)
		}
		return s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", fmt.Errorf("decoding tool_input: %w", err)
	}
	return buf.String(), nil
}
