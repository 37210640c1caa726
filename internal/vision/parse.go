package vision

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Object is one detection reported by the model.
type Object struct {
	Name string `json:"name"`
	// BoundingBox is [x1, y1, x2, y2] in pixel coordinates.
	BoundingBox [4]float64 `json:"bounding_box"`
}

// ParseError reports model output that is not a detection list.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	preview := e.Raw
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	return fmt.Sprintf("parse detections: %v (text: %q)", e.Err, preview)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseObjects decodes the model's text into detections. Markdown code
// fences and surrounding prose are ignored. An empty list is valid; empty
// text is not.
func ParseObjects(raw string) ([]Object, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &ParseError{Raw: raw, Err: fmt.Errorf("model returned no text")}
	}

	text := stripMarkdownFences(raw)
	body, err := extractArray(text)
	if err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}

	var objects []Object
	if err := json.Unmarshal([]byte(body), &objects); err != nil {
		return nil, &ParseError{Raw: raw, Err: fmt.Errorf("invalid JSON: %w", err)}
	}
	for i, o := range objects {
		if strings.TrimSpace(o.Name) == "" {
			return nil, &ParseError{Raw: raw, Err: fmt.Errorf("object %d has no name", i)}
		}
	}
	if objects == nil {
		objects = []Object{}
	}
	return objects, nil
}

// stripMarkdownFences removes ```json ... ``` or ``` ... ``` wrapping.
func stripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}

	end := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	return strings.Join(lines[1:end], "\n")
}

// extractArray returns the span from the first '[' to the last ']'.
func extractArray(text string) (string, error) {
	start := strings.Index(text, "[")
	if start == -1 {
		return "", fmt.Errorf("no JSON array found")
	}
	end := strings.LastIndex(text, "]")
	if end < start {
		return "", fmt.Errorf("no closing ] found")
	}
	return text[start : end+1], nil
}
