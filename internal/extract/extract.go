// Package extract decodes JSON out of free-form model responses.
//
// Model output is treated as JSON-ish: it may be bare JSON, JSON inside a
// markdown fence, or JSON embedded in prose, and it often carries trailing
// commas or // comments. Decode tries each interpretation in a fixed order and
// reports a *ParseError when none of them yields a value that passes the
// caller's schema.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Pre-compiled patterns for candidate extraction.
var (
	// fencePattern matches the body of the first markdown code fence.
	fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?[ \\t]*\\n?(.*?)```")
)

// #region parse-error

// ParseError reports that no candidate in a response decoded cleanly.
type ParseError struct {
	Attempts []string // candidate strategies that were tried, in order
	Snippet  string   // head of the response, for logs
	Err      error    // last underlying error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse model output (tried %s): %v", strings.Join(e.Attempts, ", "), e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// #endregion parse-error

// #region schema

// Schema is a compiled JSON Schema used to validate decoded output.
type Schema struct {
	name     string
	compiled *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document.
func CompileSchema(name, src string) (*Schema, error) {
	c := jsonschema.NewCompiler()
	url := name + ".json"
	if err := c.AddResource(url, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{name: name, compiled: compiled}, nil
}

// MustCompileSchema is CompileSchema for package-level schema constants.
func MustCompileSchema(name, src string) *Schema {
	s, err := CompileSchema(name, src)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the schema's name.
func (s *Schema) Name() string {
	return s.name
}

// #endregion schema

// #region candidates

// Candidate is one interpretation of a response as JSON.
type Candidate struct {
	Strategy string // "direct" | "fence" | "object" | "array"
	Text     string
}

// Candidates returns the interpretations of text in the order they are tried:
// direct parse, markdown fence body, first {...} span, first [...] span.
func Candidates(text string) []Candidate {
	trimmed := strings.TrimSpace(text)
	out := []Candidate{{Strategy: "direct", Text: trimmed}}
	if m := fencePattern.FindStringSubmatch(text); len(m) > 1 {
		out = append(out, Candidate{Strategy: "fence", Text: strings.TrimSpace(m[1])})
	}
	if span := enclosed(text, '{', '}'); span != "" {
		out = append(out, Candidate{Strategy: "object", Text: span})
	}
	if span := enclosed(text, '[', ']'); span != "" {
		out = append(out, Candidate{Strategy: "array", Text: span})
	}
	return out
}

// enclosed returns text from the first open rune to the last close rune.
func enclosed(text string, open, close byte) string {
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, close)
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// #endregion candidates

// #region decode

// Decode extracts JSON from text, validates it against schema (when non-nil)
// and unmarshals it into out. Any failure is a *ParseError.
func Decode(text string, schema *Schema, out any) error {
	attempts := make([]string, 0, 4)
	var lastErr error = errors.New("empty response")

	for _, cand := range Candidates(text) {
		if cand.Text == "" {
			continue
		}
		attempts = append(attempts, cand.Strategy)
		for _, variant := range variants(cand.Text) {
			value, err := parseStrict(variant)
			if err != nil {
				lastErr = err
				continue
			}
			if schema != nil {
				if err := schema.compiled.Validate(value); err != nil {
					return &ParseError{Attempts: attempts, Snippet: snippet(text), Err: fmt.Errorf("schema %s: %w", schema.name, err)}
				}
			}
			if err := json.Unmarshal([]byte(variant), out); err != nil {
				return &ParseError{Attempts: attempts, Snippet: snippet(text), Err: err}
			}
			return nil
		}
	}
	return &ParseError{Attempts: attempts, Snippet: snippet(text), Err: lastErr}
}

// DecodeAs is Decode returning a fresh value of T.
func DecodeAs[T any](text string, schema *Schema) (T, error) {
	var out T
	if err := Decode(text, schema, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// variants returns the raw candidate and, when different, its cleaned form.
func variants(raw string) []string {
	cleaned := cleanJSON(raw)
	if cleaned == raw {
		return []string{raw}
	}
	return []string{raw, cleaned}
}

// parseStrict decodes exactly one JSON value with no trailing content.
func parseStrict(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing content after JSON value")
	}
	return v, nil
}

func snippet(text string) string {
	const max = 120
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}

// #endregion decode

// #region clean

// cleanJSON removes // line comments outside strings and trailing commas.
func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return stripTrailingCommas(strings.Join(lines, "\n"))
}

// stripTrailingCommas drops commas followed only by whitespace and a closing
// bracket, leaving string values untouched.
func stripTrailingCommas(s string) string {
	if !strings.Contains(s, ",") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case !inString && ch == ',':
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// stripLineComment removes a // comment from a line, respecting string values.
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}
	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}

// #endregion clean
