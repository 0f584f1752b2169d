package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recordingT captures Errorf calls so asserter failures can be inspected.
type recordingT struct {
	errors []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestTextAsserterDefaults(t *testing.T) {
	opts := NewTextAsserter(t).Options()

	assert.True(t, opts.TrimSpace)
	assert.True(t, opts.IgnoreTrailingWhitespace)
	assert.False(t, opts.IgnoreEmptyLines)
	assert.False(t, opts.EnableColors)
}

func TestTextAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		fails    bool
	}{
		{"identical", nil, "a\nb", "a\nb", false},
		{"surrounding whitespace trimmed", nil, "\n  a\nb  \n", "a\nb", false},
		{"trailing whitespace per line", nil, "a  \nb\t", "a\nb", false},
		{"empty lines matter by default", nil, "a\n\nb", "a\nb", true},
		{"empty lines ignored", []TextOption{WithIgnoreEmptyLines(true)}, "a\n\nb", "a\nb", false},
		{"different content", nil, "a\nc", "a\nb", true},
		{"trim disabled", []TextOption{WithTrimSpace(false), WithIgnoreEmptyLines(false)}, "a\n", "a", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			NewTextAsserter(rec).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.fails, len(rec.errors) > 0, "errors: %v", rec.errors)
		})
	}
}

func TestTextAsserterDiffShowsChangedLines(t *testing.T) {
	diff := NewTextAsserter(t).Diff("state: connected\nbattery: 80", "state: connected\nbattery: 85")

	assert.Contains(t, diff, "--- expected")
	assert.Contains(t, diff, "+++ actual")
	assert.Contains(t, diff, "-battery: 85")
	assert.Contains(t, diff, "+battery: 80")
}

func TestTextAsserterColoredDiffMarksWhitespace(t *testing.T) {
	diff := NewTextAsserter(t).WithOptions(WithEnableColors(true), WithIgnoreTrailingWhitespace(false)).
		Diff("a b", "a  b")

	assert.Contains(t, diff, "a·b")
	assert.Contains(t, diff, "a··b")
}

func TestJSONAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []JSONOption
		actual   string
		expected string
		fails    bool
	}{
		{"identical", nil, `{"a":1}`, `{"a":1}`, false},
		{"extra keys ignored by default", nil, `{"a":1,"b":2}`, `{"a":1}`, false},
		{"extra keys reported", []JSONOption{WithIgnoreExtraKeys(false)}, `{"a":1,"b":2}`, `{"a":1}`, true},
		{"value mismatch", nil, `{"a":1}`, `{"a":2}`, true},
		{"presence placeholder", nil, `{"a":"anything"}`, `{"a":"<<PRESENCE>>"}`, false},
		{"root arrays", nil, `[{"a":1},{"a":2}]`, `[{"a":1},{"a":2}]`, false},
		{"array order matters by default", nil, `[1,2]`, `[2,1]`, true},
		{"array order ignored", []JSONOption{WithIgnoreArrayOrder(true)}, `[1,2]`, `[2,1]`, false},
		{"ignored fields", []JSONOption{WithIgnoredFields("ts")}, `{"a":1,"ts":5}`, `{"a":1,"ts":7}`, false},
		{"invalid actual", nil, `{`, `{}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			NewJSONAsserter(rec).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.fails, len(rec.errors) > 0, "errors: %v", rec.errors)
		})
	}
}
