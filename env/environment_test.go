package env

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvironmentExists(t *testing.T) {
	t.Parallel()

	env := FromSlice([]string{})

	env.Set("FOO", "bar")
	env.Set("EMPTY", "")

	assert.Equal(t, env.Exists("FOO"), true)
	assert.Equal(t, env.Exists("EMPTY"), true)
	assert.Equal(t, env.Exists("does not exist"), false)
}

func TestEnvironmentSet(t *testing.T) {
	t.Parallel()

	env := FromSlice([]string{})

	env.Set("    THIS_IS_THE_BEST   \n\n", "\"IT SURE IS\"\n\n")

	v, ok := env.Get("    THIS_IS_THE_BEST   \n\n")
	assert.Equal(t, v, "\"IT SURE IS\"\n\n")
	assert.True(t, ok)
}

func TestEnvironmentRemove(t *testing.T) {
	t.Parallel()

	env := FromSlice([]string{"FOO=bar"})

	v, ok := env.Get("FOO")
	assert.Equal(t, v, "bar")
	assert.True(t, ok)

	assert.Equal(t, env.Remove("FOO"), "bar")

	v, ok = env.Get("FOO")
	assert.Equal(t, v, "")
	assert.False(t, ok)
}

func TestEnvironmentMerge(t *testing.T) {
	t.Parallel()

	env1 := FromSlice([]string{"FOO=bar"})
	env2 := FromSlice([]string{"BAR=foo", "FOO=override"})

	env1.Merge(env2)

	assert.Equal(t, []string{"BAR=foo", "FOO=override"}, env1.ToSlice())
}

func TestEnvironmentCopy(t *testing.T) {
	t.Parallel()

	env1 := FromSlice([]string{"FOO=bar"})
	env2 := env1.Copy()

	assert.Equal(t, []string{"FOO=bar"}, env2.ToSlice())

	env1.Set("FOO", "not-bar-anymore")

	assert.Equal(t, []string{"FOO=bar"}, env2.ToSlice())
}

func TestEnvironmentToSlice(t *testing.T) {
	t.Parallel()

	env := FromSlice([]string{"THIS_IS_GREAT=totes", "ZOMG=greatness"})

	assert.Equal(t, []string{"THIS_IS_GREAT=totes", "ZOMG=greatness"}, env.ToSlice())
}

func TestSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input       string
		name, value string
		ok          bool
	}{
		{input: "LINT_CODE=1", name: "LINT_CODE", value: "1", ok: true},
		{input: "EMPTY=", name: "EMPTY", value: "", ok: true},
		{input: "WITH=equals=signs", name: "WITH", value: "equals=signs", ok: true},
		{input: "=C:=C:\\", ok: false},
		{input: "NO_EQUALS", ok: false},
		{input: "", ok: false},
	}

	for _, test := range tests {
		name, value, ok := Split(test.input)
		if ok != test.ok || name != test.name || value != test.value {
			t.Errorf("Split(%q) = (%q, %q, %t), want (%q, %q, %t)",
				test.input, name, value, ok, test.name, test.value, test.ok)
		}
	}
}

func TestEnvironmentJSONRoundTrip(t *testing.T) {
	t.Parallel()

	env := FromSlice([]string{"UNIT_TESTS=1", "CI=true"})

	b, err := json.Marshal(env)
	assert.NoError(t, err)

	got := New()
	assert.NoError(t, json.Unmarshal(b, got))
	assert.Equal(t, env.Dump(), got.Dump())
}
