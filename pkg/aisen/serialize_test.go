package aisen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, ObjectKeys(map[string]int{"c": 1, "a": 2, "b": 3}))
	assert.Equal(t, []string{"1", "2"}, ObjectKeys(map[int]string{2: "x", 1: "y"}))
	assert.Nil(t, ObjectKeys("str"))
	assert.Nil(t, ObjectKeys(nil))
	assert.Empty(t, ObjectKeys(map[string]int{}))
}

func TestKeysForMessage(t *testing.T) {
	tests := []struct {
		name string
		keys []string
		want string
	}{
		{"no keys", nil, "[object has no keys]"},
		{"fits", []string{"bar", "foo"}, "bar, foo"},
		{"long first key", []string{strings.Repeat("k", 45)}, strings.Repeat("k", 40) + "..."},
		{
			"drops trailing keys",
			[]string{"aaaaaaaaaa", "bbbbbbbbbb", "cccccccccc", "dddddddddd"},
			"aaaaaaaaaa, bbbbbbbbbb, cccccccccc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeysForMessage(tt.keys, DefaultKeysMaxLength))
		})
	}
}

func TestNormalize_Depth(t *testing.T) {
	input := map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": map[string]any{"d": 1},
			},
		},
		"list": []any{[]any{[]any{1}}},
	}

	got, ok := Normalize(input, 3).(map[string]any)
	require.True(t, ok)

	a := got["a"].(map[string]any)
	b := a["b"].(map[string]any)
	assert.Equal(t, "[Object]", b["c"])

	list := got["list"].([]any)
	inner := list[0].([]any)
	assert.Equal(t, "[Array]", inner[0])
}

func TestNormalize_Cycles(t *testing.T) {
	type node struct {
		Name string
		Next *node
	}
	n := &node{Name: "loop"}
	n.Next = n

	got := Normalize(n, 10).(map[string]any)

	assert.Equal(t, "loop", got["Name"])
	assert.Equal(t, "[Circular ~]", got["Next"])
}

func TestNormalize_UnsupportedValues(t *testing.T) {
	input := map[string]any{
		"ch":  make(chan int),
		"fn":  TestNormalize_UnsupportedValues,
		"err": assert.AnError,
	}

	got := Normalize(input, 3).(map[string]any)

	assert.Equal(t, "[Channel]", got["ch"])
	assert.Contains(t, got["fn"], "[Function: ")
	assert.Equal(t, assert.AnError.Error(), got["err"])
}

func TestNormalizeToSize_ReducesDepth(t *testing.T) {
	input := map[string]any{"a": map[string]any{"b": strings.Repeat("x", 100)}}

	got := NormalizeToSize(input, DefaultNormalizeDepth, 20)

	assert.Equal(t, map[string]any{"a": "[Object]"}, got)
}

func TestNormalizeToSize_FitsUnchanged(t *testing.T) {
	input := map[string]any{"a": "b"}

	got := NormalizeToSize(input, DefaultNormalizeDepth, DefaultNormalizeMaxSize)

	assert.Equal(t, map[string]any{"a": "b"}, got)
}
