package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	v, err := ParseJSON([]byte(`{"id":"d1","n":12345678901234567890,"ok":true,"tags":["a","b"],"none":null}`))
	require.NoError(t, err)
	assert.Equal(t, KindObject, v.Kind())
	assert.Equal(t, []string{"id", "n", "none", "ok", "tags"}, v.Keys())

	id, ok := v.Field("id")
	require.True(t, ok)
	s, _ := id.AsString()
	assert.Equal(t, "d1", s)

	n, _ := v.Field("n")
	key, ok := n.KeyString()
	require.True(t, ok)
	assert.Equal(t, "12345678901234567890", key, "large integer literals survive as keys")

	none, ok := v.Field("none")
	require.True(t, ok)
	assert.True(t, none.IsNull())

	tags, _ := v.Field("tags")
	last, ok := tags.Index(-1)
	require.True(t, ok)
	assert.Equal(t, "b", last.Text())
	_, ok = tags.Index(2)
	assert.False(t, ok)
}

func TestParseJSONRejectsTrailingData(t *testing.T) {
	_, err := ParseJSON([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)

	_, err = ParseJSON([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestValueKeyString(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want string
		ok   bool
	}{
		{"string", String("abc"), "abc", true},
		{"empty string", String(""), "", false},
		{"integral number", Number(42), "42", true},
		{"fractional number", Number(1.5), "1.5", true},
		{"bool", Bool(true), "true", true},
		{"null", Null(), "", false},
		{"array", Array(String("a")), "", false},
		{"object", Object(map[string]Value{"a": Null()}), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.v.KeyString()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValueKeyStringNormalizesNumericLiterals(t *testing.T) {
	v, err := ParseJSON([]byte(`[1, 1.0, 1e0, 10E-1, -0.50, 9007199254740993]`))
	require.NoError(t, err)

	var keys []string
	for i := 0; i < v.Len(); i++ {
		n, ok := v.Index(i)
		require.True(t, ok)
		key, ok := n.KeyString()
		require.True(t, ok)
		keys = append(keys, key)
	}
	assert.Equal(t, []string{"1", "1", "1", "1", "-0.5", "9007199254740993"}, keys)
}

func TestValueEqual(t *testing.T) {
	a, err := ParseJSON([]byte(`{"x":[1,2,{"y":"z"}]}`))
	require.NoError(t, err)
	b := Object(map[string]Value{
		"x": Array(Number(1), Number(2), Object(map[string]Value{"y": String("z")})),
	})
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(Null()))
	assert.True(t, Null().Equal(Value{}))
}

func TestValueNative(t *testing.T) {
	v, err := ParseJSON([]byte(`{"i":3,"f":2.5,"s":"x","b":false,"a":[1],"o":{"k":null}}`))
	require.NoError(t, err)

	native := v.Native().(map[string]any)
	assert.Equal(t, int64(3), native["i"])
	assert.Equal(t, 2.5, native["f"])
	assert.Equal(t, "x", native["s"])
	assert.Equal(t, false, native["b"])
	assert.Equal(t, []any{int64(1)}, native["a"])
	assert.Equal(t, map[string]any{"k": nil}, native["o"])
}

func TestValueJSONRoundTrip(t *testing.T) {
	in := `{"a":[1,2.5,"x",true,null],"b":{"c":"d"}}`
	v, err := ParseJSON([]byte(in))
	require.NoError(t, err)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))

	var decoded Value
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.True(t, v.Equal(decoded))
}

func TestFromNative(t *testing.T) {
	v, err := FromNative(map[string]any{"n": 7, "v": []float32{0.5}})
	require.NoError(t, err)
	n, _ := v.Field("n")
	f, ok := n.AsNumber()
	require.True(t, ok)
	assert.Equal(t, 7.0, f)

	_, err = FromNative(struct{}{})
	assert.Error(t, err)
}
