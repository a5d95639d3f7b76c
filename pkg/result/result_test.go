package result

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOK(t *testing.T) {
	md := map[string]any{"count": 2}
	env := OK([]any{1, 2}, md)

	assert.True(t, env.Success)
	assert.Empty(t, env.Error)
	assert.Equal(t, KindNone, env.Kind)
	assert.Equal(t, 2, env.Count())
	assert.NoError(t, env.Err())

	// Mutating the caller's map must not leak into the envelope.
	md["count"] = 99
	assert.Equal(t, 2, env.Metadata["count"])
}

func TestFail(t *testing.T) {
	env := Fail("boom", nil)

	assert.False(t, env.Success)
	assert.Nil(t, env.Data)
	assert.Equal(t, "boom", env.Error)
	assert.Nil(t, env.Metadata)
	assert.EqualError(t, env.Err(), "boom")
}

func TestFail_EmptyMessage(t *testing.T) {
	env := Fail("", nil)
	assert.Equal(t, "unknown error", env.Error)
}

func TestFailf_Kind(t *testing.T) {
	env := Failf(KindValidation, "%s cannot be empty", "Category ID")

	assert.Equal(t, "Category ID cannot be empty", env.Error)
	assert.True(t, env.Is(KindValidation))
	assert.False(t, env.Is(KindTransport))
	assert.Equal(t, KindValidation, KindOf(env.Err()))
}

func TestWithKind_IgnoredOnSuccess(t *testing.T) {
	env := OK("x", nil).WithKind(KindTransport)
	assert.Equal(t, KindNone, env.Kind)
}

func TestPrefixed(t *testing.T) {
	inner := Failf(KindAuthentication, "Authentication succeeded but token missing")
	outer := inner.Prefixed("Authentication failed: ")

	assert.Equal(t, "Authentication failed: Authentication succeeded but token missing", outer.Error)
	assert.Equal(t, "Authentication succeeded but token missing", inner.Error)
	assert.Equal(t, KindAuthentication, outer.Kind)

	ok := OK(1, nil).Prefixed("nope")
	assert.Empty(t, ok.Error)
}

func TestWithMetadata_CopiesMap(t *testing.T) {
	base := OK(nil, map[string]any{"a": 1})
	next := base.WithMetadata("b", 2)

	assert.NotContains(t, base.Metadata, "b")
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, next.Metadata)
}

func TestCount_NotAList(t *testing.T) {
	assert.Equal(t, -1, OK(map[string]any{"id": 1}, nil).Count())
}

func TestKindOf_ForeignError(t *testing.T) {
	assert.Equal(t, KindNone, KindOf(errors.New("plain")))
}

func TestEnvelope_JSON(t *testing.T) {
	raw, err := json.Marshal(Failf(KindTransport, "API call failed after 3 attempts: timeout"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, false, decoded["success"])
	assert.Nil(t, decoded["data"])
	assert.Equal(t, "transport", decoded["kind"])
	assert.Equal(t, "API call failed after 3 attempts: timeout", decoded["error"])
}
