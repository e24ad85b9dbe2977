package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{
		"b": "2",
		"a": int64(1),
		"c": []any{true, "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":"2","c":[true,"x"]}`, string(got))
}

func TestMarshalCanonical_NoHTMLEscape(t *testing.T) {
	got, err := MarshalCanonical("<a&b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(got))
}

func TestMarshalCanonical_EscapesControl(t *testing.T) {
	got, err := MarshalCanonical("a\"b\\c\n\x01")
	require.NoError(t, err)
	assert.Equal(t, `"a\"b\\c\n\u0001"`, string(got))
}

func TestMarshalCanonical_LineSeparatorsLiteral(t *testing.T) {
	got, err := MarshalCanonical("x\u2028y")
	require.NoError(t, err)
	assert.Equal(t, "\"x\u2028y\"", string(got))
}

func TestMarshalCanonical_NFC(t *testing.T) {
	got, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(got))
}

func TestMarshalCanonical_RejectsFloatAndNull(t *testing.T) {
	_, err := MarshalCanonical(1.5)
	assert.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"x": nil})
	assert.Error(t, err)
}

func TestMarshalCanonical_UTF16Order(t *testing.T) {
	// U+1F600 encodes as the surrogate pair 0xD83D 0xDE00, which sorts
	// before U+E000 in UTF-16 even though it sorts after it in UTF-8.
	got, err := MarshalCanonical(map[string]any{
		"\uE000":     int64(1),
		"\U0001F600": int64(2),
	})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uE000\":1}", string(got))
}

func TestPayloadHash_StableAcrossClones(t *testing.T) {
	p := &Project{ID: "p1", Title: "Roof", Status: ProjectRFQ, TeamMemberIDs: NewMemberSet("b", "a")}

	h1, err := PayloadHash(p)
	require.NoError(t, err)
	h2, err := PayloadHash(p.Clone())
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	p.Status = ProjectEstimated
	h3, err := PayloadHash(p)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestAttemptID_DependsOnRev(t *testing.T) {
	ref := Ref(KindTask, "t1")
	assert.Equal(t, AttemptID(ref, "update", 3), AttemptID(ref, "update", 3))
	assert.NotEqual(t, AttemptID(ref, "update", 3), AttemptID(ref, "update", 4))
	assert.NotEqual(t, AttemptID(ref, "update", 3), AttemptID(ref, "delete", 3))
}

func TestCreateKey_DependsOnlyOnLocalID(t *testing.T) {
	assert.Equal(t, CreateKey("local-1"), CreateKey("local-1"))
	assert.NotEqual(t, CreateKey("local-1"), CreateKey("local-2"))
	assert.Len(t, CreateKey("local-1"), 64)
}
