package jsoncodec

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lead struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := lead{ID: 42, Email: "bob@example.com"}
	data, err := Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":42,"email":"bob@example.com"}`, string(data))

	var out lead
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestEncodeAndDecode(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, Encode(buf, lead{ID: 7}))

	var decoded lead
	require.NoError(t, Decode(buf, &decoded))
	assert.Equal(t, 7, decoded.ID)
}

func TestRaw(t *testing.T) {
	raw, err := Raw(map[string]int{"id": 42})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":42}`, string(raw))

	passthrough, err := Raw(json.RawMessage(`[1,2]`))
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(passthrough))

	empty, err := Raw(json.RawMessage(nil))
	require.NoError(t, err)
	assert.Equal(t, `null`, string(empty))

	null, err := Raw(nil)
	require.NoError(t, err)
	assert.Equal(t, `null`, string(null))

	_, err = Raw(make(chan int))
	assert.Error(t, err)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid([]byte(`{"pattern":"lead.getAll"}`)))
	assert.False(t, Valid([]byte(`{"pattern":`)))
}
