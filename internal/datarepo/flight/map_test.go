package flight

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string
	Count int
}

func TestMap_PutGet(t *testing.T) {
	m := NewMap()
	require.NoError(t, m.Put("payload", payload{Name: "a", Count: 2}))
	require.NoError(t, m.Put("flag", true))
	require.NoError(t, m.Put("name", "value"))

	var out payload
	found, err := m.Get("payload", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, payload{Name: "a", Count: 2}, out)

	found, err = m.Get("missing", &out)
	require.NoError(t, err)
	assert.False(t, found)

	assert.True(t, m.GetBool("flag"))
	assert.Equal(t, "value", m.GetString("name"))
	assert.Equal(t, "", m.GetString("flag"))
	assert.Equal(t, []string{"flag", "name", "payload"}, m.Keys())
}

func TestMap_JsonRoundTripAndCopy(t *testing.T) {
	m := NewMap()
	require.NoError(t, m.Put("name", "value"))

	data, err := json.Marshal(m)
	require.NoError(t, err)

	restored := NewMap()
	require.NoError(t, json.Unmarshal(data, restored))
	assert.Equal(t, "value", restored.GetString("name"))

	copied := restored.Copy()
	require.NoError(t, copied.Put("name", "changed"))
	assert.Equal(t, "value", restored.GetString("name"))
}
