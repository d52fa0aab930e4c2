package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTrip(t *testing.T) {
	type payload struct {
		Name  string            `json:"name"`
		Count int               `json:"count"`
		Extra map[string]string `json:"extra,omitempty"`
	}

	in := payload{Name: "antenna", Count: 3, Extra: map[string]string{"operator": "kpn"}}

	data, err := JSON{}.Marshal(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, JSON{}.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestByName(t *testing.T) {
	c, ok := ByName("json")
	require.True(t, ok)
	assert.Equal(t, "json", c.Name())

	_, ok = ByName("msgpack")
	assert.False(t, ok)
}

func TestMustMarshalDefaultsAndPanics(t *testing.T) {
	assert.NotEmpty(t, MustMarshal(nil, map[string]int{"a": 1}))
	assert.Panics(t, func() {
		MustMarshal(JSON{}, make(chan int))
	})
}
