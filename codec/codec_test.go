package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Seq      uint64             `json:"seq"`
	After    map[string]any     `json:"after,omitempty"`
	Counters map[string]int64   `json:"counters,omitempty"`
	Values   map[string]float64 `json:"values,omitempty"`
}

func TestByName(t *testing.T) {
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{name: "json", want: "json", ok: true},
		{name: "go-json", want: "go-json", ok: true},
		{name: "msgpack", ok: false},
		{name: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := ByName(tt.name)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, c.Name())
			}
		})
	}
}

func TestCodec_Roundtrip(t *testing.T) {
	payload := testPayload{
		Seq:      42,
		After:    map[string]any{"customer": "acme", "day": "2024-03-01"},
		Counters: map[string]int64{"docs_read": 1200, "docs_indexed": 1180},
		Values:   map[string]float64{"total": 99.5},
	}

	for _, c := range []Codec{JSON{}, GoJSON{}} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Marshal(payload)
			require.NoError(t, err)

			var got testPayload
			require.NoError(t, c.Unmarshal(data, &got))
			assert.Equal(t, payload.Seq, got.Seq)
			assert.Equal(t, payload.Counters, got.Counters)
			assert.Equal(t, payload.Values, got.Values)
			assert.Equal(t, "acme", got.After["customer"])
		})
	}
}

func TestCodec_CrossDecode(t *testing.T) {
	// Both codecs emit JSON; a blob written by one must decode with the other.
	payload := testPayload{Seq: 7, Counters: map[string]int64{"pages": 3}}

	data := MustMarshal(GoJSON{}, payload)

	var got testPayload
	require.NoError(t, JSON{}.Unmarshal(data, &got))
	assert.Equal(t, payload, got)
}

func TestGoJSON_Append(t *testing.T) {
	dst := []byte("prefix:")
	out, err := GoJSON{}.Append(dst, map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, `prefix:{"a":1}`, string(out))
}
