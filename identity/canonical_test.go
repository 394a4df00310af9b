package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalJSON(t *testing.T) {
	t.Run("sorts keys at every depth", func(t *testing.T) {
		v := map[string]interface{}{
			"zebra": 1,
			"alpha": map[string]interface{}{
				"z": "last",
				"a": "first",
			},
		}
		out, err := CanonicalJSON(v)
		require.NoError(t, err)
		require.Equal(t, `{"alpha":{"a":"first","z":"last"},"zebra":1}`, string(out))
	})

	t.Run("no insignificant whitespace", func(t *testing.T) {
		out, err := CanonicalJSON(map[string]interface{}{"a": []int{1, 2, 3}, "b": true})
		require.NoError(t, err)
		require.Equal(t, `{"a":[1,2,3],"b":true}`, string(out))
	})

	t.Run("integers stay decimal", func(t *testing.T) {
		out, err := CanonicalJSON(map[string]interface{}{"ts": uint64(1720000000000)})
		require.NoError(t, err)
		require.Equal(t, `{"ts":1720000000000}`, string(out))
	})

	t.Run("structs use their json tags", func(t *testing.T) {
		type payload struct {
			DeviceID   string `json:"deviceId"`
			DeviceName string `json:"deviceName"`
			HTTPPort   int    `json:"httpPort"`
		}
		out, err := CanonicalJSON(payload{DeviceID: "d", DeviceName: "n", HTTPPort: 8080})
		require.NoError(t, err)
		require.Equal(t, `{"deviceId":"d","deviceName":"n","httpPort":8080}`, string(out))
	})

	t.Run("deterministic across calls", func(t *testing.T) {
		v := map[string]interface{}{"b": 2, "a": 1, "c": []interface{}{"x", map[string]interface{}{"k": "v"}}}
		first, err := CanonicalJSON(v)
		require.NoError(t, err)
		for i := 0; i < 16; i++ {
			again, err := CanonicalJSON(v)
			require.NoError(t, err)
			require.Equal(t, first, again)
		}
	})
}
