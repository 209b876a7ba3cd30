package mapstruct_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/chunksync/pkg/mapstruct"
)

type pluginOption struct {
	AllowAddr []string      `json:"allow-addr"`
	Timeout   time.Duration `json:"timeout"`
	Ratio     int           `json:"ratio"`
}

func TestDecode(t *testing.T) {
	in := map[string]any{
		"allow-addr": []any{"127.0.0.1", "10.0.0.1"},
		"timeout":    "3s",
		"ratio":      "25",
	}

	var out pluginOption
	require.NoError(t, mapstruct.Decode(in, &out))

	assert.Equal(t, []string{"127.0.0.1", "10.0.0.1"}, out.AllowAddr)
	assert.Equal(t, 3*time.Second, out.Timeout)
	assert.Equal(t, 25, out.Ratio)
}

func TestDecodeCommaList(t *testing.T) {
	var out pluginOption
	require.NoError(t, mapstruct.Decode(map[string]any{"allow-addr": "a,b"}, &out))
	assert.Equal(t, []string{"a", "b"}, out.AllowAddr)
}
