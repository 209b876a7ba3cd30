package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sample = `
logger:
  level: debug
server:
  addr: ":9090"
cache:
  page_size: 50
  coalesce_window: 250ms
authority:
  endpoint: http://authority:9000
plugin:
  - name: notify
    options:
      allow-addr: ["10.0.0.1", "10.0.0.2"]
`

func TestApplyDefaults(t *testing.T) {
	bc := &Bootstrap{}
	require.NoError(t, yaml.Unmarshal([]byte(sample), bc))
	require.NoError(t, bc.ApplyDefaults())

	assert.Equal(t, "debug", bc.Logger.Level)
	assert.Equal(t, 100, bc.Logger.MaxSize)
	assert.Equal(t, ":9090", bc.Server.Addr)
	assert.Equal(t, 30*time.Second, bc.Server.ReadTimeout)
	assert.Equal(t, 50, bc.Cache.PageSize)
	assert.Equal(t, 4, bc.Cache.MaxParallelPages)
	assert.Equal(t, 250*time.Millisecond, bc.Cache.CoalesceWindow)
	assert.Equal(t, "http://authority:9000", bc.Authority.Endpoint)
	assert.Equal(t, "lz4", bc.Snapshot.Compress)
	assert.Empty(t, bc.Snapshot.Driver)
}

func TestPluginUnmarshal(t *testing.T) {
	bc := &Bootstrap{}
	require.NoError(t, yaml.Unmarshal([]byte(sample), bc))
	require.Len(t, bc.Plugin, 1)

	var opt struct {
		AllowAddr []string `json:"allow-addr"`
	}
	require.NoError(t, bc.Plugin[0].Unmarshal(&opt))
	assert.Equal(t, "notify", bc.Plugin[0].PluginName())
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, opt.AllowAddr)
}
