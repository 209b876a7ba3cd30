package plugin_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configv1 "github.com/omalloc/chunksync/api/defined/v1/plugin"
	"github.com/omalloc/chunksync/contrib/log"
	"github.com/omalloc/chunksync/plugin"
)

type option string

func (o option) PluginName() string  { return string(o) }
func (o option) Unmarshal(any) error { return nil }

type nopPlugin struct{ name string }

func (nopPlugin) Start(context.Context) error                       { return nil }
func (nopPlugin) Stop(context.Context) error                        { return nil }
func (nopPlugin) AddRouter(*http.ServeMux)                          {}
func (nopPlugin) HandleFunc(next http.HandlerFunc) http.HandlerFunc { return next }

func factory(name string) plugin.Factory {
	return func(configv1.Option, configv1.Host, *log.Helper) (configv1.Plugin, error) {
		return nopPlugin{name: name}, nil
	}
}

func TestRegistryCreate(t *testing.T) {
	r := plugin.NewRegistry()
	r.Register("Echo", factory("first"))
	r.Register("echo", factory("second"))

	p, err := r.Create(option("ECHO"), nil, log.NewHelper(log.GetLogger()))
	require.NoError(t, err)
	assert.Equal(t, "first", p.(nopPlugin).name)

	_, err = r.Create(option("missing"), nil, log.NewHelper(log.GetLogger()))
	assert.ErrorContains(t, err, "chunksync.plugin.missing not registered")
}

func TestRegistryNames(t *testing.T) {
	r := plugin.NewRegistry()
	r.Register("qs", factory("qs"))
	r.Register("notify", factory("notify"))

	assert.Equal(t, []string{"chunksync.plugin.notify", "chunksync.plugin.qs"}, r.Names())
}
