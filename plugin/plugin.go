package plugin

import (
	configv1 "github.com/omalloc/chunksync/api/defined/v1/plugin"
	"github.com/omalloc/chunksync/contrib/log"
)

type Factory func(c configv1.Option, host configv1.Host, log *log.Helper) (configv1.Plugin, error)

var globalRegistry = NewRegistry()

func Register(name string, f Factory) {
	globalRegistry.Register(name, f)
}

func Create(opt configv1.Option, host configv1.Host, log *log.Helper) (configv1.Plugin, error) {
	return globalRegistry.Create(opt, host, log)
}

// Registered returns the names of the registered plugins.
func Registered() []string {
	return globalRegistry.Names()
}
