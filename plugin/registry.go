package plugin

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	configv1 "github.com/omalloc/chunksync/api/defined/v1/plugin"
	"github.com/omalloc/chunksync/contrib/log"
	"github.com/omalloc/chunksync/internal/constants"
)

type Registry interface {
	// Register registers a plugin factory with the given name.
	Register(name string, factory Factory)
	// Create creates a plugin instance using the factory associated with the given name.
	Create(opt configv1.Option, host configv1.Host, log *log.Helper) (configv1.Plugin, error)
	// Names returns the registered names, sorted.
	Names() []string
}

type pluginRegistry struct {
	mu      sync.RWMutex
	plugins map[string]Factory
}

// Create implements Registry.
func (p *pluginRegistry) Create(opt configv1.Option, host configv1.Host, log *log.Helper) (configv1.Plugin, error) {
	n := fmtName(opt.PluginName())

	p.mu.RLock()
	factory, exists := p.plugins[n]
	p.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("plugin %s not registered", n)
	}
	return factory(opt, host, log)
}

// Register implements Registry.
func (p *pluginRegistry) Register(name string, factory Factory) {
	n := fmtName(name)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.plugins[n]; exists {
		log.Warnf("plugin %s already registered", n)
		return
	}

	p.plugins[n] = factory
}

// Names implements Registry.
func (p *pluginRegistry) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.plugins))
	for n := range p.plugins {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func NewRegistry() Registry {
	return &pluginRegistry{
		plugins: make(map[string]Factory),
	}
}

func fmtName(name string) string {
	return strings.ToLower(fmt.Sprintf("%s.plugin.%s", constants.AppName, name))
}
