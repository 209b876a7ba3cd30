package config

import (
	"context"
	"errors"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/omalloc/chunksync/contrib/log"
)

// Source is a config provider.
type Source interface {
	// Load returns the raw config document.
	Load() ([]byte, error)
	// Watch notifies every time the underlying document changes.
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// Config loads a yaml document of type T from its sources.
type Config[T any] interface {
	Scan(v *T) error
	// Watch re-scans on every change of a source and calls fn with the fresh value.
	Watch(fn func(*T)) error
	Close() error
}

// Option is config option.
type Option func(*options)

type options struct {
	sources []Source
	decoder func([]byte, any) error
}

// WithSource with config source.
func WithSource(s ...Source) Option {
	return func(o *options) {
		o.sources = append(o.sources, s...)
	}
}

// WithDecoder with config decoder, yaml by default.
func WithDecoder(d func([]byte, any) error) Option {
	return func(o *options) {
		o.decoder = d
	}
}

type config[T any] struct {
	opts   options
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New a config with options.
func New[T any](opts ...Option) Config[T] {
	o := options{
		decoder: yaml.Unmarshal,
	}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &config[T]{
		opts:   o,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Scan decodes every source into v in order; later sources override earlier ones.
func (c *config[T]) Scan(v *T) error {
	if len(c.opts.sources) == 0 {
		return errors.New("config: no source")
	}
	for _, src := range c.opts.sources {
		buf, err := src.Load()
		if err != nil {
			return err
		}
		if err := c.opts.decoder(buf, v); err != nil {
			return err
		}
	}
	return nil
}

func (c *config[T]) Watch(fn func(*T)) error {
	for _, src := range c.opts.sources {
		ch, err := src.Watch(c.ctx)
		if err != nil {
			return err
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case <-c.ctx.Done():
					return
				case _, ok := <-ch:
					if !ok {
						return
					}
					v := new(T)
					if err := c.Scan(v); err != nil {
						log.Warnf("config: reload failed: %v", err)
						continue
					}
					fn(v)
				}
			}
		}()
	}
	return nil
}

func (c *config[T]) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}
