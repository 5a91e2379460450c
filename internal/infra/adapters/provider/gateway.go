// Package provider routes generation calls to external video providers. Each
// provider sits behind a concurrency limit and a circuit breaker.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/ports/adapter"
	"video-generation-service/internal/infra/metrics"
	"video-generation-service/internal/infra/storage"
)

var _ adapter.ProviderGateway = (*Gateway)(nil)

type entry struct {
	provider adapter.VideoProvider
	breaker  *gobreaker.CircuitBreaker
}

type Gateway struct {
	defaultProvider string
	aliases         map[string]string
	byProvider      map[string]*entry
	assets          adapter.AssetStore
	log             *zerolog.Logger
}

type GatewayOptions struct {
	Default       string
	Aliases       map[string]string
	MaxConcurrent int
	Breaker       BreakerSettings
}

// NewGateway registers providers under their Name(). assets may be nil when
// every provider returns URLs.
func NewGateway(opts GatewayOptions, assets adapter.AssetStore, logger *zerolog.Logger, providers ...adapter.VideoProvider) (*Gateway, error) {
	l := logger.With().Str("component", "provider_gateway").Logger()
	g := &Gateway{
		defaultProvider: normName(opts.Default),
		aliases:         make(map[string]string, len(opts.Aliases)),
		byProvider:      make(map[string]*entry, len(providers)),
		assets:          assets,
		log:             &l,
	}
	for k, v := range opts.Aliases {
		g.aliases[normName(k)] = normName(v)
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		name := normName(p.Name())
		g.byProvider[name] = &entry{
			provider: NewLimited(p, opts.MaxConcurrent),
			breaker:  newBreaker(name, opts.Breaker, &l),
		}
	}
	if len(g.byProvider) == 0 {
		return nil, errors.New("provider gateway: no providers registered")
	}
	if _, ok := g.byProvider[g.defaultProvider]; !ok {
		return nil, fmt.Errorf("provider gateway: default provider %q is not registered", opts.Default)
	}
	return g, nil
}

// Resolve maps a requested name through aliases; unknown or empty names fall
// back to the default provider.
func (g *Gateway) Resolve(name string) string {
	n := normName(name)
	if a, ok := g.aliases[n]; ok {
		n = a
	}
	if _, ok := g.byProvider[n]; ok {
		return n
	}
	return g.defaultProvider
}

// Available is false while the provider's breaker is open.
func (g *Gateway) Available(name string) bool {
	e := g.byProvider[g.Resolve(name)]
	return e != nil && e.breaker.State() != gobreaker.StateOpen
}

// Providers lists the registered provider names.
func (g *Gateway) Providers() []string {
	out := make([]string, 0, len(g.byProvider))
	for name := range g.byProvider {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (g *Gateway) Generate(ctx context.Context, req adapter.GenerateRequest) (*adapter.GenerateResult, error) {
	name := g.Resolve(req.Provider)
	e := g.byProvider[name]
	req.Provider = name

	start := time.Now()
	out, err := e.breaker.Execute(func() (interface{}, error) {
		res, err := e.provider.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		return g.finalize(ctx, req, res)
	})
	metrics.ObserveProviderCall(name, time.Since(start), err == nil)

	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.IncProviderRejected(name, "breaker_open")
			return nil, adapter.NewProviderError(name, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err))
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, adapter.NewProviderError(name, fmt.Errorf("%w: %v", domain.ErrProviderTimeout, err))
		}
		var pe *adapter.ProviderError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, adapter.NewProviderError(name, err)
	}
	return out.(*adapter.GenerateResult), nil
}

// finalize turns a byte-only result into a stored asset with a URL.
func (g *Gateway) finalize(ctx context.Context, req adapter.GenerateRequest, res *adapter.GenerateResult) (*adapter.GenerateResult, error) {
	if res == nil {
		return nil, errors.New("provider returned no result")
	}
	if res.URL != "" {
		return res, nil
	}
	if len(res.Data) == 0 {
		return nil, errors.New("provider returned neither url nor data")
	}
	if g.assets == nil {
		return nil, errors.New("provider returned bytes but no asset store is configured")
	}
	key, err := g.assets.Write(ctx, storage.VideoKey(req.JobID, req.SceneIndex, res.MIMEType), res.Data)
	if err != nil {
		return nil, fmt.Errorf("persist provider output: %w", err)
	}
	res.URL = g.assets.URL(key)
	res.Data = nil
	g.log.Debug().Str("job_id", req.JobID).Str("key", key).Msg("persisted provider output")
	return res, nil
}

func normName(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
