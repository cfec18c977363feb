package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Strob0t/concierge/internal/adapter/otel"
	"github.com/Strob0t/concierge/internal/config"
	"github.com/Strob0t/concierge/internal/port/cache"
	"github.com/Strob0t/concierge/internal/port/database"
	"github.com/Strob0t/concierge/internal/port/toolprovider"
	"github.com/Strob0t/concierge/internal/resilience"
)

const bindingsKeyPrefix = "bindings/"

type capabilityKey struct {
	provider string
	domain   toolprovider.Domain
}

// ToolRegistry dispatches tool calls to the capability bound to the
// caller's tenant. It holds no risk policy and persists nothing.
type ToolRegistry struct {
	domains      map[string]toolprovider.Domain
	capabilities map[capabilityKey]toolprovider.Capability
	specs        []toolprovider.ToolSpec
	defaults     map[toolprovider.Domain]string
	breakers     map[string]*resilience.Breaker
	bindings     database.BindingStore
	cache        cache.Cache
	cacheTTL     time.Duration
}

// NewToolRegistry indexes caps by tool name. A tool name must belong to a
// single domain, and a provider may serve a domain only once.
func NewToolRegistry(
	caps []toolprovider.Capability,
	bindings database.BindingStore,
	c cache.Cache,
	providers config.Providers,
	breakerCfg config.Breaker,
	cacheTTL time.Duration,
) (*ToolRegistry, error) {
	r := &ToolRegistry{
		domains:      make(map[string]toolprovider.Domain),
		capabilities: make(map[capabilityKey]toolprovider.Capability),
		defaults:     make(map[toolprovider.Domain]string, len(providers.Default)),
		breakers:     make(map[string]*resilience.Breaker),
		bindings:     bindings,
		cache:        c,
		cacheTTL:     cacheTTL,
	}
	for d, p := range providers.Default {
		r.defaults[toolprovider.Domain(d)] = p
	}

	for _, cp := range caps {
		key := capabilityKey{provider: cp.Provider(), domain: cp.Domain()}
		if _, dup := r.capabilities[key]; dup {
			return nil, fmt.Errorf("provider %s registered twice for %s", key.provider, key.domain)
		}
		r.capabilities[key] = cp

		for _, spec := range cp.Tools() {
			if d, ok := r.domains[spec.Name]; ok {
				if d != key.domain {
					return nil, fmt.Errorf("tool %s served by both %s and %s", spec.Name, d, key.domain)
				}
				continue
			}
			r.domains[spec.Name] = key.domain
			r.specs = append(r.specs, spec)
		}

		if _, ok := r.breakers[key.provider]; !ok {
			r.breakers[key.provider] = resilience.NewBreaker(breakerCfg.MaxFailures, breakerCfg.Timeout,
				resilience.WithFailurePredicate(countsAsOutage))
		}
	}
	return r, nil
}

// countsAsOutage reports whether err says something about provider health.
func countsAsOutage(err error) bool {
	return !toolprovider.IsPermanent(err) &&
		!errors.Is(err, toolprovider.ErrToolNotFound) &&
		!errors.Is(err, context.Canceled)
}

// Specs returns every known tool, sorted by name.
func (r *ToolRegistry) Specs() []toolprovider.ToolSpec {
	out := slices.Clone(r.specs)
	slices.SortFunc(out, func(a, b toolprovider.ToolSpec) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Has reports whether any capability serves tool.
func (r *ToolRegistry) Has(tool string) bool {
	_, ok := r.domains[tool]
	return ok
}

// Execute runs call on the capability bound to call.TenantID. Unknown
// tools fail with ErrToolNotFound; everything else a provider reports
// surfaces as an *toolprovider.ExecutionError.
func (r *ToolRegistry) Execute(ctx context.Context, call toolprovider.Call) (*toolprovider.Result, error) {
	domain, ok := r.domains[call.Tool]
	if !ok {
		return nil, fmt.Errorf("%s: %w", call.Tool, toolprovider.ErrToolNotFound)
	}

	provider, err := r.providerFor(ctx, call.TenantID, domain)
	if err != nil {
		return nil, &toolprovider.ExecutionError{Tool: call.Tool, Message: "the service is unavailable", Err: err}
	}
	cp, ok := r.capabilities[capabilityKey{provider: provider, domain: domain}]
	if !ok {
		return nil, fmt.Errorf("%s: provider %q is not available for %s: %w", call.Tool, provider, domain, toolprovider.ErrToolNotFound)
	}

	ctx, span := otel.StartToolCallSpan(ctx, call.Tool, provider)
	var res *toolprovider.Result
	err = r.breakers[provider].Execute(func() error {
		var execErr error
		res, execErr = cp.Execute(ctx, call)
		return execErr
	})
	otel.EndSpan(span, err)

	if err != nil {
		slog.WarnContext(ctx, "tool call failed",
			"tool", call.Tool,
			"provider", provider,
			"tenant_id", call.TenantID,
			"error", err,
		)
		return nil, asExecutionError(call.Tool, err)
	}
	if res == nil {
		res = &toolprovider.Result{}
	}
	return res, nil
}

func asExecutionError(tool string, err error) error {
	var ee *toolprovider.ExecutionError
	switch {
	case errors.As(err, &ee), errors.Is(err, toolprovider.ErrToolNotFound):
		return err
	case errors.Is(err, resilience.ErrCircuitOpen):
		return &toolprovider.ExecutionError{Tool: tool, Message: "the service is temporarily unavailable", Err: err}
	}
	return &toolprovider.ExecutionError{Tool: tool, Message: "the service did not respond", Err: err}
}

// providerFor resolves the tenant's binding for domain, falling back to the
// configured default.
func (r *ToolRegistry) providerFor(ctx context.Context, tenantID string, domain toolprovider.Domain) (string, error) {
	bindings, err := r.tenantBindings(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if p, ok := bindings[domain]; ok && p != "" {
		return p, nil
	}
	if p, ok := r.defaults[domain]; ok && p != "" {
		return p, nil
	}
	return "", fmt.Errorf("no provider bound for %s", domain)
}

func (r *ToolRegistry) tenantBindings(ctx context.Context, tenantID string) (map[toolprovider.Domain]string, error) {
	if r.bindings == nil {
		return nil, nil
	}
	key := bindingsKeyPrefix + tenantID
	if r.cache != nil {
		if b, ok, err := cache.GetJSON[map[toolprovider.Domain]string](ctx, r.cache, key); err == nil && ok {
			return b, nil
		}
	}

	b, err := r.bindings.GetTenantBindings(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load provider bindings: %w", err)
	}
	if b == nil {
		b = map[toolprovider.Domain]string{}
	}
	if r.cache != nil {
		if err := cache.SetJSON(ctx, r.cache, key, b, r.cacheTTL); err != nil {
			slog.Warn("cache provider bindings", "tenant_id", tenantID, "error", err)
		}
	}
	return b, nil
}

// Bind points tenantID's domain at provider and drops the cached bindings.
func (r *ToolRegistry) Bind(ctx context.Context, tenantID string, domain toolprovider.Domain, provider string) error {
	if _, ok := r.capabilities[capabilityKey{provider: provider, domain: domain}]; !ok {
		return fmt.Errorf("provider %q does not serve %s: %w", provider, domain, toolprovider.ErrToolNotFound)
	}
	if err := r.bindings.SetTenantBinding(ctx, tenantID, domain, provider); err != nil {
		return err
	}
	if r.cache != nil {
		if err := r.cache.Delete(ctx, bindingsKeyPrefix+tenantID); err != nil {
			slog.Warn("invalidate provider bindings", "tenant_id", tenantID, "error", err)
		}
	}
	return nil
}

// BreakerStates returns the circuit state per provider.
func (r *ToolRegistry) BreakerStates() map[string]string {
	out := make(map[string]string, len(r.breakers))
	for p, b := range r.breakers {
		out[p] = b.State()
	}
	return out
}
