// Provider-chain resolution.
//
// A capability is a named fact type ("jobinfo", "lfsstatus"); a provider is one pluggable backend
// implementation of that capability.  Sites configure an ordered fallback list of provider names
// per capability, and a chain resolve walks that list: the first provider to answer wins and later
// ones are never invoked.  A provider with nothing to say returns ErrNoData and the chain moves
// on; a provider that fails fatally (backend down, bad credentials) is recorded and the chain
// *still* moves on - one backend being down must not block the others.  Only when every provider
// has been tried without success does the chain report ErrNotFound, with the individual outcomes
// attached as diagnostics rather than swallowed.

package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"iostitch/common"
	"iostitch/errs"
)

// Request carries the parameters of a capability request as a flat string map ("jobid", "filesystem",
// "time", ...).  Uniform across capabilities so that registries and transports need no per-capability
// knowledge.
type Request map[string]string

// Provider is one backend implementation of a capability.  Resolve returns the capability-specific
// result value, errs.ErrNoData when the backend simply has no record (benign), or any other error
// for a fatal backend fault.  Providers are stateless as far as this package is concerned.
type Provider interface {
	Resolve(ctx context.Context, req Request) (any, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, req Request) (any, error)

func (f ProviderFunc) Resolve(ctx context.Context, req Request) (any, error) {
	return f(ctx, req)
}

// Outcome records how one provider in a chain responded; the full list gives a query its
// provenance trail.
type Outcome struct {
	Provider string
	Err      error // nil on success
}

func (o Outcome) String() string {
	if o.Err == nil {
		return o.Provider + ": ok"
	}
	return fmt.Sprintf("%s: %v", o.Provider, o.Err)
}

// Result is a successful chain resolution: the value plus the name of the provider that answered.
type Result struct {
	Value    any
	Provider string
}

type Registry struct {
	mu sync.Mutex
	// capability -> provider name -> implementation
	caps map[string]map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]map[string]Provider)}
}

func (r *Registry) Register(capability, name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byName, found := r.caps[capability]
	if !found {
		byName = make(map[string]Provider)
		r.caps[capability] = byName
	}
	byName[name] = p
}

func (r *Registry) Lookup(capability, name string) (Provider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, found := r.caps[capability][name]
	return p, found
}

// ChainResolve tries the named providers in order.  Providers run strictly sequentially: once one
// succeeds the rest are never invoked, sparing live backends.  A configured name with no
// registered implementation is a ConfigError, not a skip.  On exhaustion the returned error wraps
// ErrNotFound together with every individual failure.  The outcome list is returned in all cases.
func (r *Registry) ChainResolve(
	ctx context.Context,
	capability string,
	names []string,
	req Request,
) (*Result, []Outcome, error) {
	if len(names) == 0 {
		return nil, nil, errs.Configuration("no providers configured for capability %q", capability)
	}
	outcomes := make([]Outcome, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, outcomes, errs.Cancellation(err)
		}
		p, found := r.Lookup(capability, name)
		if !found {
			return nil, outcomes, errs.Configuration(
				"provider %q configured for capability %q is not registered", name, capability)
		}
		value, err := p.Resolve(ctx, req)
		if err == nil {
			outcomes = append(outcomes, Outcome{Provider: name})
			return &Result{Value: value, Provider: name}, outcomes, nil
		}
		if cerr := errs.Cancellation(err); cerr != err {
			return nil, outcomes, cerr
		}
		outcomes = append(outcomes, Outcome{Provider: name, Err: err})
		common.Log.Infof("capability %s: provider %s: %v", capability, name, err)
	}
	agg := multierror.Append(nil, errs.ErrNotFound)
	for _, o := range outcomes {
		agg = multierror.Append(agg, fmt.Errorf("%s: %w", o.Provider, o.Err))
	}
	return nil, outcomes, agg.ErrorOrNil()
}
