// Package provider adapts upstream market data endpoints into raw tables.
package provider

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cbdata/internal/model"
)

// Dataset names a kind of table a provider can return.
type Dataset string

// Datasets.
const (
	DatasetSnapshot      Dataset = "snapshot"
	DatasetBondList      Dataset = "bond_list"
	DatasetBondHistory   Dataset = "bond_history"
	DatasetValueAnalysis Dataset = "value_analysis"
	DatasetStockHistory  Dataset = "stock_history"
)

// Request parameter names.
const (
	ParamSymbol = "symbol"
	ParamStart  = "start"
	ParamEnd    = "end"
	ParamAdjust = "adjust"
)

// Request is one call against a provider.
type Request struct {
	Dataset Dataset
	Params  map[string]string
	// Timeout is set only for providers that declare SupportsTimeout.
	Timeout time.Duration
}

// Param returns a request parameter or def when absent.
func (r Request) Param(name, def string) string {
	if v, ok := r.Params[name]; ok && v != "" {
		return v
	}
	return def
}

// Capability declares what a provider accepts.
type Capability struct {
	Datasets        []Dataset
	SupportsTimeout bool
	Params          []string
}

// Provider fetches raw tables from one upstream.
type Provider interface {
	ID() string
	Capability() Capability
	Fetch(ctx context.Context, req Request) (*model.Raw, error)
}

// Bound is a provider with its capability resolved once at registration.
type Bound struct {
	p               Provider
	datasets        map[Dataset]bool
	params          map[string]bool
	supportsTimeout bool
}

// Bind resolves p's capability descriptor.
func Bind(p Provider) *Bound {
	c := p.Capability()
	b := &Bound{
		p:               p,
		datasets:        make(map[Dataset]bool, len(c.Datasets)),
		params:          make(map[string]bool, len(c.Params)),
		supportsTimeout: c.SupportsTimeout,
	}
	for _, d := range c.Datasets {
		b.datasets[d] = true
	}
	for _, name := range c.Params {
		b.params[name] = true
	}
	return b
}

// ID returns the provider ID.
func (b *Bound) ID() string { return b.p.ID() }

// Supports reports whether the provider serves ds.
func (b *Bound) Supports(ds Dataset) bool { return b.datasets[ds] }

// Fetch calls the provider with only the parameters it accepts. The timeout
// is applied only when the provider supports one.
func (b *Bound) Fetch(ctx context.Context, ds Dataset, params map[string]string, timeout time.Duration) (*model.Raw, error) {
	if !b.Supports(ds) {
		return nil, eris.Errorf("provider: %s does not serve %s", b.ID(), ds)
	}

	req := Request{Dataset: ds, Params: make(map[string]string, len(params))}
	var dropped []string
	for k, v := range params {
		if b.params[k] {
			req.Params[k] = v
		} else {
			dropped = append(dropped, k)
		}
	}
	if len(dropped) > 0 {
		sort.Strings(dropped)
		zap.L().Debug("dropping unsupported provider params",
			zap.String("component", "provider"),
			zap.String("source", b.ID()),
			zap.Strings("params", dropped),
		)
	}

	if b.supportsTimeout && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
		req.Timeout = timeout
	}

	raw, err := b.p.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		raw.Source = b.ID()
		raw.Dataset = string(ds)
	}
	return raw, nil
}

// Set is the collection of bound providers keyed by ID.
type Set struct {
	bound map[string]*Bound
}

// NewSet binds each provider.
func NewSet(providers ...Provider) *Set {
	s := &Set{bound: make(map[string]*Bound, len(providers))}
	for _, p := range providers {
		s.bound[p.ID()] = Bind(p)
	}
	return s
}

// Get returns the bound provider for id.
func (s *Set) Get(id string) (*Bound, bool) {
	b, ok := s.bound[id]
	return b, ok
}
