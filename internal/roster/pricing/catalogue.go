package pricing

import (
	"context"
	"sync"
)

// StaticCatalogue 内存目录，用于测试与离线计算
type StaticCatalogue struct {
	mu         sync.RWMutex
	templates  map[Ref]Template
	overrides  map[Ref][]CatalogueOverride
	expansions map[Ref][]ScopedExpansionOverride
}

func NewStaticCatalogue() *StaticCatalogue {
	return &StaticCatalogue{
		templates:  make(map[Ref]Template),
		overrides:  make(map[Ref][]CatalogueOverride),
		expansions: make(map[Ref][]ScopedExpansionOverride),
	}
}

func (c *StaticCatalogue) AddTemplate(ref Ref, basePrice int) *StaticCatalogue {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates[ref] = Template{Ref: ref, BasePrice: basePrice}
	return c
}

func (c *StaticCatalogue) AddOverride(ref Ref, o CatalogueOverride) *StaticCatalogue {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[ref] = append(c.overrides[ref], o)
	return c
}

func (c *StaticCatalogue) AddExpansion(ref Ref, o ScopedExpansionOverride) *StaticCatalogue {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expansions[ref] = append(c.expansions[ref], o)
	return c
}

func (c *StaticCatalogue) Template(_ context.Context, ref Ref) (Template, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[ref]
	return t, ok, nil
}

func (c *StaticCatalogue) CatalogueOverrides(_ context.Context, ref Ref) ([]CatalogueOverride, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]CatalogueOverride(nil), c.overrides[ref]...), nil
}

func (c *StaticCatalogue) ExpansionOverrides(_ context.Context, ref Ref) ([]ScopedExpansionOverride, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ScopedExpansionOverride(nil), c.expansions[ref]...), nil
}

// Memoize caches catalogue reads for the lifetime of the returned value.
// Use one per request so that a full recompute of a large roster does not
// hit the store once per line item.
func Memoize(cat Catalogue) Catalogue {
	if _, ok := cat.(*memo); ok {
		return cat
	}
	return &memo{
		inner:      cat,
		templates:  make(map[Ref]memoTemplate),
		overrides:  make(map[Ref][]CatalogueOverride),
		expansions: make(map[Ref][]ScopedExpansionOverride),
	}
}

type memoTemplate struct {
	tpl Template
	ok  bool
}

type memo struct {
	inner      Catalogue
	mu         sync.Mutex
	templates  map[Ref]memoTemplate
	overrides  map[Ref][]CatalogueOverride
	expansions map[Ref][]ScopedExpansionOverride
}

func (m *memo) Template(ctx context.Context, ref Ref) (Template, bool, error) {
	m.mu.Lock()
	if t, hit := m.templates[ref]; hit {
		m.mu.Unlock()
		return t.tpl, t.ok, nil
	}
	m.mu.Unlock()

	tpl, ok, err := m.inner.Template(ctx, ref)
	if err != nil {
		return Template{}, false, err
	}
	m.mu.Lock()
	m.templates[ref] = memoTemplate{tpl: tpl, ok: ok}
	m.mu.Unlock()
	return tpl, ok, nil
}

func (m *memo) CatalogueOverrides(ctx context.Context, ref Ref) ([]CatalogueOverride, error) {
	m.mu.Lock()
	if list, hit := m.overrides[ref]; hit {
		m.mu.Unlock()
		return list, nil
	}
	m.mu.Unlock()

	list, err := m.inner.CatalogueOverrides(ctx, ref)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []CatalogueOverride{}
	}
	m.mu.Lock()
	m.overrides[ref] = list
	m.mu.Unlock()
	return list, nil
}

func (m *memo) ExpansionOverrides(ctx context.Context, ref Ref) ([]ScopedExpansionOverride, error) {
	m.mu.Lock()
	if list, hit := m.expansions[ref]; hit {
		m.mu.Unlock()
		return list, nil
	}
	m.mu.Unlock()

	list, err := m.inner.ExpansionOverrides(ctx, ref)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []ScopedExpansionOverride{}
	}
	m.mu.Lock()
	m.expansions[ref] = list
	m.mu.Unlock()
	return list, nil
}

// Substitution 价格替换：OverrideID 为空时替换模板默认价，否则替换该覆盖记录的价格。
// Hide 为 true 时该覆盖记录从视图中消失（新建覆盖之前的目录）
type Substitution struct {
	Target     Ref
	OverrideID string
	Price      int
	Hide       bool
}

// Overlay returns a view of cat in which sub's record carries sub.Price,
// or is absent when sub.Hide is set. The reconciler prices a tree against
// the catalogue as it was before an edit by overlaying the old state on the
// live catalogue.
func Overlay(cat Catalogue, sub Substitution) Catalogue {
	return &overlay{inner: cat, sub: sub}
}

type overlay struct {
	inner Catalogue
	sub   Substitution
}

func (o *overlay) Template(ctx context.Context, ref Ref) (Template, bool, error) {
	tpl, ok, err := o.inner.Template(ctx, ref)
	if err != nil || !ok {
		return tpl, ok, err
	}
	if o.sub.OverrideID == "" && ref == o.sub.Target {
		tpl.BasePrice = o.sub.Price
	}
	return tpl, ok, nil
}

func (o *overlay) CatalogueOverrides(ctx context.Context, ref Ref) ([]CatalogueOverride, error) {
	list, err := o.inner.CatalogueOverrides(ctx, ref)
	if err != nil || o.sub.OverrideID == "" || ref != o.sub.Target {
		return list, err
	}
	out := make([]CatalogueOverride, 0, len(list))
	for _, co := range list {
		if co.ID == o.sub.OverrideID {
			if o.sub.Hide {
				continue
			}
			co.Price = o.sub.Price
		}
		out = append(out, co)
	}
	return out, nil
}

func (o *overlay) ExpansionOverrides(ctx context.Context, ref Ref) ([]ScopedExpansionOverride, error) {
	list, err := o.inner.ExpansionOverrides(ctx, ref)
	if err != nil || o.sub.OverrideID == "" || ref != o.sub.Target {
		return list, err
	}
	out := make([]ScopedExpansionOverride, 0, len(list))
	for _, eo := range list {
		if eo.ID == o.sub.OverrideID {
			if o.sub.Hide {
				continue
			}
			eo.Price = o.sub.Price
		}
		out = append(out, eo)
	}
	return out, nil
}
