package pricing

import (
	"context"
	"fmt"
)

// Catalogue is the read side of the content catalogue. Template reports
// ok=false when the template does not exist.
type Catalogue interface {
	Template(ctx context.Context, ref Ref) (tpl Template, ok bool, err error)
	CatalogueOverrides(ctx context.Context, ref Ref) ([]CatalogueOverride, error)
	ExpansionOverrides(ctx context.Context, ref Ref) ([]ScopedExpansionOverride, error)
}

// Resolution 解析结果
type Resolution struct {
	Price      int        `json:"price"`
	Source     Precedence `json:"source"`
	OverrideID string     `json:"override_id,omitempty"`
}

// Resolver 价格解析器
type Resolver struct {
	cat Catalogue
}

func NewResolver(cat Catalogue) *Resolver {
	return &Resolver{cat: cat}
}

// With returns a resolver over a different catalogue.
func (r *Resolver) With(cat Catalogue) *Resolver {
	return &Resolver{cat: cat}
}

// Resolve picks the winning price for ref. manual is the per-item manual
// override, nil when the user has not set one. The template must exist even
// when a manual price wins.
func (r *Resolver) Resolve(ctx context.Context, ref Ref, oc OwnerContext, manual *int) (Resolution, error) {
	tpl, ok, err := r.cat.Template(ctx, ref)
	if err != nil {
		return Resolution{}, fmt.Errorf("load template %s: %w", ref, err)
	}
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", ErrDanglingReference, ref)
	}

	var best Override = DefaultPrice{Price: tpl.BasePrice}
	consider := func(o Override) {
		if o.matches(oc) && outranks(o, best) {
			best = o
		}
	}

	if manual != nil {
		consider(ManualOverride{Price: *manual})
	}
	expansions, err := r.cat.ExpansionOverrides(ctx, ref)
	if err != nil {
		return Resolution{}, fmt.Errorf("load expansion overrides %s: %w", ref, err)
	}
	for _, o := range expansions {
		consider(o)
	}
	overrides, err := r.cat.CatalogueOverrides(ctx, ref)
	if err != nil {
		return Resolution{}, fmt.Errorf("load catalogue overrides %s: %w", ref, err)
	}
	for _, o := range overrides {
		consider(o)
	}

	return Resolution{Price: best.amount(), Source: best.precedence(), OverrideID: best.key()}, nil
}

// Price is Resolve without the provenance.
func (r *Resolver) Price(ctx context.Context, ref Ref, oc OwnerContext, manual *int) (int, error) {
	res, err := r.Resolve(ctx, ref, oc, manual)
	if err != nil {
		return 0, err
	}
	return res.Price, nil
}
