package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

var lasgun = Ref{Kind: KindEquipment, ID: "lasgun"}

func TestResolve_BaseDefault(t *testing.T) {
	cat := NewStaticCatalogue().AddTemplate(lasgun, 55)
	r := NewResolver(cat)

	for _, oc := range []OwnerContext{
		{},
		{FighterTypeID: "ganger", FactionID: "goliath"},
		{FactionID: "escher", Attributes: map[string]string{"alignment": "outlaw"}},
	} {
		res, err := r.Resolve(context.Background(), lasgun, oc, nil)
		require.NoError(t, err)
		assert.Equal(t, 55, res.Price)
		assert.Equal(t, PrecedenceDefault, res.Source)
	}
}

func TestResolve_ManualBeatsCatalogueOverride(t *testing.T) {
	cat := NewStaticCatalogue().
		AddTemplate(lasgun, 55).
		AddOverride(lasgun, CatalogueOverride{ID: "o1", FactionID: strp("goliath"), Price: 45})
	r := NewResolver(cat)
	oc := OwnerContext{FighterTypeID: "ganger", FactionID: "goliath"}

	res, err := r.Resolve(context.Background(), lasgun, oc, intp(30))
	require.NoError(t, err)
	assert.Equal(t, 30, res.Price)
	assert.Equal(t, PrecedenceManual, res.Source)

	res, err = r.Resolve(context.Background(), lasgun, oc, nil)
	require.NoError(t, err)
	assert.Equal(t, 45, res.Price)
	assert.Equal(t, PrecedenceCatalogue, res.Source)
	assert.Equal(t, "o1", res.OverrideID)

	// other factions still see the default
	res, err = r.Resolve(context.Background(), lasgun, OwnerContext{FactionID: "escher"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 55, res.Price)
}

func TestResolve_ManualZeroIsAnOverride(t *testing.T) {
	cat := NewStaticCatalogue().AddTemplate(lasgun, 55)
	price, err := NewResolver(cat).Price(context.Background(), lasgun, OwnerContext{}, intp(0))
	require.NoError(t, err)
	assert.Equal(t, 0, price)
}

func TestResolve_ExpansionBeatsCatalogueOverride(t *testing.T) {
	cat := NewStaticCatalogue().
		AddTemplate(lasgun, 55).
		AddOverride(lasgun, CatalogueOverride{ID: "o1", FighterTypeID: strp("ganger"), FactionID: strp("goliath"), Price: 45}).
		AddExpansion(lasgun, ScopedExpansionOverride{ID: "x1", AttributeKey: strp("alignment"), AttributeValue: strp("outlaw"), Price: 40})
	r := NewResolver(cat)

	outlaw := OwnerContext{FighterTypeID: "ganger", FactionID: "goliath", Attributes: map[string]string{"alignment": "outlaw"}}
	res, err := r.Resolve(context.Background(), lasgun, outlaw, nil)
	require.NoError(t, err)
	assert.Equal(t, 40, res.Price)
	assert.Equal(t, PrecedenceExpansion, res.Source)

	lawful := OwnerContext{FighterTypeID: "ganger", FactionID: "goliath", Attributes: map[string]string{"alignment": "law_abiding"}}
	res, err = r.Resolve(context.Background(), lasgun, lawful, nil)
	require.NoError(t, err)
	assert.Equal(t, 45, res.Price)
}

func TestResolve_MostSpecificWins(t *testing.T) {
	cat := NewStaticCatalogue().
		AddTemplate(lasgun, 55).
		AddOverride(lasgun, CatalogueOverride{ID: "faction", FactionID: strp("goliath"), Price: 45}).
		AddOverride(lasgun, CatalogueOverride{ID: "both", FighterTypeID: strp("ganger"), FactionID: strp("goliath"), Price: 35})
	r := NewResolver(cat)

	res, err := r.Resolve(context.Background(), lasgun, OwnerContext{FighterTypeID: "ganger", FactionID: "goliath"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 35, res.Price)
	assert.Equal(t, "both", res.OverrideID)

	res, err = r.Resolve(context.Background(), lasgun, OwnerContext{FighterTypeID: "leader", FactionID: "goliath"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 45, res.Price)
}

func TestResolve_EqualSpecificityNewestWins(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)
	cat := NewStaticCatalogue().
		AddTemplate(lasgun, 55).
		AddOverride(lasgun, CatalogueOverride{ID: "new", FactionID: strp("goliath"), Price: 50, CreatedAt: newer}).
		AddOverride(lasgun, CatalogueOverride{ID: "old", FighterTypeID: strp("ganger"), Price: 40, CreatedAt: older})

	res, err := NewResolver(cat).Resolve(context.Background(), lasgun, OwnerContext{FighterTypeID: "ganger", FactionID: "goliath"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 50, res.Price)
	assert.Equal(t, "new", res.OverrideID)
}

func TestResolve_DanglingTemplate(t *testing.T) {
	cat := NewStaticCatalogue()
	_, err := NewResolver(cat).Resolve(context.Background(), lasgun, OwnerContext{}, nil)
	require.ErrorIs(t, err, ErrDanglingReference)

	// a manual price does not hide a missing template
	_, err = NewResolver(cat).Resolve(context.Background(), lasgun, OwnerContext{}, intp(10))
	require.ErrorIs(t, err, ErrDanglingReference)
}

func TestResolve_Idempotent(t *testing.T) {
	cat := NewStaticCatalogue().
		AddTemplate(lasgun, 55).
		AddOverride(lasgun, CatalogueOverride{ID: "a", FactionID: strp("goliath"), Price: 45}).
		AddOverride(lasgun, CatalogueOverride{ID: "b", FactionID: strp("goliath"), Price: 47})
	r := NewResolver(cat)
	oc := OwnerContext{FactionID: "goliath"}

	first, err := r.Resolve(context.Background(), lasgun, oc, nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := r.Resolve(context.Background(), lasgun, oc, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestExpansionMatching(t *testing.T) {
	o := ScopedExpansionOverride{FactionID: strp("escher"), FighterCategory: strp("juve"), AttributeKey: strp("alignment")}
	assert.Equal(t, 3, o.specificity())
	assert.True(t, o.matches(OwnerContext{FactionID: "escher", FighterCategory: "juve", Attributes: map[string]string{"alignment": "any"}}))
	assert.False(t, o.matches(OwnerContext{FactionID: "escher", FighterCategory: "juve"}))
	assert.False(t, o.matches(OwnerContext{FactionID: "escher", FighterCategory: "leader", Attributes: map[string]string{"alignment": "any"}}))

	valueOnly := ScopedExpansionOverride{AttributeValue: strp("outlaw")}
	assert.False(t, valueOnly.matches(OwnerContext{Attributes: map[string]string{"alignment": "outlaw"}}))
}

func TestOverlay_SubstitutesOldPrice(t *testing.T) {
	cat := NewStaticCatalogue().
		AddTemplate(lasgun, 70).
		AddOverride(lasgun, CatalogueOverride{ID: "o1", FactionID: strp("goliath"), Price: 60})

	before := NewResolver(Overlay(cat, Substitution{Target: lasgun, Price: 50}))
	price, err := before.Price(context.Background(), lasgun, OwnerContext{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 50, price)

	before = NewResolver(Overlay(cat, Substitution{Target: lasgun, OverrideID: "o1", Price: 40}))
	price, err = before.Price(context.Background(), lasgun, OwnerContext{FactionID: "goliath"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 40, price)

	// the live catalogue is untouched
	price, err = NewResolver(cat).Price(context.Background(), lasgun, OwnerContext{FactionID: "goliath"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 60, price)
}

func TestOverlay_HidesNewOverride(t *testing.T) {
	cat := NewStaticCatalogue().
		AddTemplate(lasgun, 50).
		AddOverride(lasgun, CatalogueOverride{ID: "older", FighterTypeID: strp("ganger"), Price: 45}).
		AddOverride(lasgun, CatalogueOverride{ID: "fresh", FighterTypeID: strp("ganger"), FactionID: strp("goliath"), Price: 70})
	oc := OwnerContext{FighterTypeID: "ganger", FactionID: "goliath"}

	price, err := NewResolver(cat).Price(context.Background(), lasgun, oc, nil)
	require.NoError(t, err)
	assert.Equal(t, 70, price)

	// 新覆盖之前：回落到下一条匹配的覆盖，而不是模板默认价
	before := NewResolver(Overlay(cat, Substitution{Target: lasgun, OverrideID: "fresh", Hide: true}))
	price, err = before.Price(context.Background(), lasgun, oc, nil)
	require.NoError(t, err)
	assert.Equal(t, 45, price)

	price, err = before.Price(context.Background(), lasgun, OwnerContext{FactionID: "orlock"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 50, price)
}

type countingCatalogue struct {
	Catalogue
	templateCalls int
}

func (c *countingCatalogue) Template(ctx context.Context, ref Ref) (Template, bool, error) {
	c.templateCalls++
	return c.Catalogue.Template(ctx, ref)
}

func TestMemoize(t *testing.T) {
	inner := &countingCatalogue{Catalogue: NewStaticCatalogue().AddTemplate(lasgun, 55)}
	r := NewResolver(Memoize(inner))
	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), lasgun, OwnerContext{}, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, inner.templateCalls)
}
