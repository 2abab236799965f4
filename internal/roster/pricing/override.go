// Package pricing resolves the authoritative credit price of a catalogue
// template for a given owner. It has no state of its own; everything it
// knows comes from a Catalogue.
package pricing

import (
	"errors"
	"fmt"
	"time"
)

// ErrDanglingReference 模板或覆盖目标不存在，属于目录数据完整性问题，不重试
var ErrDanglingReference = errors.New("dangling catalogue reference")

// Kind 可定价模板类别
type Kind string

const (
	KindFighter   Kind = "fighter"
	KindEquipment Kind = "equipment"
	KindProfile   Kind = "profile"
	KindAccessory Kind = "accessory"
	KindUpgrade   Kind = "upgrade"
)

// Valid 是否为已知类别
func (k Kind) Valid() bool {
	switch k {
	case KindFighter, KindEquipment, KindProfile, KindAccessory, KindUpgrade:
		return true
	}
	return false
}

// Ref 模板引用
type Ref struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

func (r Ref) String() string {
	return string(r.Kind) + ":" + r.ID
}

// Template 模板的通用默认价
type Template struct {
	Ref       Ref
	Name      string
	Category  string
	BasePrice int
}

// OwnerContext 持有者上下文：战士原型、派系、名册属性
type OwnerContext struct {
	FighterTypeID   string
	FighterCategory string
	FactionID       string
	Attributes      map[string]string
}

// Precedence 覆盖优先级，数值越小优先级越高
type Precedence int

const (
	PrecedenceManual Precedence = iota
	PrecedenceExpansion
	PrecedenceCatalogue
	PrecedenceDefault
)

func (p Precedence) String() string {
	switch p {
	case PrecedenceManual:
		return "manual"
	case PrecedenceExpansion:
		return "expansion"
	case PrecedenceCatalogue:
		return "catalogue"
	case PrecedenceDefault:
		return "default"
	}
	return fmt.Sprintf("precedence(%d)", int(p))
}

// MarshalText renders the precedence name in JSON payloads.
func (p Precedence) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Override is one candidate price for a template. The set of implementations
// is closed: ManualOverride, ScopedExpansionOverride, CatalogueOverride and
// DefaultPrice.
type Override interface {
	precedence() Precedence
	amount() int
	matches(oc OwnerContext) bool
	specificity() int
	created() time.Time
	key() string
}

// ManualOverride 行项/成员上用户手填的价格
type ManualOverride struct {
	Price int
}

func (o ManualOverride) precedence() Precedence    { return PrecedenceManual }
func (o ManualOverride) amount() int               { return o.Price }
func (o ManualOverride) matches(OwnerContext) bool { return true }
func (o ManualOverride) specificity() int          { return 0 }
func (o ManualOverride) created() time.Time        { return time.Time{} }
func (o ManualOverride) key() string               { return "" }

// ScopedExpansionOverride 条件解锁价格：所有非空条件都满足时生效
type ScopedExpansionOverride struct {
	ID              string
	FactionID       *string
	FighterCategory *string
	AttributeKey    *string
	AttributeValue  *string
	Price           int
	CreatedAt       time.Time
}

func (o ScopedExpansionOverride) precedence() Precedence { return PrecedenceExpansion }
func (o ScopedExpansionOverride) amount() int            { return o.Price }
func (o ScopedExpansionOverride) created() time.Time     { return o.CreatedAt }
func (o ScopedExpansionOverride) key() string            { return o.ID }

func (o ScopedExpansionOverride) matches(oc OwnerContext) bool {
	if o.FactionID != nil && *o.FactionID != oc.FactionID {
		return false
	}
	if o.FighterCategory != nil && *o.FighterCategory != oc.FighterCategory {
		return false
	}
	if o.AttributeKey != nil {
		v, ok := oc.Attributes[*o.AttributeKey]
		if !ok {
			return false
		}
		if o.AttributeValue != nil && *o.AttributeValue != v {
			return false
		}
	} else if o.AttributeValue != nil {
		// a value without a key can never be satisfied
		return false
	}
	return true
}

func (o ScopedExpansionOverride) specificity() int {
	return countSet(o.FactionID, o.FighterCategory, o.AttributeKey, o.AttributeValue)
}

// CatalogueOverride 原型或派系专属价格
type CatalogueOverride struct {
	ID            string
	FighterTypeID *string
	FactionID     *string
	Price         int
	CreatedAt     time.Time
}

func (o CatalogueOverride) precedence() Precedence { return PrecedenceCatalogue }
func (o CatalogueOverride) amount() int            { return o.Price }
func (o CatalogueOverride) created() time.Time     { return o.CreatedAt }
func (o CatalogueOverride) key() string            { return o.ID }

func (o CatalogueOverride) matches(oc OwnerContext) bool {
	if o.FighterTypeID != nil && *o.FighterTypeID != oc.FighterTypeID {
		return false
	}
	if o.FactionID != nil && *o.FactionID != oc.FactionID {
		return false
	}
	return true
}

func (o CatalogueOverride) specificity() int {
	return countSet(o.FighterTypeID, o.FactionID)
}

// DefaultPrice 模板通用默认价
type DefaultPrice struct {
	Price int
}

func (o DefaultPrice) precedence() Precedence    { return PrecedenceDefault }
func (o DefaultPrice) amount() int               { return o.Price }
func (o DefaultPrice) matches(OwnerContext) bool { return true }
func (o DefaultPrice) specificity() int          { return 0 }
func (o DefaultPrice) created() time.Time        { return time.Time{} }
func (o DefaultPrice) key() string               { return "" }

func countSet(fields ...*string) int {
	n := 0
	for _, f := range fields {
		if f != nil {
			n++
		}
	}
	return n
}

// outranks reports whether a should win over b.
func outranks(a, b Override) bool {
	if a.precedence() != b.precedence() {
		return a.precedence() < b.precedence()
	}
	if sa, sb := a.specificity(), b.specificity(); sa != sb {
		return sa > sb
	}
	if ca, cb := a.created(), b.created(); !ca.Equal(cb) {
		return ca.After(cb)
	}
	// fully tied rows still need a stable answer
	return a.key() > b.key()
}
