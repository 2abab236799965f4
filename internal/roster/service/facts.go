package service

// NodeKind 成本树节点类型
type NodeKind string

const (
	NodeRoster   NodeKind = "roster"
	NodeMember   NodeKind = "member"
	NodeLineItem NodeKind = "line_item"
)

// NodeRef 成本树节点
type NodeRef struct {
	Kind NodeKind `json:"kind"`
	ID   string   `json:"id"`
}

func (n NodeRef) String() string {
	return string(n.Kind) + ":" + n.ID
}

func RosterNode(id string) NodeRef   { return NodeRef{Kind: NodeRoster, ID: id} }
func MemberNode(id string) NodeRef   { return NodeRef{Kind: NodeMember, ID: id} }
func LineItemNode(id string) NodeRef { return NodeRef{Kind: NodeLineItem, ID: id} }

// Facts 节点缓存值；StashRating 与 Currency 仅对名册有意义
type Facts struct {
	Rating      int  `json:"rating"`
	StashRating int  `json:"stash_rating"`
	Currency    int  `json:"currency"`
	Dirty       bool `json:"dirty"`
}

// Wealth = rating + stash_rating + currency
func (f Facts) Wealth() int {
	return f.Rating + f.StashRating + f.Currency
}

// RatingView 查询接口返回值
// Recalculating 为 true 时数值不可用（缓存已脏且不允许回退重算）
type RatingView struct {
	ID            string `json:"id"`
	Rating        int    `json:"rating"`
	StashRating   int    `json:"stash_rating,omitempty"`
	Currency      int    `json:"currency,omitempty"`
	Wealth        int    `json:"wealth,omitempty"`
	Recalculating bool   `json:"recalculating"`
	Source        string `json:"source"` // cache / recompute
}

func viewOf(id string, f Facts, source string) *RatingView {
	return &RatingView{
		ID:          id,
		Rating:      f.Rating,
		StashRating: f.StashRating,
		Currency:    f.Currency,
		Wealth:      f.Wealth(),
		Source:      source,
	}
}
