package service

import (
	"sync"
	"testing"
	"time"

	"github.com/gyrinx-app/gyrinx-sub001/internal/config"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/entity"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRoster_StartsClean(t *testing.T) {
	f := newFixture(t, config.BalancePolicyClamp)
	r := f.roster(t, 1000)

	got := f.facts(t, RosterNode(r.ID))
	assert.Equal(t, 0, got.Rating)
	assert.Equal(t, 0, got.StashRating)
	assert.Equal(t, 1000, got.Currency)

	stash, err := f.repos.Member.FindStash(f.ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, stash.IsStash)
	f.assertConsistent(t, r.ID)
}

func TestCreateMember_AddsBaseCost(t *testing.T) {
	f := newFixture(t, config.BalancePolicyClamp)
	r := f.roster(t, 0)
	m := f.member(t, r.ID, "ganger")

	assert.Equal(t, 50, f.facts(t, MemberNode(m.ID)).Rating)
	assert.Equal(t, 50, f.facts(t, RosterNode(r.ID)).Rating)
	f.assertConsistent(t, r.ID)
}

func TestCreateMember_DefaultEquipmentIsFree(t *testing.T) {
	f := newFixture(t, config.BalancePolicyClamp)
	r := f.roster(t, 0)
	m := f.member(t, r.ID, "leader")

	tree, err := f.repos.Member.LoadSubtree(f.ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, tree.LineItems, 1)
	assert.True(t, tree.LineItems[0].FromDefault)
	assert.Equal(t, 0, tree.LineItems[0].RatingCurrent)
	assert.Equal(t, 120, f.facts(t, MemberNode(m.ID)).Rating)
	f.assertConsistent(t, r.ID)
}

func TestAttachLineItem_CumulativeUpgradeStack(t *testing.T) {
	f := newFixture(t, config.BalancePolicyClamp)
	r := f.roster(t, 0)
	m := f.member(t, r.ID, "ganger")

	item, err := f.svc.Tree.AttachLineItem(f.ctx, m.ID, &AttachLineItemInput{
		EquipmentID: "servo",
		UpgradeIDs:  []string{"servo-3"},
	})
	require.NoError(t, err)

	assert.Equal(t, 45, f.facts(t, LineItemNode(item.ID)).Rating)
	assert.Equal(t, 95, f.facts(t, MemberNode(m.ID)).Rating)
	assert.Equal(t, 95, f.facts(t, RosterNode(r.ID)).Rating)
	f.assertConsistent(t, r.ID)
}

func TestAttachLineItem_ProfileAndAccessory(t *testing.T) {
	f := newFixture(t, config.BalancePolicyClamp)
	r := f.roster(t, 0)
	m := f.member(t, r.ID, "ganger")

	item, err := f.svc.Tree.AttachLineItem(f.ctx, m.ID, &AttachLineItemInput{
		EquipmentID:  "lasgun",
		ProfileIDs:   []string{"hotshot"},
		AccessoryIDs: []string{"scope"},
	})
	require.NoError(t, err)
	assert.Equal(t, 55+5+15, f.facts(t, LineItemNode(item.ID)).Rating)
	f.assertConsistent(t, r.ID)
}

func TestAttachLineItem_RejectsForeignSelection(t *testing.T) {
	f := newFixture(t, config.BalancePolicyClamp)
	r := f.roster(t, 0)
	m := f.member(t, r.ID, "ganger")

	_, err := f.svc.Tree.AttachLineItem(f.ctx, m.ID, &AttachLineItemInput{
		EquipmentID: "stubber",
		UpgradeIDs:  []string{"servo-1"},
	})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Tree.AttachLineItem(f.ctx, m.ID, &AttachLineItemInput{EquipmentID: "plasma"})
	require.ErrorIs(t, err, ErrDanglingReference)

	// nothing was written
	assert.Equal(t, 50, f.facts(t, RosterNode(r.ID)).Rating)
	f.assertConsistent(t, r.ID)
}

func TestAttachDetach_NoDoubleCount(t *testing.T) {
	f := newFixture(t, config.BalancePolicyClamp)
	r := f.roster(t, 0)
	m := f.member(t, r.ID, "ganger")
	f.attach(t, m.ID, "knife")
	before := f.facts(t, RosterNode(r.ID))
	memberBefore := f.facts(t, MemberNode(m.ID))

	item, err := f.svc.Tree.AttachLineItem(f.ctx, m.ID, &AttachLineItemInput{
		EquipmentID:  "lasgun",
		ProfileIDs:   []string{"hotshot"},
		AccessoryIDs: []string{"scope"},
	})
	require.NoError(t, err)
	assert.Equal(t, before.Rating+75, f.facts(t, RosterNode(r.ID)).Rating)

	require.NoError(t, f.svc.Tree.DetachLineItem(f.ctx, item.ID))
	assert.Equal(t, before, f.facts(t, RosterNode(r.ID)))
	assert.Equal(t, memberBefore, f.facts(t, MemberNode(m.ID)))

	_, err = f.repos.LineItem.FindByID(f.ctx, item.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	f.assertConsistent(t, r.ID)
}

func TestAttachLineItem_LinkedChildIsFree(t *testing.T) {
	f := newFixture(t, config.BalancePolicyClamp)
	r := f.roster(t, 0)
	m := f.member(t, r.ID, "ganger")

	item := f.attach(t, m.ID, "combi")
	children, err := f.repos.LineItem.ListLinkedChildren(f.ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "lasgun", children[0].EquipmentID)
	assert.Equal(t, 0, children[0].RatingCurrent)
	assert.Equal(t, 80, f.facts(t, MemberNode(m.ID)).Rating)

	require.NoError(t, f.svc.Tree.DetachLineItem(f.ctx, item.ID))
	children, err = f.repos.LineItem.ListLinkedChildren(f.ctx, item.ID)
	require.NoError(t, err)
	assert.Empty(t, children)
	assert.Equal(t, 50, f.facts(t, RosterNode(r.ID)).Rating)
	f.assertConsistent(t, r.ID)
}

func TestAttachLineItem_SpawnsMember(t *testing.T) {
	f := newFixture(t, config.BalancePolicyClamp)
	r := f.roster(t, 0)
	m := f.member(t, r.ID, "ganger")

	item := f.attach(t, m.ID, "kennel")
	spawned, err := f.repos.Member.ListSpawnedBy(f.ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, spawned, 1)
	assert.Equal(t, "beast", spawned[0].FighterTypeID)
	assert.Equal(t, 0, spawned[0].RatingCurrent)
	assert.Equal(t, 90, f.facts(t, RosterNode(r.ID)).Rating)
	f.assertConsistent(t, r.ID)

	// a spawned member cannot spawn again
	_, err = f.svc.Tree.AttachLineItem(f.ctx, spawned[0].ID, &AttachLineItemInput{EquipmentID: "kennel"})
	require.ErrorIs(t, err, ErrLinkDepthExceeded)

	require.NoError(t, f.svc.Tree.DetachLineItem(f.ctx, item.ID))
	_, err = f.repos.Member.FindByID(f.ctx, spawned[0].ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Equal(t, 50, f.facts(t, RosterNode(r.ID)).Rating)
	f.assertConsistent(t, r.ID)
}

func TestSetOverride(t *testing.T) {
	f := newFixture(t, config.BalancePolicyClamp)
	r := f.roster(t, 0)
	m := f.member(t, r.ID, "ganger")
	item := f.attach(t, m.ID, "lasgun")

	set := func(target NodeRef, field string, v *int) {
		t.Helper()
		require.NoError(t, f.svc.Tree.SetOverride(f.ctx, &SetOverrideInput{Target: target, Field: field, Value: v}))
	}
	thirty, five, zero := 30, 5, 0

	set(LineItemNode(item.ID), OverrideCost, &thirty)
	assert.Equal(t, 30, f.facts(t, LineItemNode(item.ID)).Rating)
	assert.Equal(t, 80, f.facts(t, RosterNode(r.ID)).Rating)

	set(LineItemNode(item.ID), OverrideTotalCost, &five)
	assert.Equal(t, 55, f.facts(t, RosterNode(r.ID)).Rating)

	set(LineItemNode(item.ID), OverrideTotalCost, nil)
	set(LineItemNode(item.ID), OverrideCost, nil)
	assert.Equal(t, 105, f.facts(t, RosterNode(r.ID)).Rating)

	set(MemberNode(m.ID), OverrideCost, &zero)
	assert.Equal(t, 55, f.facts(t, MemberNode(m.ID)).Rating)
	assert.Equal(t, 55, f.facts(t, RosterNode(r.ID)).Rating)

	err := f.svc.Tree.SetOverride(f.ctx, &SetOverrideInput{Target: MemberNode(m.ID), Field: OverrideTotalCost, Value: &five})
	assert.ErrorIs(t, err, ErrInvalidInput)
	f.assertConsistent(t, r.ID)
}

func TestUpdateComposition(t *testing.T) {
	f := newFixture(t, config.BalancePolicyClamp)
	r := f.roster(t, 0)
	m := f.member(t, r.ID, "ganger")
	item, err := f.svc.Tree.AttachLineItem(f.ctx, m.ID, &AttachLineItemInput{EquipmentID: "servo", UpgradeIDs: []string{"servo-1"}})
	require.NoError(t, err)
	assert.Equal(t, 10, f.facts(t, LineItemNode(item.ID)).Rating)

	require.NoError(t, f.svc.Tree.UpdateComposition(f.ctx, item.ID, &CompositionInput{UpgradeIDs: []string{"servo-2"}}))
	assert.Equal(t, 25, f.facts(t, LineItemNode(item.ID)).Rating)
	assert.Equal(t, 75, f.facts(t, RosterNode(r.ID)).Rating)

	require.NoError(t, f.svc.Tree.UpdateComposition(f.ctx, item.ID, &CompositionInput{}))
	assert.Equal(t, 50, f.facts(t, RosterNode(r.ID)).Rating)
	f.assertConsistent(t, r.ID)
}

func TestStashItemsRouteToStashRating(t *testing.T) {
	f := newFixture(t, config.BalancePolicyClamp)
	r := f.roster(t, 0)
	f.member(t, r.ID, "ganger")
	stash, err := f.repos.Member.FindStash(f.ctx, r.ID)
	require.NoError(t, err)

	f.attach(t, stash.ID, "lasgun")
	got := f.facts(t, RosterNode(r.ID))
	assert.Equal(t, 50, got.Rating)
	assert.Equal(t, 55, got.StashRating)
	assert.Equal(t, 105, got.Wealth())
	f.assertConsistent(t, r.ID)
}

func TestArchiveRestoreMember(t *testing.T) {
	f := newFixture(t, config.BalancePolicyClamp)
	r := f.roster(t, 0)
	keep := f.member(t, r.ID, "ganger")
	m := f.member(t, r.ID, "ganger")
	f.attach(t, m.ID, "lasgun")
	assert.Equal(t, 155, f.facts(t, RosterNode(r.ID)).Rating)

	require.NoError(t, f.svc.Tree.ArchiveMember(f.ctx, m.ID))
	assert.Equal(t, 50, f.facts(t, RosterNode(r.ID)).Rating)
	f.assertConsistent(t, r.ID)

	// changes on an archived member do not reach the roster
	f.attach(t, m.ID, "knife")
	assert.Equal(t, 115, f.facts(t, MemberNode(m.ID)).Rating)
	assert.Equal(t, 50, f.facts(t, RosterNode(r.ID)).Rating)

	require.NoError(t, f.svc.Tree.RestoreMember(f.ctx, m.ID))
	assert.Equal(t, 165, f.facts(t, RosterNode(r.ID)).Rating)
	f.assertConsistent(t, r.ID)

	_ = keep
}

func TestApplyReverseAdvancement(t *testing.T) {
	f := newFixture(t, config.BalancePolicyClamp)
	r := f.roster(t, 0)
	m := f.member(t, r.ID, "ganger")
	require.NoError(t, f.svc.Tree.GrantXP(f.ctx, m.ID, 10))

	_, err := f.svc.Tree.ApplyAdvancement(f.ctx, m.ID, &AdvancementInput{Name: "BS +1", XPCost: 12, CostIncrease: 20})
	require.ErrorIs(t, err, ErrInsufficientXP)

	adv, err := f.svc.Tree.ApplyAdvancement(f.ctx, m.ID, &AdvancementInput{Name: "BS +1", XPCost: 6, CostIncrease: 20})
	require.NoError(t, err)
	assert.Equal(t, 70, f.facts(t, MemberNode(m.ID)).Rating)
	assert.Equal(t, 70, f.facts(t, RosterNode(r.ID)).Rating)
	f.assertConsistent(t, r.ID)

	reloaded, err := f.repos.Member.FindByID(f.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, reloaded.XP)

	require.NoError(t, f.svc.Tree.ReverseAdvancement(f.ctx, adv.ID))
	// reversing twice is a no-op
	require.NoError(t, f.svc.Tree.ReverseAdvancement(f.ctx, adv.ID))
	assert.Equal(t, 50, f.facts(t, RosterNode(r.ID)).Rating)
	reloaded, err = f.repos.Member.FindByID(f.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, reloaded.XP)

	entries, total, err := f.svc.Ledger.List(f.ctx, r.ID, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	kinds := map[string]int{}
	for _, e := range entries {
		kinds[e.Kind] = e.RatingDelta
	}
	assert.Equal(t, 20, kinds[entity.LedgerKindAdvancement])
	assert.Equal(t, -20, kinds[entity.LedgerKindAdvancementReversal])
	f.assertConsistent(t, r.ID)
}

func TestAdjustCurrency(t *testing.T) {
	f := newFixture(t, config.BalancePolicyClamp)
	r := f.roster(t, 30)

	bal, err := f.svc.Tree.AdjustCurrency(f.ctx, r.ID, &AdjustCurrencyInput{Amount: -20, Note: "bribe"})
	require.NoError(t, err)
	assert.Equal(t, 10, bal)

	_, err = f.svc.Tree.AdjustCurrency(f.ctx, r.ID, &AdjustCurrencyInput{Amount: -20})
	require.ErrorIs(t, err, ErrNegativeBalanceRejected)
	assert.Equal(t, 10, f.reload(t, r.ID).CurrencyCurrent)

	allow := newFixture(t, config.BalancePolicyAllow)
	r2 := allow.roster(t, 5)
	bal, err = allow.svc.Tree.AdjustCurrency(allow.ctx, r2.ID, &AdjustCurrencyInput{Amount: -20})
	require.NoError(t, err)
	assert.Equal(t, -15, bal)
}

func TestArchivedRosterRejectsMutations(t *testing.T) {
	f := newFixture(t, config.BalancePolicyClamp)
	r := f.roster(t, 0)
	m := f.member(t, r.ID, "ganger")
	require.NoError(t, f.svc.Tree.ArchiveRoster(f.ctx, r.ID))

	_, err := f.svc.Tree.AttachLineItem(f.ctx, m.ID, &AttachLineItemInput{EquipmentID: "knife"})
	assert.ErrorIs(t, err, ErrRosterArchived)
	_, err = f.svc.Tree.CreateMember(f.ctx, r.ID, &CreateMemberInput{Name: "x", FighterTypeID: "ganger"})
	assert.ErrorIs(t, err, ErrRosterArchived)
}

func TestConcurrentAttach_AddsExactlyOnce(t *testing.T) {
	f := newFixture(t, config.BalancePolicyClamp)
	r := f.roster(t, 0)
	m := f.member(t, r.ID, "ganger")
	before := f.facts(t, MemberNode(m.ID)).Rating

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Tree.AttachLineItem(f.ctx, m.ID, &AttachLineItemInput{EquipmentID: "knife"})
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	assert.Equal(t, before+20, f.facts(t, MemberNode(m.ID)).Rating)
	assert.Equal(t, before+20, f.facts(t, RosterNode(r.ID)).Rating)
	f.assertConsistent(t, r.ID)
}

func TestMutation_LockTimeoutIsRetryable(t *testing.T) {
	f := newFixture(t, config.BalancePolicyClamp, func(c *config.EngineConfig) {
		c.LockTimeout = 50 * time.Millisecond
	})
	r := f.roster(t, 0)
	m := f.member(t, r.ID, "ganger")

	lease, err := f.locker.Acquire(f.ctx, rosterLockKey(r.ID), time.Second)
	require.NoError(t, err)
	_, err = f.svc.Tree.AttachLineItem(f.ctx, m.ID, &AttachLineItemInput{EquipmentID: "knife"})
	require.ErrorIs(t, err, ErrConcurrentModification)
	require.NoError(t, lease.Release(f.ctx))

	f.attach(t, m.ID, "knife")
	assert.Equal(t, 60, f.facts(t, RosterNode(r.ID)).Rating)
}

func TestPropagationEquivalence(t *testing.T) {
	f := newFixture(t, config.BalancePolicyClamp)
	r := f.roster(t, 100)
	a := f.member(t, r.ID, "ganger")
	b := f.member(t, r.ID, "leader")
	gun := f.attach(t, a.ID, "lasgun")
	f.attach(t, a.ID, "combi")
	kennel := f.attach(t, b.ID, "kennel")
	_, err := f.svc.Tree.AttachLineItem(f.ctx, b.ID, &AttachLineItemInput{EquipmentID: "servo", UpgradeIDs: []string{"servo-2"}})
	require.NoError(t, err)
	thirty := 30
	require.NoError(t, f.svc.Tree.SetOverride(f.ctx, &SetOverrideInput{Target: LineItemNode(gun.ID), Field: OverrideCost, Value: &thirty}))
	require.NoError(t, f.svc.Tree.DetachLineItem(f.ctx, kennel.ID))
	require.NoError(t, f.svc.Tree.ArchiveMember(f.ctx, a.ID))
	require.NoError(t, f.svc.Tree.RestoreMember(f.ctx, a.ID))

	cached := f.facts(t, RosterNode(r.ID))
	fresh, err := f.svc.Facts.Recompute(f.ctx, RosterNode(r.ID), false)
	require.NoError(t, err)
	assert.Equal(t, fresh.Rating, cached.Rating)
	assert.Equal(t, fresh.StashRating, cached.StashRating)
	f.assertConsistent(t, r.ID)
}

func TestPropagation_StaleAncestorFallsBack(t *testing.T) {
	f := newFixture(t, config.BalancePolicyClamp)
	r := f.roster(t, 0)
	m := f.member(t, r.ID, "ganger")
	f.attach(t, m.ID, "lasgun")

	f.corrupt(t, &entity.Member{}, m.ID, 999, true)
	f.corrupt(t, &entity.Roster{}, r.ID, 999, true)

	f.attach(t, m.ID, "knife")
	assert.Equal(t, 115, f.facts(t, MemberNode(m.ID)).Rating)
	assert.Equal(t, 115, f.facts(t, RosterNode(r.ID)).Rating)
	f.assertConsistent(t, r.ID)
}

func TestUpdaterConflict(t *testing.T) {
	u := &unitOfWork{claims: make(map[NodeRef]Updater)}
	node := MemberNode("m1")
	require.NoError(t, u.claim(node, UpdaterPropagation))
	require.NoError(t, u.claim(node, UpdaterPropagation))
	require.ErrorIs(t, u.claim(node, UpdaterRecompute), ErrUpdaterConflict)
	require.NoError(t, u.claim(MemberNode("m2"), UpdaterReconciler))
}
