package service

import (
	"context"
	"testing"

	"github.com/gyrinx-app/gyrinx-sub001/internal/config"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/entity"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/pricing"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/repository"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/testutil"
	"github.com/gyrinx-app/gyrinx-sub001/internal/shared/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	ctx    context.Context
	db     *gorm.DB
	repos  *repository.Repositories
	locker *lock.LocalLocker
	svc    *Services
}

func newFixture(t *testing.T, policy string, tweak ...func(*config.EngineConfig)) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	cfg := testutil.EngineConfig(policy)
	for _, fn := range tweak {
		fn(&cfg)
	}
	repos := repository.NewRepositories(db)
	locker := lock.NewLocalLocker()
	f := &fixture{
		ctx:    context.Background(),
		db:     db,
		repos:  repos,
		locker: locker,
		svc:    NewServices(repos, locker, cfg, zap.NewNop(), nil),
	}

	testutil.SeedStashType(t, db)
	testutil.SeedFighterType(t, db, "ganger", "Ganger", "ganger", 50)
	testutil.SeedFighterType(t, db, "leader", "Leader", "leader", 120)
	testutil.SeedFighterType(t, db, "beast", "Beast", "exotic_beast", 80)
	testutil.SeedEquipment(t, db, "lasgun", "Lasgun", 55)
	testutil.SeedProfile(t, db, "hotshot", "lasgun", 5)
	testutil.SeedAccessory(t, db, "scope", 15)
	testutil.SeedEquipment(t, db, "stubber", "Stub gun", 50)
	testutil.SeedEquipment(t, db, "knife", "Fighting knife", 10)
	testutil.SeedEquipment(t, db, "servo", "Servo arm", 0)
	testutil.SeedUpgrade(t, db, "servo-1", "servo", 0, 10)
	testutil.SeedUpgrade(t, db, "servo-2", "servo", 1, 15)
	testutil.SeedUpgrade(t, db, "servo-3", "servo", 2, 20)
	testutil.SeedEquipment(t, db, "combi", "Combi weapon", 30)
	testutil.SeedLink(t, db, "combi", "lasgun")
	testutil.SeedSpawningEquipment(t, db, "kennel", "Beast kennel", 40, "beast")
	testutil.SeedDefault(t, db, "leader", "lasgun")
	return f
}

func (f *fixture) roster(t *testing.T, currency int) *entity.Roster {
	t.Helper()
	r, err := f.svc.Tree.CreateRoster(f.ctx, "owner-1", &CreateRosterInput{
		Name:      "Rusty Fists",
		FactionID: "goliath",
		Currency:  currency,
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) member(t *testing.T, rosterID, fighterTypeID string) *entity.Member {
	t.Helper()
	m, err := f.svc.Tree.CreateMember(f.ctx, rosterID, &CreateMemberInput{Name: fighterTypeID, FighterTypeID: fighterTypeID})
	require.NoError(t, err)
	return m
}

func (f *fixture) attach(t *testing.T, memberID, equipmentID string) *entity.LineItem {
	t.Helper()
	item, err := f.svc.Tree.AttachLineItem(f.ctx, memberID, &AttachLineItemInput{EquipmentID: equipmentID})
	require.NoError(t, err)
	return item
}

func (f *fixture) commit(t *testing.T, rosterID string) {
	t.Helper()
	require.NoError(t, f.svc.Tree.CommitRoster(f.ctx, rosterID))
}

func (f *fixture) facts(t *testing.T, node NodeRef) Facts {
	t.Helper()
	got, err := f.svc.Facts.Facts(f.ctx, node)
	require.NoError(t, err)
	return got
}

func (f *fixture) reload(t *testing.T, rosterID string) *entity.Roster {
	t.Helper()
	r, err := f.repos.Roster.FindByID(f.ctx, rosterID)
	require.NoError(t, err)
	return r
}

// corrupt 直接改缓存列，模拟脏数据
func (f *fixture) corrupt(t *testing.T, model interface{}, id string, rating int, dirty bool) {
	t.Helper()
	err := f.db.Model(model).Where("id = ?", id).
		Updates(map[string]interface{}{"rating_current": rating, "dirty": dirty}).Error
	require.NoError(t, err)
}

// assertConsistent 每个节点的缓存值等于从头计算的值且不脏
func (f *fixture) assertConsistent(t *testing.T, rosterID string) {
	t.Helper()
	tree, err := f.repos.Roster.LoadTree(f.ctx, rosterID)
	require.NoError(t, err)
	rc, err := calculator{res: pricing.NewResolver(f.repos.Catalogue)}.roster(f.ctx, tree)
	require.NoError(t, err)

	assert.False(t, tree.Dirty, "roster dirty")
	assert.Equal(t, rc.Rating, tree.RatingCurrent, "roster rating")
	assert.Equal(t, rc.Stash, tree.StashRatingCurrent, "roster stash rating")
	for _, m := range tree.Members {
		mc := rc.Members[m.ID]
		assert.False(t, m.Dirty, "member %s dirty", m.ID)
		assert.Equal(t, mc.Rating, m.RatingCurrent, "member %s rating", m.ID)
		for _, item := range m.LineItems {
			assert.False(t, item.Dirty, "item %s dirty", item.ID)
			assert.Equal(t, mc.Items[item.ID], item.RatingCurrent, "item %s rating", item.ID)
		}
	}
}
