package handler

import (
	"net/http"
	"strings"
	"testing"

	"github.com/gyrinx-app/gyrinx-sub001/internal/config"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/repository"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/service"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/sse"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/testutil"
	"github.com/gyrinx-app/gyrinx-sub001/internal/shared/lock"
	"go.uber.org/zap"
)

func setupRosterTest(t *testing.T) *testutil.TestEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	router := testutil.SetupRouter()

	testutil.SeedStashType(t, db)
	testutil.SeedFighterType(t, db, "ganger", "Ganger", "ganger", 50)
	testutil.SeedEquipment(t, db, "lasgun", "Lasgun", 55)

	repos := repository.NewRepositories(db)
	svc := service.NewServices(repos, lock.NewLocalLocker(), testutil.EngineConfig(config.BalancePolicyClamp), zap.NewNop(), sse.NewHub(nil))
	h := NewHandlers(svc, sse.NewHub(nil))
	h.Register(testutil.AuthGroup(router, "/api/v1"))

	return &testutil.TestEnv{DB: db, Router: router, T: t}
}

// createRoster 创建名册 + 一名 ganger（50）并挂载 lasgun（55），返回名册、成员与行项 ID
func createRoster(env *testutil.TestEnv, token string, currency int) (string, string, string) {
	t := env.T
	t.Helper()

	w := testutil.DoRequest(env.Router, "POST", "/api/v1/rosters", map[string]interface{}{
		"name":       "Rusty Fists",
		"faction_id": "goliath",
		"currency":   currency,
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("create roster: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	rosterID := testutil.ParseResponse(w)["data"].(map[string]interface{})["id"].(string)

	w = testutil.DoRequest(env.Router, "POST", "/api/v1/rosters/"+rosterID+"/members", map[string]interface{}{
		"name":            "Krug",
		"fighter_type_id": "ganger",
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("create member: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	memberID := testutil.ParseResponse(w)["data"].(map[string]interface{})["id"].(string)

	w = testutil.DoRequest(env.Router, "POST", "/api/v1/members/"+memberID+"/line-items", map[string]interface{}{
		"equipment_id": "lasgun",
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("attach line item: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	itemID := testutil.ParseResponse(w)["data"].(map[string]interface{})["id"].(string)

	return rosterID, memberID, itemID
}

func getRating(env *testutil.TestEnv, path, token string) map[string]interface{} {
	t := env.T
	t.Helper()
	w := testutil.DoRequest(env.Router, "GET", path, nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("GET %s: expected 200, got %d: %s", path, w.Code, w.Body.String())
	}
	return testutil.ParseResponse(w)["data"].(map[string]interface{})
}

func TestRosterRatingEndpoints(t *testing.T) {
	env := setupRosterTest(t)
	token := testutil.DefaultTestToken()
	rosterID, memberID, itemID := createRoster(env, token, 100)

	roster := getRating(env, "/api/v1/rosters/"+rosterID+"/rating", token)
	if roster["rating"].(float64) != 105 {
		t.Errorf("expected roster rating 105, got %v", roster["rating"])
	}
	if roster["currency"].(float64) != 100 {
		t.Errorf("expected currency 100, got %v", roster["currency"])
	}
	if roster["wealth"].(float64) != 205 {
		t.Errorf("expected wealth 205, got %v", roster["wealth"])
	}
	if roster["recalculating"].(bool) {
		t.Error("expected clean cache")
	}

	member := getRating(env, "/api/v1/members/"+memberID+"/rating", token)
	if member["rating"].(float64) != 105 {
		t.Errorf("expected member rating 105, got %v", member["rating"])
	}
	item := getRating(env, "/api/v1/line-items/"+itemID+"/rating", token)
	if item["rating"].(float64) != 55 {
		t.Errorf("expected line item rating 55, got %v", item["rating"])
	}
}

func TestDetachLineItemUpdatesRating(t *testing.T) {
	env := setupRosterTest(t)
	token := testutil.DefaultTestToken()
	rosterID, _, itemID := createRoster(env, token, 0)

	w := testutil.DoRequest(env.Router, "DELETE", "/api/v1/line-items/"+itemID, nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	roster := getRating(env, "/api/v1/rosters/"+rosterID+"/rating", token)
	if roster["rating"].(float64) != 50 {
		t.Errorf("expected roster rating 50 after detach, got %v", roster["rating"])
	}
}

func TestRosterNotFound(t *testing.T) {
	env := setupRosterTest(t)
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(env.Router, "GET", "/api/v1/line-items/missing/rating", nil, token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	if resp["code"].(float64) != 40400 {
		t.Errorf("expected code 40400, got %v", resp["code"])
	}
}

func TestCreateRosterValidation(t *testing.T) {
	env := setupRosterTest(t)

	w := testutil.DoRequest(env.Router, "POST", "/api/v1/rosters", map[string]interface{}{
		"faction_id": "goliath",
	}, testutil.DefaultTestToken())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestRosterRequiresAuth(t *testing.T) {
	env := setupRosterTest(t)

	w := testutil.DoRequest(env.Router, "GET", "/api/v1/rosters", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRosterOwnership(t *testing.T) {
	env := setupRosterTest(t)
	rosterID, _, _ := createRoster(env, testutil.DefaultTestToken(), 0)
	other := testutil.GenerateTestToken("someone-else", nil, nil)

	w := testutil.DoRequest(env.Router, "GET", "/api/v1/rosters/"+rosterID, nil, other)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	w = testutil.DoRequest(env.Router, "POST", "/api/v1/rosters/"+rosterID+"/currency", map[string]interface{}{
		"amount": 10,
	}, other)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on currency, got %d", w.Code)
	}

	w = testutil.DoRequest(env.Router, "GET", "/api/v1/rosters/"+rosterID, nil, testutil.AdminTestToken())
	if w.Code != http.StatusOK {
		t.Fatalf("expected admin to read roster, got %d", w.Code)
	}
}

func TestAdjustCurrencyNegativeRejected(t *testing.T) {
	env := setupRosterTest(t)
	token := testutil.DefaultTestToken()
	rosterID, _, _ := createRoster(env, token, 100)

	w := testutil.DoRequest(env.Router, "POST", "/api/v1/rosters/"+rosterID+"/currency", map[string]interface{}{
		"amount": -500,
	}, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if code := testutil.ParseResponse(w)["code"].(float64); code != 40001 {
		t.Errorf("expected code 40001, got %v", code)
	}

	w = testutil.DoRequest(env.Router, "POST", "/api/v1/rosters/"+rosterID+"/currency", map[string]interface{}{
		"amount": -30,
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["currency"].(float64) != 70 {
		t.Errorf("expected balance 70, got %v", data["currency"])
	}
}

func TestCatalogueRequiresPermission(t *testing.T) {
	env := setupRosterTest(t)

	w := testutil.DoRequest(env.Router, "PUT", "/api/v1/catalogue/templates/fighter/ganger/price", map[string]interface{}{
		"price": 70,
	}, testutil.DefaultTestToken())
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestCataloguePriceChangeSettlesCommittedRoster(t *testing.T) {
	env := setupRosterTest(t)
	token := testutil.DefaultTestToken()
	rosterID, _, _ := createRoster(env, token, 200)

	w := testutil.DoRequest(env.Router, "POST", "/api/v1/rosters/"+rosterID+"/commit", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("commit: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.Router, "PUT", "/api/v1/catalogue/templates/fighter/ganger/price", map[string]interface{}{
		"price": 70,
	}, testutil.AdminTestToken())
	if w.Code != http.StatusOK {
		t.Fatalf("price edit: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	result := testutil.ParseResponse(w)["data"].(map[string]interface{})
	rosters := result["rosters"].([]interface{})
	if len(rosters) != 1 {
		t.Fatalf("expected 1 reconciled roster, got %d", len(rosters))
	}
	if outcome := rosters[0].(map[string]interface{})["outcome"]; outcome != service.OutcomeSettled {
		t.Errorf("expected outcome settled, got %v", outcome)
	}

	roster := getRating(env, "/api/v1/rosters/"+rosterID+"/rating", token)
	if roster["rating"].(float64) != 125 {
		t.Errorf("expected rating 125, got %v", roster["rating"])
	}
	if roster["currency"].(float64) != 180 {
		t.Errorf("expected currency 180, got %v", roster["currency"])
	}

	w = testutil.DoRequest(env.Router, "GET", "/api/v1/rosters/"+rosterID+"/ledger", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("ledger: expected 200, got %d", w.Code)
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	items := data["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(items))
	}
	entry := items[0].(map[string]interface{})
	if entry["old_price"].(float64) != 50 || entry["new_price"].(float64) != 70 {
		t.Errorf("unexpected ledger prices: %v -> %v", entry["old_price"], entry["new_price"])
	}
	pagination := data["pagination"].(map[string]interface{})
	if pagination["total"].(float64) != 1 {
		t.Errorf("expected total 1, got %v", pagination["total"])
	}
}

func TestRecomputeEndpoint(t *testing.T) {
	env := setupRosterTest(t)
	token := testutil.DefaultTestToken()
	rosterID, _, _ := createRoster(env, token, 0)

	w := testutil.DoRequest(env.Router, "POST", "/api/v1/ratings/roster/"+rosterID+"/recompute?persist=true", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["rating"].(float64) != 105 {
		t.Errorf("expected rating 105, got %v", data["rating"])
	}

	w = testutil.DoRequest(env.Router, "POST", "/api/v1/ratings/weapon/"+rosterID+"/recompute", nil, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d", w.Code)
	}
}

func TestExportRoster(t *testing.T) {
	env := setupRosterTest(t)
	token := testutil.DefaultTestToken()
	rosterID, _, _ := createRoster(env, token, 0)

	w := testutil.DoRequest(env.Router, "GET", "/api/v1/rosters/"+rosterID+"/export", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("unexpected content type %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "roster_") {
		t.Errorf("unexpected content disposition %q", cd)
	}
	if w.Body.Len() == 0 {
		t.Error("expected xlsx body")
	}
}

func TestTreeRoutesRejectNonOwner(t *testing.T) {
	env := setupRosterTest(t)
	rosterID, memberID, itemID := createRoster(env, testutil.DefaultTestToken(), 100)
	intruder := testutil.GenerateTestToken("someone-else", nil, nil)

	cases := []struct {
		method, path string
		body         interface{}
	}{
		{"DELETE", "/api/v1/line-items/" + itemID, nil},
		{"POST", "/api/v1/members/" + memberID + "/archive", nil},
		{"POST", "/api/v1/members/" + memberID + "/xp", map[string]interface{}{"xp": 5}},
		{"PUT", "/api/v1/line-items/" + itemID + "/override", map[string]interface{}{"field": "cost", "value": 1}},
		{"GET", "/api/v1/members/" + memberID + "/rating", nil},
		{"GET", "/api/v1/line-items/" + itemID + "/rating", nil},
		{"GET", "/api/v1/rosters/" + rosterID + "/rating", nil},
		{"GET", "/api/v1/rosters/" + rosterID + "/breakdown", nil},
		{"GET", "/api/v1/rosters/" + rosterID + "/export", nil},
		{"POST", "/api/v1/ratings/line_item/" + itemID + "/recompute?persist=true", nil},
	}
	for _, tc := range cases {
		w := testutil.DoRequest(env.Router, tc.method, tc.path, tc.body, intruder)
		if w.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403, got %d: %s", tc.method, tc.path, w.Code, w.Body.String())
		}
		if code := testutil.ParseResponse(w)["code"].(float64); code != 40300 {
			t.Errorf("%s %s: expected code 40300, got %v", tc.method, tc.path, code)
		}
	}

	// nothing changed
	roster := getRating(env, "/api/v1/rosters/"+rosterID+"/rating", testutil.DefaultTestToken())
	if roster["rating"].(float64) != 105 {
		t.Errorf("expected rating 105 after rejected requests, got %v", roster["rating"])
	}

	w := testutil.DoRequest(env.Router, "POST", "/api/v1/members/"+memberID+"/archive", nil, testutil.AdminTestToken())
	if w.Code != http.StatusOK {
		t.Fatalf("admin archive: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLineItemOverrideRoute(t *testing.T) {
	env := setupRosterTest(t)
	token := testutil.DefaultTestToken()
	rosterID, _, itemID := createRoster(env, token, 0)

	w := testutil.DoRequest(env.Router, "PUT", "/api/v1/line-items/"+itemID+"/override", map[string]interface{}{
		"field": "cost",
		"value": 40,
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	roster := getRating(env, "/api/v1/rosters/"+rosterID+"/rating", token)
	if roster["rating"].(float64) != 90 {
		t.Errorf("expected rating 90 with manual cost, got %v", roster["rating"])
	}

	w = testutil.DoRequest(env.Router, "PUT", "/api/v1/line-items/missing/override", map[string]interface{}{
		"field": "cost",
		"value": 40,
	}, token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown item, got %d", w.Code)
	}
}

func TestRepairRequiresAdmin(t *testing.T) {
	env := setupRosterTest(t)
	writer := testutil.GenerateTestToken("catalogue-editor", nil, []string{PermCatalogueWrite})

	w := testutil.DoRequest(env.Router, "POST", "/api/v1/catalogue/repair", nil, writer)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without admin role, got %d", w.Code)
	}

	w = testutil.DoRequest(env.Router, "POST", "/api/v1/catalogue/repair", nil, testutil.AdminTestToken())
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}
