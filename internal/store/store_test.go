package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/oriys/tillage/internal/db/dbtest"
	"github.com/oriys/tillage/internal/modules"
	"github.com/oriys/tillage/internal/store/storetest"
	"github.com/oriys/tillage/internal/tenant"
	"github.com/oriys/tillage/internal/tenantdb"
)

func newTestStore(t *testing.T) (*Store, *storetest.Farm, *dbtest.DB) {
	t.Helper()
	farm := storetest.New()
	fake := dbtest.New(farm.Handle)
	gw := tenantdb.New(fake, tenantdb.WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	return New(fake, gw), farm, fake
}

func mustTenant(t *testing.T, id string) tenant.Context {
	t.Helper()
	tc, err := tenant.Normalize(id, "user")
	if err != nil {
		t.Fatalf("Normalize(%q) failed: %v", id, err)
	}
	return tc
}

func mustAdmin(t *testing.T) tenant.AdminContext {
	t.Helper()
	ac, err := tenant.NewAdminContext("user:root", tenant.RoleOwner)
	if err != nil {
		t.Fatalf("NewAdminContext failed: %v", err)
	}
	return ac
}

func TestHoneyIsInvisibleToOtherTenant(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	t1, t2 := mustTenant(t, "T1"), mustTenant(t, "T2")

	if _, err := s.Inventory.Create(ctx, t1, InventoryInput{Name: "Honey", Quantity: 10, Unit: "jar"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	items, err := s.Inventory.List(ctx, t2, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	for _, it := range items {
		if it.Name == "Honey" {
			t.Fatal("tenant T2 can see T1's Honey")
		}
	}

	own, err := s.Inventory.List(ctx, t1, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(own) != 1 || own[0].Name != "Honey" || own[0].Quantity != 10 {
		t.Fatalf("T1 should see its Honey, got %+v", own)
	}
}

func TestIsolationUnderInterleavedWrites(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	tenantIDs := []string{"alpha", "bravo", "charlie", "delta"}
	written := make(map[string]map[string]bool)
	for _, id := range tenantIDs {
		written[id] = make(map[string]bool)
	}

	for i := 0; i < 200; i++ {
		id := tenantIDs[rng.Intn(len(tenantIDs))]
		tc := mustTenant(t, id)
		if rng.Intn(3) == 0 {
			items, err := s.Inventory.List(ctx, tc, "")
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			for _, it := range items {
				if !written[id][it.ID] {
					t.Fatalf("tenant %s read item %s it never wrote", id, it.ID)
				}
			}
			continue
		}
		it, err := s.Inventory.Create(ctx, tc, InventoryInput{Name: fmt.Sprintf("item-%d", i), Quantity: float64(rng.Intn(100))})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		written[id][it.ID] = true
	}

	for _, id := range tenantIDs {
		items, err := s.Inventory.List(ctx, mustTenant(t, id), "")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(items) != len(written[id]) {
			t.Fatalf("tenant %s: expected %d items, got %d", id, len(written[id]), len(items))
		}
	}
}

func TestInventoryCrossTenantAccessLooksLikeNotFound(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	t1, t2 := mustTenant(t, "t1"), mustTenant(t, "t2")

	it, err := s.Inventory.Create(ctx, t1, InventoryInput{Name: "Seed potatoes", Category: "seed", Quantity: 40, Unit: "kg"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := s.Inventory.Get(ctx, t2, it.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get by other tenant: expected ErrNotFound, got %v", err)
	}
	name := "stolen"
	if _, err := s.Inventory.Update(ctx, t2, it.ID, InventoryPatch{Name: &name}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update by other tenant: expected ErrNotFound, got %v", err)
	}
	if err := s.Inventory.Delete(ctx, t2, it.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete by other tenant: expected ErrNotFound, got %v", err)
	}

	got, err := s.Inventory.Get(ctx, t1, it.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "Seed potatoes" {
		t.Fatalf("item was modified by another tenant: %+v", got)
	}
}

func TestInventoryUpdateAndDelete(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	tc := mustTenant(t, "t1")

	it, err := s.Inventory.Create(ctx, tc, InventoryInput{Name: "Feed", Category: "livestock", Quantity: 5})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	qty := 12.5
	updated, err := s.Inventory.Update(ctx, tc, it.ID, InventoryPatch{Quantity: &qty})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Quantity != 12.5 || updated.Name != "Feed" {
		t.Fatalf("unexpected update result %+v", updated)
	}

	byCategory, err := s.Inventory.List(ctx, tc, "livestock")
	if err != nil || len(byCategory) != 1 {
		t.Fatalf("category filter: %v %+v", err, byCategory)
	}
	if err := s.Inventory.Delete(ctx, tc, it.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Inventory.Get(ctx, tc, it.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestInventoryValidation(t *testing.T) {
	s, _, fake := newTestStore(t)
	ctx := context.Background()
	tc := mustTenant(t, "t1")

	if _, err := s.Inventory.Create(ctx, tc, InventoryInput{Name: "  "}); !IsValidationError(err) {
		t.Fatalf("expected validation error for blank name, got %v", err)
	}
	if _, err := s.Inventory.Create(ctx, tc, InventoryInput{Name: "Oats", Quantity: -1}); !IsValidationError(err) {
		t.Fatalf("expected validation error for negative quantity, got %v", err)
	}
	empty := ""
	if _, err := s.Inventory.Update(ctx, tc, "x", InventoryPatch{Name: &empty}); !IsValidationError(err) {
		t.Fatalf("expected validation error for empty patch name, got %v", err)
	}
	if n := len(fake.Calls()); n != 0 {
		t.Fatalf("invalid input must not reach the database, saw %d calls", n)
	}
}

func TestLaborSummary(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	t1, t2 := mustTenant(t, "t1"), mustTenant(t, "t2")

	entries := []LaborInput{
		{Worker: "ana", Task: "harvest", Hours: 4, WorkDate: "2024-06-01"},
		{Worker: "ana", Task: "weeding", Hours: 2, WorkDate: "2024-06-01"},
		{Worker: "ben", Task: "harvest", Hours: 6, WorkDate: "2024-06-02"},
	}
	for _, in := range entries {
		if _, err := s.Labor.Create(ctx, t1, in); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	if _, err := s.Labor.Create(ctx, t2, LaborInput{Worker: "zed", Task: "harvest", Hours: 8}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	sum, err := s.Labor.Summary(ctx, t1)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if sum.TotalHours != 12 {
		t.Fatalf("expected 12 total hours, got %v", sum.TotalHours)
	}
	if len(sum.ByWorker) != 2 || sum.ByWorker[0].Key != "ana" || sum.ByWorker[0].Hours != 6 {
		t.Fatalf("unexpected by-worker buckets %+v", sum.ByWorker)
	}
	if len(sum.ByTask) != 2 || sum.ByTask[0].Key != "harvest" || sum.ByTask[0].Hours != 10 {
		t.Fatalf("unexpected by-task buckets %+v", sum.ByTask)
	}

	list, err := s.Labor.List(ctx, t1, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(list))
	}
}

func TestLaborValidation(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	tc := mustTenant(t, "t1")

	bad := []LaborInput{
		{Task: "harvest", Hours: 1},
		{Worker: "ana", Hours: 1},
		{Worker: "ana", Task: "harvest", Hours: 0},
		{Worker: "ana", Task: "harvest", Hours: 25},
		{Worker: "ana", Task: "harvest", Hours: 1, WorkDate: "06/01/2024"},
	}
	for _, in := range bad {
		if _, err := s.Labor.Create(ctx, tc, in); !IsValidationError(err) {
			t.Fatalf("%+v: expected validation error, got %v", in, err)
		}
	}
}

func TestCreateTenantSeedsModules(t *testing.T) {
	s, _, fake := newTestStore(t)
	ctx := context.Background()
	ac := mustAdmin(t)

	rec, err := s.CreateTenant(ctx, ac, &TenantRecord{ID: "green-acres", Name: "Green Acres"})
	if err != nil {
		t.Fatalf("CreateTenant failed: %v", err)
	}
	if rec.Plan != "standard" || rec.Status != "active" {
		t.Fatalf("expected defaults, got %+v", rec)
	}
	if fake.Commits() != 1 {
		t.Fatalf("expected one committed transaction, got %d", fake.Commits())
	}

	ents, err := s.Entitlements.List(ctx, mustTenant(t, "green-acres"))
	if err != nil {
		t.Fatalf("List entitlements failed: %v", err)
	}
	if len(ents) != len(modules.Catalogue) {
		t.Fatalf("expected %d entitlements, got %d", len(modules.Catalogue), len(ents))
	}
	for _, e := range ents {
		if !e.Enabled {
			t.Fatalf("module %s not enabled for new tenant", e.ModuleID)
		}
	}

	if _, err := s.CreateTenant(ctx, ac, &TenantRecord{ID: "green-acres"}); !errors.Is(err, ErrTenantExists) {
		t.Fatalf("expected ErrTenantExists, got %v", err)
	}
	if fake.Rollbacks() != 1 {
		t.Fatalf("duplicate create should roll back, got %d rollbacks", fake.Rollbacks())
	}
}

func TestSeedModulesKeepsDisabled(t *testing.T) {
	s, farm, _ := newTestStore(t)
	ctx := context.Background()
	ac := mustAdmin(t)

	if _, err := s.CreateTenant(ctx, ac, &TenantRecord{ID: "t1"}); err != nil {
		t.Fatalf("CreateTenant failed: %v", err)
	}
	if _, err := s.Entitlements.Set(ctx, ac, "t1", modules.Sensors, false); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.SeedModules(ctx, ac, "t1"); err != nil {
		t.Fatalf("SeedModules failed: %v", err)
	}
	rows := farm.ModuleRows("t1")
	sensors, _ := farm.Module("t1", modules.Sensors)
	if rows != len(modules.Catalogue) || sensors {
		t.Fatalf("expected %d rows with sensors disabled, got %d rows sensors=%v", len(modules.Catalogue), rows, sensors)
	}

	if err := s.SeedModules(ctx, ac, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown tenant, got %v", err)
	}
	for _, id := range []string{"undefined", "../t1", ""} {
		err := s.SeedModules(ctx, ac, id)
		if !errors.Is(err, ErrNotFound) || errors.Is(err, tenant.ErrInvalidTenantContext) {
			t.Fatalf("SeedModules(%q): expected ErrNotFound, got %v", id, err)
		}
	}
}

func TestAdminOperationsRequireAdminContext(t *testing.T) {
	s, _, fake := newTestStore(t)
	ctx := context.Background()

	if _, err := s.ListTenants(ctx, tenant.AdminContext{}, 10, 0); !errors.Is(err, tenant.ErrForbidden) {
		t.Fatalf("ListTenants: expected ErrForbidden, got %v", err)
	}
	if _, err := s.CreateTenant(ctx, tenant.AdminContext{}, &TenantRecord{ID: "x"}); !errors.Is(err, tenant.ErrForbidden) {
		t.Fatalf("CreateTenant: expected ErrForbidden, got %v", err)
	}
	if err := s.SeedModules(ctx, tenant.AdminContext{}, "x"); !errors.Is(err, tenant.ErrForbidden) {
		t.Fatalf("SeedModules: expected ErrForbidden, got %v", err)
	}
	if len(fake.Calls()) != 0 {
		t.Fatal("rejected admin operations must not reach the database")
	}
}

func TestCreateTenantRejectsBadIDs(t *testing.T) {
	s, _, _ := newTestStore(t)
	for _, id := range []string{"", "null", "a:b", "has space"} {
		if _, err := s.CreateTenant(context.Background(), mustAdmin(t), &TenantRecord{ID: id}); !IsValidationError(err) {
			t.Fatalf("id %q: expected validation error, got %v", id, err)
		}
	}
}

func TestListTenants(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	ac := mustAdmin(t)
	for _, id := range []string{"b-farm", "a-farm"} {
		if _, err := s.CreateTenant(ctx, ac, &TenantRecord{ID: id}); err != nil {
			t.Fatalf("CreateTenant failed: %v", err)
		}
	}
	list, err := s.ListTenants(ctx, ac, 0, 0)
	if err != nil {
		t.Fatalf("ListTenants failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a-farm" {
		t.Fatalf("unexpected tenants %+v", list)
	}
}

func TestStorageFailureSurfacesAsStorageError(t *testing.T) {
	s, farm, _ := newTestStore(t)
	farm.Fail(errors.New("dial tcp 10.0.0.5:5432: connection refused"))
	_, err := s.Inventory.List(context.Background(), mustTenant(t, "t1"), "")
	if !tenant.IsStorageError(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestMigrate(t *testing.T) {
	s, _, fake := newTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if len(fake.Calls()) != len(schema) {
		t.Fatalf("expected %d schema statements, got %d", len(schema), len(fake.Calls()))
	}
}
