package auth

import (
	"errors"
	"testing"
)

func TestTemplateShape(t *testing.T) {
	if got := TemplateSize(); got != 62 {
		t.Fatalf("expected 62 template grants, got %d", got)
	}
	counts := map[Role]int{
		RoleSafetyOfficer: 40,
		RoleSupervisor:    13,
		RoleSubcontractor: 4,
		RoleEmployee:      5,
	}
	for role, want := range counts {
		if got := len(DefaultPermissions(role)); got != want {
			t.Fatalf("%s: expected %d permissions, got %d", role, want, got)
		}
	}
	if len(DefaultPermissions(RoleSuperAdmin)) != 0 {
		t.Fatal("super_admin must not appear in the template")
	}
}

func TestTemplateGrantsAreScopedAndUnique(t *testing.T) {
	grants := TemplateGrants("tenant-1")
	if len(grants) != TemplateSize() {
		t.Fatalf("expected %d grants, got %d", TemplateSize(), len(grants))
	}
	seen := map[string]bool{}
	for _, g := range grants {
		if g.TenantID != "tenant-1" {
			t.Fatalf("grant not scoped: %+v", g)
		}
		if g.Role == RoleSuperAdmin {
			t.Fatalf("super_admin grant emitted: %+v", g)
		}
		key := string(g.Role) + "|" + Permission{Resource: g.Resource, Action: g.Action}.Key()
		if seen[key] {
			t.Fatalf("duplicate grant %s", key)
		}
		seen[key] = true
	}
	if !seen["subcontractor|hazards:update"] || seen["subcontractor|hazards:create"] {
		t.Fatal("unexpected subcontractor grants")
	}
	if !seen["employee|incidents:create"] || seen["employee|incidents:update"] {
		t.Fatal("unexpected employee grants")
	}
}

func TestDefaultPermissionsReturnsCopy(t *testing.T) {
	p := DefaultPermissions(RoleEmployee)
	p[0] = Permission{Resource: ResourcePermissions, Action: ActionDelete}
	if DefaultPermissions(RoleEmployee)[0].Resource == ResourcePermissions {
		t.Fatal("template mutated through returned slice")
	}
}

func TestParseNames(t *testing.T) {
	if r, err := ParseRole(" Safety_Officer "); err != nil || r != RoleSafetyOfficer {
		t.Fatalf("ParseRole: %v %v", r, err)
	}
	if _, err := ParseRole("owner"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected unknown role rejected, got %v", err)
	}
	if r, err := ParseResource("HAZARDS"); err != nil || r != ResourceHazards {
		t.Fatalf("ParseResource: %v %v", r, err)
	}
	if _, err := ParseResource("equipment"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected unknown resource rejected, got %v", err)
	}
	if _, err := ParseAction("approve"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected unknown action rejected, got %v", err)
	}
	if p, err := ParsePlan(""); err != nil || p != PlanTrial {
		t.Fatalf("expected empty plan to default to trial: %v %v", p, err)
	}
	if _, err := ParsePlan("platinum"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected unknown plan rejected, got %v", err)
	}
	if q := PlanEnterprise.Quota(); q.MaxUsers != 0 || q.MaxSites != 0 {
		t.Fatalf("enterprise must be unlimited: %+v", q)
	}
}

func TestTenantUpdateValidate(t *testing.T) {
	name := "  Acme  "
	neg := -1
	status := "frozen"
	upd := TenantUpdate{Name: &name, MaxUsers: &neg, SubscriptionStatus: &status}
	err := upd.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Fields["max_users"] == "" || verr.Fields["subscription_status"] == "" {
		t.Fatalf("unexpected fields: %v", verr.Fields)
	}
	if *upd.Name != "Acme" {
		t.Fatalf("expected trimmed name, got %q", *upd.Name)
	}
}
