// Package modules tracks which product modules each tenant is entitled to
// and gates module routes on those entitlements.
package modules

// Module identifiers. They are persisted in tenant_modules.module_id.
const (
	Inventory = "inventory"
	Labor     = "labor"
	Sales     = "sales"
	Dispatch  = "dispatch"
	Sensors   = "sensors"
	Tasks     = "tasks"
	Billing   = "billing"
	Admin     = "admin"
)

// Module describes one entry of the catalogue.
type Module struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Catalogue lists every module a tenant can be entitled to, in display order.
var Catalogue = []Module{
	{ID: Inventory, Name: "Inventory"},
	{ID: Labor, Name: "Labor"},
	{ID: Sales, Name: "Sales"},
	{ID: Dispatch, Name: "Dispatch"},
	{ID: Sensors, Name: "Sensors"},
	{ID: Tasks, Name: "Task Boards"},
	{ID: Billing, Name: "Billing"},
	{ID: Admin, Name: "Administration"},
}

var known = func() map[string]bool {
	m := make(map[string]bool, len(Catalogue))
	for _, mod := range Catalogue {
		m[mod.ID] = true
	}
	return m
}()

// Known reports whether id is in the catalogue.
func Known(id string) bool { return known[id] }

// IDs returns the catalogue ids in display order.
func IDs() []string {
	ids := make([]string, len(Catalogue))
	for i, mod := range Catalogue {
		ids[i] = mod.ID
	}
	return ids
}
