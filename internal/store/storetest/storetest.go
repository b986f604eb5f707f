// Package storetest provides an in-memory emulation of the Postgres tables
// for tests of packages built on the store.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/oriys/tillage/internal/db/dbtest"
	"github.com/oriys/tillage/internal/modules"
)

// Farm emulates the shared physical tables for the statements the store
// issues. Rows of every tenant live in the same slices, so any missing
// tenant filter shows up as a leak.
type Farm struct {
	mu        sync.Mutex
	tenants   map[string][]any
	modules   map[string]map[string]bool
	inventory [][]any // id, tenant_id, name, category, quantity, unit, created_at, updated_at
	labor     [][]any // id, tenant_id, worker, task, hours, work_date, created_at
	fail      error
}

// New returns an empty Farm.
func New() *Farm {
	return &Farm{tenants: make(map[string][]any), modules: make(map[string]map[string]bool)}
}

// Handle is a dbtest.Handler.
func (f *Farm) Handle(ctx context.Context, sql string, args []any) (dbtest.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return dbtest.Result{}, f.fail
	}
	now := time.Now().UTC()

	switch {
	case strings.Contains(sql, "CREATE "):
		return dbtest.Result{}, nil

	case strings.Contains(sql, "INSERT INTO tenants"):
		id := args[0].(string)
		if _, ok := f.tenants[id]; ok {
			return dbtest.Result{}, &pgconn.PgError{Code: "23505", Message: "duplicate key"}
		}
		row := []any{id, args[1], args[2], args[3], now, now}
		f.tenants[id] = row
		return dbtest.Result{Rows: [][]any{row}}, nil
	case strings.Contains(sql, "FROM tenants") && strings.Contains(sql, "WHERE id = $1"):
		if row, ok := f.tenants[args[0].(string)]; ok {
			return dbtest.Result{Rows: [][]any{row}}, nil
		}
		return dbtest.Result{}, nil
	case strings.Contains(sql, "FROM tenants"):
		ids := make([]string, 0, len(f.tenants))
		for id := range f.tenants {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		var out [][]any
		for _, id := range ids {
			out = append(out, f.tenants[id])
		}
		return dbtest.Result{Rows: out}, nil

	case strings.Contains(sql, "tenant_modules"):
		tid := args[0].(string)
		if f.modules[tid] == nil {
			f.modules[tid] = make(map[string]bool)
		}
		switch {
		case strings.Contains(sql, "DO NOTHING"):
			if _, ok := f.modules[tid][args[1].(string)]; !ok {
				f.modules[tid][args[1].(string)] = true
			}
		case strings.Contains(sql, "DO UPDATE"):
			f.modules[tid][args[1].(string)] = args[2].(bool)
		case strings.Contains(sql, "SELECT enabled"):
			if v, ok := f.modules[tid][args[1].(string)]; ok {
				return dbtest.Result{Rows: [][]any{{v}}}, nil
			}
		case strings.Contains(sql, "SELECT module_id"):
			var out [][]any
			for _, id := range modules.IDs() {
				if v, ok := f.modules[tid][id]; ok {
					out = append(out, []any{id, v})
				}
			}
			return dbtest.Result{Rows: out}, nil
		}
		return dbtest.Result{Affected: 1}, nil

	case strings.Contains(sql, "INSERT INTO inventory_items"):
		row := []any{args[1], args[0], args[2], args[3], args[4], args[5], now, now}
		f.inventory = append(f.inventory, row)
		return dbtest.Result{Rows: [][]any{inventoryView(row)}}, nil
	case strings.Contains(sql, "UPDATE inventory_items"):
		for _, row := range f.inventory {
			if row[1] != args[0] || row[0] != args[1] {
				continue
			}
			if p, _ := args[2].(*string); p != nil {
				row[2] = *p
			}
			if p, _ := args[3].(*string); p != nil {
				row[3] = *p
			}
			if p, _ := args[4].(*float64); p != nil {
				row[4] = *p
			}
			if p, _ := args[5].(*string); p != nil {
				row[5] = *p
			}
			row[7] = now
			return dbtest.Result{Rows: [][]any{inventoryView(row)}}, nil
		}
		return dbtest.Result{}, nil
	case strings.Contains(sql, "DELETE FROM inventory_items"):
		kept := f.inventory[:0]
		var n int64
		for _, row := range f.inventory {
			if row[1] == args[0] && row[0] == args[1] {
				n++
				continue
			}
			kept = append(kept, row)
		}
		f.inventory = kept
		return dbtest.Result{Affected: n}, nil
	case strings.Contains(sql, "FROM inventory_items"):
		var out [][]any
		for _, row := range f.inventory {
			if row[1] != args[0] {
				continue
			}
			if strings.Contains(sql, "id = $2") && row[0] != args[1] {
				continue
			}
			if strings.Contains(sql, "category = $2") && row[3] != args[1] {
				continue
			}
			out = append(out, inventoryView(row))
		}
		return dbtest.Result{Rows: out}, nil

	case strings.Contains(sql, "INSERT INTO labor_entries"):
		row := []any{args[1], args[0], args[2], args[3], args[4], args[5], now}
		f.labor = append(f.labor, row)
		return dbtest.Result{Rows: [][]any{laborView(row)}}, nil
	case strings.Contains(sql, "FROM labor_entries") && strings.Contains(sql, "'total'"):
		var total float64
		for _, row := range f.labor {
			if row[1] == args[0] {
				total += row[4].(float64)
			}
		}
		return dbtest.Result{Rows: [][]any{{"total", total}}}, nil
	case strings.Contains(sql, "FROM labor_entries") && strings.Contains(sql, "GROUP BY"):
		col := 2
		if strings.Contains(sql, "GROUP BY task") {
			col = 3
		}
		sums := map[string]float64{}
		for _, row := range f.labor {
			if row[1] == args[0] {
				sums[row[col].(string)] += row[4].(float64)
			}
		}
		keys := make([]string, 0, len(sums))
		for k := range sums {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out [][]any
		for _, k := range keys {
			out = append(out, []any{k, sums[k]})
		}
		return dbtest.Result{Rows: out}, nil
	case strings.Contains(sql, "FROM labor_entries"):
		var out [][]any
		for _, row := range f.labor {
			if row[1] == args[0] {
				out = append(out, laborView(row))
			}
		}
		return dbtest.Result{Rows: out}, nil
	}
	return dbtest.Result{}, fmt.Errorf("storetest: unexpected statement %q", sql)
}

func inventoryView(row []any) []any {
	return []any{row[0], row[2], row[3], row[4], row[5], row[6], row[7]}
}

func laborView(row []any) []any {
	return []any{row[0], row[2], row[3], row[4], row[5], row[6]}
}

// Fail makes every following statement return err. A nil err clears it.
func (f *Farm) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

// Module returns the stored entitlement row of tenantID and moduleID.
func (f *Farm) Module(tenantID, moduleID string) (enabled, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	enabled, ok = f.modules[tenantID][moduleID]
	return enabled, ok
}

// ModuleRows counts the entitlement rows of tenantID.
func (f *Farm) ModuleRows(tenantID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.modules[tenantID])
}

// InventoryRows counts inventory rows across all tenants.
func (f *Farm) InventoryRows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inventory)
}
