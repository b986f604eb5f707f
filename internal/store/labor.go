package store

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/tillage/internal/db"
	"github.com/oriys/tillage/internal/tenant"
	"github.com/oriys/tillage/internal/tenantdb"
)

// DateLayout is the wire format of labor work dates.
const DateLayout = "2006-01-02"

// LaborEntry is hours worked by one worker on one task and day.
type LaborEntry struct {
	ID        string    `json:"id"`
	Worker    string    `json:"worker"`
	Task      string    `json:"task"`
	Hours     float64   `json:"hours"`
	WorkDate  time.Time `json:"work_date"`
	CreatedAt time.Time `json:"created_at"`
}

// LaborInput records hours.
type LaborInput struct {
	Worker   string  `json:"worker"`
	Task     string  `json:"task"`
	Hours    float64 `json:"hours"`
	WorkDate string  `json:"work_date"` // YYYY-MM-DD; empty means today (UTC)
}

// HoursBucket is a total of hours for one key.
type HoursBucket struct {
	Key   string  `json:"key"`
	Hours float64 `json:"hours"`
}

// LaborSummary aggregates the tenant's labor entries.
type LaborSummary struct {
	TotalHours float64       `json:"total_hours"`
	ByWorker   []HoursBucket `json:"by_worker"`
	ByTask     []HoursBucket `json:"by_task"`
}

// LaborRepo reads and writes labor_entries through the gateway.
type LaborRepo struct {
	gw *tenantdb.Gateway
}

const laborColumns = `id, worker, task, hours, work_date, created_at`

func scanLaborEntry(row db.Row) (LaborEntry, error) {
	var e LaborEntry
	err := row.Scan(&e.ID, &e.Worker, &e.Task, &e.Hours, &e.WorkDate, &e.CreatedAt)
	return e, err
}

func scanBucket(row db.Row) (HoursBucket, error) {
	var b HoursBucket
	err := row.Scan(&b.Key, &b.Hours)
	return b, err
}

// List returns the most recent entries of the tenant.
func (r *LaborRepo) List(ctx context.Context, tc tenant.Context, limit int) ([]LaborEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return tenantdb.Query(ctx, r.gw, tc, tenantdb.Stmt(`
		SELECT `+laborColumns+`
		FROM labor_entries
		WHERE tenant_id = $1
		ORDER BY work_date DESC, created_at DESC
		LIMIT $2
	`, limit).Named("labor.list"), scanLaborEntry)
}

// Create records an entry for the tenant.
func (r *LaborRepo) Create(ctx context.Context, tc tenant.Context, in LaborInput) (LaborEntry, error) {
	worker := strings.TrimSpace(in.Worker)
	if worker == "" {
		return LaborEntry{}, invalid("worker", "is required")
	}
	task := strings.TrimSpace(in.Task)
	if task == "" {
		return LaborEntry{}, invalid("task", "is required")
	}
	if in.Hours <= 0 || in.Hours > 24 || math.IsNaN(in.Hours) {
		return LaborEntry{}, invalid("hours", "must be greater than 0 and at most 24")
	}
	workDate := time.Now().UTC().Truncate(24 * time.Hour)
	if s := strings.TrimSpace(in.WorkDate); s != "" {
		d, err := time.Parse(DateLayout, s)
		if err != nil {
			return LaborEntry{}, invalid("work_date", "must be formatted as YYYY-MM-DD")
		}
		workDate = d
	}
	return tenantdb.QueryOne(ctx, r.gw, tc, tenantdb.Stmt(`
		INSERT INTO labor_entries (id, tenant_id, worker, task, hours, work_date, created_at)
		VALUES ($2, $1, $3, $4, $5, $6, NOW())
		RETURNING `+laborColumns,
		uuid.NewString(), worker, task, in.Hours, workDate,
	).Named("labor.create"), scanLaborEntry)
}

// Summary computes totals overall, per worker and per task. The three
// aggregates run concurrently and either all succeed or the call fails.
func (r *LaborRepo) Summary(ctx context.Context, tc tenant.Context) (LaborSummary, error) {
	results, err := tenantdb.QueryAll(ctx, r.gw, tc, []tenantdb.Statement{
		tenantdb.Stmt(`
			SELECT 'total', COALESCE(SUM(hours), 0)
			FROM labor_entries
			WHERE tenant_id = $1
		`).Named("labor.summary_total"),
		tenantdb.Stmt(`
			SELECT worker, SUM(hours)
			FROM labor_entries
			WHERE tenant_id = $1
			GROUP BY worker
			ORDER BY worker
		`).Named("labor.summary_worker"),
		tenantdb.Stmt(`
			SELECT task, SUM(hours)
			FROM labor_entries
			WHERE tenant_id = $1
			GROUP BY task
			ORDER BY task
		`).Named("labor.summary_task"),
	}, scanBucket)
	if err != nil {
		return LaborSummary{}, err
	}

	summary := LaborSummary{ByWorker: results[1], ByTask: results[2]}
	if len(results[0]) > 0 {
		summary.TotalHours = results[0][0].Hours
	}
	return summary, nil
}
