package audit_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-matrix/internal/audit"
	"github.com/nerrad567/gray-logic-matrix/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-matrix/migrations" // registers embedded migrations
)

func openRepo(t *testing.T) *audit.SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return audit.NewSQLiteRepository(db.DB)
}

func TestCreate_GeneratesIDAndTimestamp(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	entry := &audit.AuditLog{
		Action:     "update",
		EntityType: audit.EntityTypeMatrix,
		EntityID:   "av-rack",
		Source:     audit.SourceBridge,
		Details:    map[string]any{"input": 3, "output": 1},
	}
	if err := repo.Create(ctx, entry); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if entry.ID == "" {
		t.Error("Create() did not assign an ID")
	}
	if entry.CreatedAt.IsZero() {
		t.Error("Create() did not assign CreatedAt")
	}

	res, err := repo.List(ctx, audit.Filter{EntityID: "av-rack"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || len(res.Logs) != 1 {
		t.Fatalf("List() total=%d len=%d, want 1/1", res.Total, len(res.Logs))
	}
	got := res.Logs[0]
	if got.ID != entry.ID || got.Action != "update" || got.Source != audit.SourceBridge {
		t.Errorf("List()[0] = %+v", got)
	}
	// JSON numbers come back as float64.
	if got.Details["input"] != float64(3) || got.Details["output"] != float64(1) {
		t.Errorf("Details = %v, want input=3 output=1", got.Details)
	}
	if got.UserID != "" {
		t.Errorf("UserID = %q, want empty for NULL column", got.UserID)
	}
}

func TestList_FiltersAndOrder(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []audit.AuditLog{
		{Action: "connected", EntityID: "av-rack", CreatedAt: base},
		{Action: "update", EntityID: "av-rack", CreatedAt: base.Add(1 * time.Minute)},
		{Action: "error", EntityID: "av-rack", CreatedAt: base.Add(2 * time.Minute)},
		{Action: "update", EntityID: "cinema", CreatedAt: base.Add(3 * time.Minute)},
	}
	for i := range entries {
		e := entries[i]
		e.EntityType = audit.EntityTypeMatrix
		e.Source = audit.SourceBridge
		if err := repo.Create(ctx, &e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name        string
		filter      audit.Filter
		wantTotal   int
		wantActions []string
	}{
		{
			name:        "all newest first",
			filter:      audit.Filter{},
			wantTotal:   4,
			wantActions: []string{"update", "error", "update", "connected"},
		},
		{
			name:        "by action",
			filter:      audit.Filter{Action: "update"},
			wantTotal:   2,
			wantActions: []string{"update", "update"},
		},
		{
			name:        "by matrix",
			filter:      audit.Filter{EntityID: "av-rack"},
			wantTotal:   3,
			wantActions: []string{"error", "update", "connected"},
		},
		{
			name:        "since",
			filter:      audit.Filter{Since: base.Add(2 * time.Minute)},
			wantTotal:   2,
			wantActions: []string{"update", "error"},
		},
		{
			name:        "paged",
			filter:      audit.Filter{Limit: 1, Offset: 1},
			wantTotal:   4,
			wantActions: []string{"error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", res.Total, tt.wantTotal)
			}
			if len(res.Logs) != len(tt.wantActions) {
				t.Fatalf("len(Logs) = %d, want %d", len(res.Logs), len(tt.wantActions))
			}
			for i, want := range tt.wantActions {
				if res.Logs[i].Action != want {
					t.Errorf("Logs[%d].Action = %q, want %q", i, res.Logs[i].Action, want)
				}
			}
		})
	}
}

func TestList_ClampsLimit(t *testing.T) {
	repo := openRepo(t)

	res, err := repo.List(context.Background(), audit.Filter{Limit: 1000, Offset: -3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != 200 || res.Offset != 0 {
		t.Errorf("Limit/Offset = %d/%d, want 200/0", res.Limit, res.Offset)
	}
	if res.Logs == nil {
		t.Error("Logs = nil, want empty slice")
	}
}

func TestDeleteBefore(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		e := &audit.AuditLog{
			Action:     "update",
			EntityType: audit.EntityTypeMatrix,
			EntityID:   "av-rack",
			Source:     audit.SourceBridge,
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
		}
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	n, err := repo.DeleteBefore(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("DeleteBefore() error = %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteBefore() removed %d, want 2", n)
	}

	res, err := repo.List(ctx, audit.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 {
		t.Errorf("Total after prune = %d, want 1", res.Total)
	}
}
