package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/syncbridge/syncbridge/adapter"
	"github.com/syncbridge/syncbridge/config"
	"github.com/syncbridge/syncbridge/data"
	"github.com/syncbridge/syncbridge/queue"
)

func writeQueueConfig(t *testing.T, dbPath string) string {
	t.Helper()
	content := fmt.Sprintf("data:\n  database:\n    driver: sqlite3\n    source: %s\n    migrate: true\n", dbPath)
	path := filepath.Join(filepath.Dir(dbPath), "syncbridge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// seedJob writes one job into the database the CLI will open, returning
// its id. The connection is closed before the command runs.
func seedJob(t *testing.T, dbPath string, mutate func(*queue.Store, int64)) int64 {
	t.Helper()
	ctx := context.Background()
	d, cleanup, err := data.New(ctx, &config.Data{
		Database: &config.Database{Driver: "sqlite3", Source: dbPath, Migrate: true},
	})
	if err != nil {
		t.Fatalf("failed to open seed database: %v", err)
	}
	defer cleanup()

	store := queue.NewStore(d, nil)
	id, err := store.Enqueue(ctx, &queue.Spec{
		Module:     "orders",
		Direction:  queue.DirectionOutbound,
		EntityType: "order",
		LocalID:    1,
		Action:     queue.ActionUpdate,
	})
	if err != nil {
		t.Fatalf("failed to seed job: %v", err)
	}
	if mutate != nil {
		mutate(store, id)
	}
	return id
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(adapter.NewRegistry(nil))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestQueueCancelReportsNonPendingJob(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	cfgPath := writeQueueConfig(t, dbPath)
	ctx := context.Background()

	id := seedJob(t, dbPath, func(s *queue.Store, id int64) {
		if err := s.Cancel(ctx, id); err != nil {
			t.Fatalf("failed to cancel seed job: %v", err)
		}
	})

	_, err := runCLI(t, "", "queue", "cancel", strconv.FormatInt(id, 10), "--config", cfgPath)
	if err == nil {
		t.Fatal("expected an error for a non-pending job")
	}
	if !strings.Contains(err.Error(), "is not pending") {
		t.Errorf("expected a not-pending message, got %q", err.Error())
	}
}

func TestQueueCancelReportsMissingJob(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	cfgPath := writeQueueConfig(t, dbPath)
	seedJob(t, dbPath, nil)

	_, err := runCLI(t, "", "queue", "cancel", "424242", "--config", cfgPath)
	if err == nil {
		t.Fatal("expected an error for a missing job")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected a not-found message, got %q", err.Error())
	}
}

func TestQueueCancelPendingJob(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	cfgPath := writeQueueConfig(t, dbPath)
	id := seedJob(t, dbPath, nil)

	out, err := runCLI(t, "", "queue", "cancel", strconv.FormatInt(id, 10), "--config", cfgPath)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !strings.Contains(out, fmt.Sprintf("cancelled job %d", id)) {
		t.Errorf("unexpected output %q", out)
	}
}

// The cleanup prompt has to name everything Cleanup actually deletes:
// completed, failed and cancelled jobs.
func TestQueueCleanupPromptNamesAllTerminalStatuses(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	cfgPath := writeQueueConfig(t, dbPath)
	seedJob(t, dbPath, nil)

	out, err := runCLI(t, "n\n", "queue", "cleanup", "--days", "7", "--config", cfgPath)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if !strings.Contains(out, "Delete completed, failed and cancelled jobs older than 7 day(s)?") {
		t.Errorf("prompt does not name all terminal statuses: %q", out)
	}
	if !strings.Contains(out, "aborted") {
		t.Errorf("expected the declined run to abort, got %q", out)
	}
}
