package housekeeping

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func initBareRepo(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
}

func TestCleanupWorktreesRemovesWorktreesNotInSessionRegistry(t *testing.T) {
	codeHome := t.TempDir()
	repo := filepath.Join(codeHome, "working", "myrepo")
	branch := filepath.Join(repo, "branches", "stale-branch")
	if err := os.MkdirAll(branch, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(branch, "file.txt"), []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-10 * 24 * time.Hour)
	if err := os.Chtimes(branch, old, old); err != nil {
		t.Fatal(err)
	}

	sessionDir := filepath.Join(codeHome, "working", "_session")
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		t.Fatal(err)
	}

	stats, err := cleanupWorktrees(codeHome, time.Now(), 3)
	if err != nil {
		t.Fatalf("cleanupWorktrees error: %v", err)
	}
	if stats.removedWorktrees != 1 {
		t.Fatalf("expected 1 worktree removed, got %d", stats.removedWorktrees)
	}
	if _, err := os.Stat(branch); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be removed", branch)
	}
}

func TestCleanupWorktreesDropsRegistryEntriesForDeadPids(t *testing.T) {
	codeHome := t.TempDir()
	repo := filepath.Join(codeHome, "working", "myrepo")
	branch := filepath.Join(repo, "branches", "owned-branch")
	if err := os.MkdirAll(branch, 0755); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-10 * 24 * time.Hour)
	if err := os.Chtimes(branch, old, old); err != nil {
		t.Fatal(err)
	}

	sessionDir := filepath.Join(codeHome, "working", "_session")
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		t.Fatal(err)
	}

	deadPID := findUnusedPID()
	regPath := filepath.Join(sessionDir, "pid-"+strconv.Itoa(deadPID)+".txt")
	line := repo + "\t" + branch + "\n"
	if err := os.WriteFile(regPath, []byte(line), 0644); err != nil {
		t.Fatal(err)
	}

	stats, err := cleanupWorktrees(codeHome, time.Now(), 3)
	if err != nil {
		t.Fatalf("cleanupWorktrees error: %v", err)
	}
	if stats.removedWorktrees != 1 {
		t.Fatalf("expected 1 worktree removed, got %d", stats.removedWorktrees)
	}
	if _, err := os.Stat(regPath); !os.IsNotExist(err) {
		t.Fatalf("expected dead-PID registry file %s to be purged", regPath)
	}
}

func TestCleanupSessionsRemovesOnlyStaleDays(t *testing.T) {
	codeHome := t.TempDir()
	now := time.Now()

	stale := now.AddDate(0, 0, -10)
	fresh := now.AddDate(0, 0, -1)

	makeDay := func(day time.Time) string {
		path := filepath.Join(codeHome, sessionsSubdir,
			day.Format("2006"), day.Format("01"), day.Format("02"))
		if err := os.MkdirAll(path, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(path, "rollout.jsonl"), []byte("{}"), 0644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	stalePath := makeDay(stale)
	freshPath := makeDay(fresh)

	stats, err := cleanupSessions(codeHome, now, defaultSessionRetentionDays)
	if err != nil {
		t.Fatalf("cleanupSessions error: %v", err)
	}
	if stats.removedDays != 1 {
		t.Fatalf("expected 1 day removed, got %d", stats.removedDays)
	}
	if _, err := os.Stat(stalePath); !os.IsNotExist(err) {
		t.Fatalf("expected stale day %s removed", stalePath)
	}
	if _, err := os.Stat(freshPath); err != nil {
		t.Fatalf("expected fresh day %s to survive: %v", freshPath, err)
	}
}

func TestParseDaysEnvDisabled(t *testing.T) {
	t.Setenv("CODE_CLEANUP_SESSION_RETENTION_DAYS", "off")
	if got := parseDaysEnv("CODE_CLEANUP_SESSION_RETENTION_DAYS", defaultSessionRetentionDays); got != nil {
		t.Fatalf("expected disabled (nil), got %v", got)
	}
}

func TestParseDaysEnvInvalidFallsBackToDefault(t *testing.T) {
	t.Setenv("CODE_CLEANUP_SESSION_RETENTION_DAYS", "not-a-number")
	got := parseDaysEnv("CODE_CLEANUP_SESSION_RETENTION_DAYS", defaultSessionRetentionDays)
	if got == nil || *got != defaultSessionRetentionDays {
		t.Fatalf("expected default %d, got %v", defaultSessionRetentionDays, got)
	}
}

// findUnusedPID returns a PID that is virtually certain not to be alive,
// for exercising the dead-PID purge path without relying on real process
// state.
func findUnusedPID() int {
	return 1 << 30
}
