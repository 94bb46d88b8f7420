// internal/state/schedule_test.go
package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newSchedule(name string) *Schedule {
	return &Schedule{
		Name:       name,
		Schedule:   "0 9 * * *",
		Recipients: []string{"+15550002"},
		Message:    "good morning",
		Enabled:    true,
	}
}

func TestScheduleStore_ListEmpty(t *testing.T) {
	store := NewScheduleStore(filepath.Join(t.TempDir(), "schedules.yaml"))

	schedules, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(schedules) != 0 {
		t.Errorf("expected empty list, got %d schedules", len(schedules))
	}
}

func TestScheduleStore_AddAndList(t *testing.T) {
	store := NewScheduleStore(filepath.Join(t.TempDir(), "schedules.yaml"))

	sc := newSchedule("daily-hello")
	sc.Recipients = []string{"group-id"}
	sc.Group = true
	if err := store.Add(sc); err != nil {
		t.Fatal(err)
	}

	schedules, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(schedules) != 1 {
		t.Fatalf("expected 1 schedule, got %d", len(schedules))
	}
	got := schedules[0]
	if got.Name != "daily-hello" || got.Schedule != "0 9 * * *" || got.Message != "good morning" {
		t.Errorf("unexpected schedule %+v", got)
	}
	if len(got.Recipients) != 1 || got.Recipients[0] != "group-id" || !got.Group {
		t.Errorf("unexpected recipients %+v", got)
	}
	if !got.Enabled {
		t.Error("expected schedule to be enabled")
	}
}

func TestScheduleStore_AddDuplicate(t *testing.T) {
	store := NewScheduleStore(filepath.Join(t.TempDir(), "schedules.yaml"))

	if err := store.Add(newSchedule("dup")); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(newSchedule("dup")); err == nil {
		t.Fatal("expected error for duplicate schedule name")
	}
}

func TestScheduleStore_AddInvalid(t *testing.T) {
	store := NewScheduleStore(filepath.Join(t.TempDir(), "schedules.yaml"))

	tests := []struct {
		name   string
		modify func(*Schedule)
	}{
		{"no name", func(s *Schedule) { s.Name = "" }},
		{"no cron", func(s *Schedule) { s.Schedule = "" }},
		{"no recipients", func(s *Schedule) { s.Recipients = nil }},
		{"no message", func(s *Schedule) { s.Message = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := newSchedule("x")
			tt.modify(sc)
			if err := store.Add(sc); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Error("invalid schedules must not create the file")
	}
}

func TestScheduleStore_Get(t *testing.T) {
	store := NewScheduleStore(filepath.Join(t.TempDir(), "schedules.yaml"))
	if err := store.Add(newSchedule("a")); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get("a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Message != "good morning" {
		t.Errorf("expected message mismatch, got %s", got.Message)
	}

	if _, err := store.Get("nonexistent"); err == nil {
		t.Fatal("expected error for nonexistent schedule")
	}
}

func TestScheduleStore_Remove(t *testing.T) {
	store := NewScheduleStore(filepath.Join(t.TempDir(), "schedules.yaml"))
	for _, name := range []string{"a", "b", "c"} {
		if err := store.Add(newSchedule(name)); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.Remove("b"); err != nil {
		t.Fatal(err)
	}
	schedules, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(schedules) != 2 || schedules[0].Name != "a" || schedules[1].Name != "c" {
		t.Errorf("unexpected schedules after remove: %v", schedules)
	}

	if err := store.Remove("nonexistent"); err == nil {
		t.Fatal("expected error for removing nonexistent schedule")
	}
}

func TestScheduleStore_SetEnabled(t *testing.T) {
	store := NewScheduleStore(filepath.Join(t.TempDir(), "schedules.yaml"))
	if err := store.Add(newSchedule("a")); err != nil {
		t.Fatal(err)
	}

	if err := store.SetEnabled("a", false); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get("a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Enabled {
		t.Error("expected schedule to be disabled")
	}

	if err := store.SetEnabled("a", true); err != nil {
		t.Fatal(err)
	}
	got, err = store.Get("a")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Enabled {
		t.Error("expected schedule to be enabled")
	}

	if err := store.SetEnabled("nonexistent", true); err == nil {
		t.Fatal("expected error for SetEnabled on nonexistent schedule")
	}
}

func TestScheduleStore_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "schedules.yaml")

	if err := NewScheduleStore(path).Add(newSchedule("persist")); err != nil {
		t.Fatal(err)
	}

	schedules, err := NewScheduleStore(path).List()
	if err != nil {
		t.Fatal(err)
	}
	if len(schedules) != 1 || schedules[0].Name != "persist" {
		t.Fatalf("unexpected schedules from new store: %v", schedules)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "name: persist") {
		t.Errorf("file is not YAML:\n%s", data)
	}
}

func TestScheduleStore_HandWrittenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.yaml")
	content := `- name: standup
  schedule: "@daily"
  recipients: ["+15550002", "+15550003"]
  message: standup in 5
  enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := NewScheduleStore(path).Get("standup")
	if err != nil {
		t.Fatal(err)
	}
	if got.Schedule != "@daily" || len(got.Recipients) != 2 || got.Group {
		t.Errorf("unexpected schedule %+v", got)
	}
}

func TestScheduleStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.yaml")
	if err := os.WriteFile(path, []byte("name: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewScheduleStore(path).List(); err == nil {
		t.Error("expected parse error")
	}
}

func TestDefaultSchedulePath(t *testing.T) {
	if got := DefaultSchedulePath("/data"); got != filepath.Join("/data", "schedules.yaml") {
		t.Errorf("unexpected path %s", got)
	}
}
