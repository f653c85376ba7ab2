package scheduler

import "testing"

func TestAddJobValidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	id, err := s.AddJob("*/15 * * * *", func() {})
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	s.RemoveJob(id)
}

func TestAddJobInvalidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if _, err := s.AddJob("not a cron expression", func() {}); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

func TestAddJobRejectsSixFields(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	// Seconds-resolution expressions are not accepted.
	if _, err := s.AddJob("0 */15 * * * *", func() {}); err == nil {
		t.Error("expected error for 6-field expression")
	}
}
