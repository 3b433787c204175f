package audit

import (
	"testing"
	"time"
)

func TestNewJobFreezesCIDs(t *testing.T) {
	cids := []string{"1", "2", "3"}
	job := NewJob(ScopeVisiting, cids, time.Unix(1000, 0))
	cids[0] = "mutated"

	if job.CIDs[0] != "1" {
		t.Fatalf("expected job's CID list to be an independent copy, got %v", job.CIDs)
	}
	if job.Total != 3 {
		t.Fatalf("expected total 3, got %d", job.Total)
	}
	if job.Done() {
		t.Fatal("expected fresh job to not be done")
	}
}

func TestJobDoneWhenCursorReachesTotal(t *testing.T) {
	job := NewJob(ScopeLocal, []string{"1", "2"}, time.Unix(0, 0))
	job.Cursor = 2
	if !job.Done() {
		t.Fatal("expected job with cursor==total to be done")
	}
}

func TestParseScope(t *testing.T) {
	if _, err := ParseScope("visiting"); err != nil {
		t.Fatalf("expected visiting to be valid: %v", err)
	}
	if _, err := ParseScope("local"); err != nil {
		t.Fatalf("expected local to be valid: %v", err)
	}
	if _, err := ParseScope("bogus"); err == nil {
		t.Fatal("expected bogus scope to be rejected")
	}
}

func TestRuleDiffersByScope(t *testing.T) {
	visiting, err := Rule(ScopeVisiting)
	if err != nil {
		t.Fatalf("Rule(visiting): %v", err)
	}
	local, err := Rule(ScopeLocal)
	if err != nil {
		t.Fatalf("Rule(local): %v", err)
	}
	if visiting.HoursRequired != 10 {
		t.Fatalf("expected visiting to require 10h, got %v", visiting.HoursRequired)
	}
	if local.HoursRequired != 15 {
		t.Fatalf("expected local to require 15h, got %v", local.HoursRequired)
	}
}

func TestPartialSetUpsertRejectsStaleVerdict(t *testing.T) {
	var set PartialSet
	set.Upsert(PartialResult{CID: "1234567", Hours: 20, ComputedAt: 2000})
	set.Upsert(PartialResult{CID: "1234567", Hours: 5, ComputedAt: 1000}) // older, should be ignored

	got, ok := set.Get("1234567")
	if !ok {
		t.Fatal("expected entry present")
	}
	if got.Hours != 20 {
		t.Fatalf("expected newer verdict (20h) to survive, got %v", got.Hours)
	}
}

func TestPartialSetUpsertAppliesNewerVerdict(t *testing.T) {
	var set PartialSet
	set.Upsert(PartialResult{CID: "1234567", Hours: 5, ComputedAt: 1000})
	set.Upsert(PartialResult{CID: "1234567", Hours: 20, ComputedAt: 2000})

	got, _ := set.Get("1234567")
	if got.Hours != 20 {
		t.Fatalf("expected newer verdict to replace older, got %v", got.Hours)
	}
	if len(set.Results) != 1 {
		t.Fatalf("expected a single upserted entry, got %d", len(set.Results))
	}
}
