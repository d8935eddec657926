package engine

import (
	"testing"

	"github.com/rakunlabs/statemanager/internal/service"
)

func TestFingerprintExcludesIdentifier(t *testing.T) {
	parents := map[string]string{"root": "r1", "branch": "b1"}

	withBranch := fingerprint(parents, "")
	withoutBranch := fingerprint(parents, "branch")

	if withBranch == withoutBranch {
		t.Fatal("excluding an identifier present in parents should change the fingerprint")
	}

	again := fingerprint(map[string]string{"branch": "b2", "root": "r1"}, "branch")
	if again != withoutBranch {
		t.Fatalf("fingerprint should be independent of map iteration order and of the excluded key's value: got %q want %q", again, withoutBranch)
	}
}

func TestFingerprintExcludingAbsentKeyIsNoop(t *testing.T) {
	parents := map[string]string{"root": "r1"}

	got := fingerprint(parents, "branch")
	want := fingerprint(parents, "")
	if got != want {
		t.Fatalf("excluding a key absent from parents should be a no-op: got %q want %q", got, want)
	}
}

func TestUnitesSatisfiedAllSuccess(t *testing.T) {
	ancestors := []service.State{
		{ID: "a1", Status: service.StatusSuccess},
		{ID: "a2", Status: service.StatusSuccess},
	}
	if !unitesSatisfied(service.UnitesAllSuccess, ancestors) {
		t.Fatal("expected ALL_SUCCESS satisfied when every ancestor is SUCCESS")
	}

	ancestors[1].Status = service.StatusErrored
	if unitesSatisfied(service.UnitesAllSuccess, ancestors) {
		t.Fatal("expected ALL_SUCCESS unsatisfied when one ancestor errored")
	}
}

func TestUnitesSatisfiedAllDone(t *testing.T) {
	ancestors := []service.State{
		{ID: "a1", Status: service.StatusSuccess},
		{ID: "a2", Status: service.StatusErrored},
	}
	if !unitesSatisfied(service.UnitesAllDone, ancestors) {
		t.Fatal("expected ALL_DONE satisfied when every ancestor reached a terminal status")
	}

	ancestors = append(ancestors, service.State{ID: "a3", Status: service.StatusQueued})
	if unitesSatisfied(service.UnitesAllDone, ancestors) {
		t.Fatal("expected ALL_DONE unsatisfied while an ancestor is still QUEUED")
	}
}

func TestUnitesSatisfiedEmptyAncestorGroup(t *testing.T) {
	if unitesSatisfied(service.UnitesAllSuccess, nil) {
		t.Fatal("an empty ancestor group must never be satisfied")
	}
}

func TestUnitesSatisfiedUnknownStrategy(t *testing.T) {
	ancestors := []service.State{{ID: "a1", Status: service.StatusSuccess}}
	if unitesSatisfied("BOGUS", ancestors) {
		t.Fatal("an unrecognized strategy must never be satisfied")
	}
}

func TestCanonicalJoinerPicksSmallestID(t *testing.T) {
	siblings := []service.State{
		{ID: "b"},
		{ID: "a"},
		{ID: "c"},
	}
	got := canonicalJoiner(siblings)
	if got.ID != "a" {
		t.Fatalf("canonicalJoiner = %q, want %q", got.ID, "a")
	}
}
