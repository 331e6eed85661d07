package pipeline

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateIngested, StateHilRequired, true},
		{StateIngested, StateFailed, true},
		{StateIngested, StateFetched, false},
		{StateHilRequired, StateHilConfirmed, true},
		{StateHilRequired, StateReconciled, false},
		{StateHilConfirmed, StateFetchPending, true},
		{StateHilConfirmed, StateFetched, true},
		{StateFetchPending, StateFetched, true},
		{StateFetched, StateReconciled, true},
		{StateFetched, StateApproved, false},
		{StateReconciled, StateApproved, true},
		{StateReconciled, StateRejected, true},
		{StateReconciled, StateFailed, true},
		{StateApproved, StateRejected, false},
		{StateRejected, StateIngested, false},
		{StateFailed, StateIngested, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []State{StateApproved, StateRejected, StateFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	live := []State{StateIngested, StateHilRequired, StateHilConfirmed, StateFetchPending, StateFetched, StateReconciled}
	for _, s := range live {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestDisplay(t *testing.T) {
	if got := StateReconciled.Display(); got != "FINAL_REVIEW" {
		t.Fatalf("RECONCILED displays as %q, want FINAL_REVIEW", got)
	}
	if got := StateApproved.Display(); got != "APPROVED" {
		t.Fatalf("APPROVED displays as %q", got)
	}
	if got := StateHilRequired.Display(); got != "HIL_REQUIRED" {
		t.Fatalf("HIL_REQUIRED displays as %q", got)
	}
}
