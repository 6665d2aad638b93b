package controller

import (
	"errors"
	"testing"
	"time"

	"github.com/dgnsrekt/tabtalk/internal/types"
)

func tab(id, content string) *types.CollectedTabInfo {
	return &types.CollectedTabInfo{TabID: id, Title: "T" + id, URL: "https://example.com/" + id, Content: content}
}

func TestBeginRejectsWhileBusy(t *testing.T) {
	now := time.Now()
	s, err := Begin(State{}, KindCollect, "r1", Request{TabIDs: []string{"a"}}, now)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if s.Phase != PhaseCollecting || !s.Busy || s.RoundID != "r1" {
		t.Fatalf("Begin() = %+v; want busy collecting round r1", s)
	}

	_, err = Begin(s, KindCollect, "r2", Request{}, now)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("Begin() while busy error = %v; want ErrBusy", err)
	}
}

func TestFinishPartialFailureKeepsResults(t *testing.T) {
	s, _ := Begin(State{}, KindCollect, "r1", Request{TabIDs: []string{"a", "b", "c"}}, time.Now())
	got, outcome := Finish(s, []*types.CollectedTabInfo{tab("a", "x"), nil, tab("c", "")}, false)

	if outcome != OutcomePartialFailure {
		t.Fatalf("Finish() outcome = %q; want %q", outcome, OutcomePartialFailure)
	}
	if got.Busy || got.Phase != PhaseIdle {
		t.Fatalf("Finish() = %+v; want idle and not busy", got)
	}
	if got.Collected != 2 || got.Failed != 2 {
		t.Fatalf("Finish() collected/failed = %d/%d; want 2/2", got.Collected, got.Failed)
	}
	if len(got.Results) != 3 || got.Results[0].TabID != "a" || got.Results[1] != nil || got.Results[2].TabID != "c" {
		t.Fatalf("Finish() results = %v; want [a, nil, c] aligned with tab ids", got.Results)
	}
}

func TestFinishLogOnlyEnds(t *testing.T) {
	s, _ := Begin(State{}, KindCollect, "r1", Request{TabIDs: []string{"a"}}, time.Now())
	got, outcome := Finish(s, []*types.CollectedTabInfo{tab("a", "x")}, true)
	if outcome != OutcomeLogged || got.Busy {
		t.Fatalf("Finish(logOnly) = %+v, %q; want idle log_only", got, outcome)
	}
}

func TestAwaitAndPasteDone(t *testing.T) {
	s, _ := Begin(State{}, KindCollect, "r1", Request{TabIDs: []string{"a"}}, time.Now())
	s, outcome := Finish(s, []*types.CollectedTabInfo{tab("a", "x")}, false)
	if outcome != OutcomeNone || s.Phase != PhaseCollecting {
		t.Fatalf("Finish() = %+v, %q; want collecting with no outcome", s, outcome)
	}

	s = Await(s, "llm")
	if s.Phase != PhaseAwaitingDst || s.LLMTabID != "llm" || !s.Busy {
		t.Fatalf("Await() = %+v; want awaiting llm", s)
	}

	s = PasteDone(s)
	if s.Phase != PhaseIdle || s.Busy || s.LLMTabID != "" || s.LastOutcome != OutcomeCompleted {
		t.Fatalf("PasteDone() = %+v; want idle completed", s)
	}
	if len(s.Results) != 1 {
		t.Fatalf("PasteDone() dropped results: %+v", s.Results)
	}
}

func TestTabClosedOnlyForDestination(t *testing.T) {
	s, _ := Begin(State{}, KindCollect, "r1", Request{TabIDs: []string{"a"}}, time.Now())
	s, _ = Finish(s, []*types.CollectedTabInfo{tab("a", "x")}, false)
	s = Await(s, "llm")

	if got := TabClosed(s, "other"); got.Phase != PhaseAwaitingDst {
		t.Fatalf("TabClosed(other) phase = %q; want awaiting", got.Phase)
	}
	got := TabClosed(s, "llm")
	if got.Phase != PhaseIdle || got.Busy || got.LastOutcome != OutcomeTabClosed {
		t.Fatalf("TabClosed(llm) = %+v; want idle tab_closed", got)
	}
}

func TestPasteDoneIgnoredWhenNotAwaiting(t *testing.T) {
	s, _ := Begin(State{}, KindCollect, "r1", Request{TabIDs: []string{"a"}}, time.Now())
	if got := PasteDone(s); got.Phase != PhaseCollecting {
		t.Fatalf("PasteDone() while collecting phase = %q; want collecting", got.Phase)
	}
}
