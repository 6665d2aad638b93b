package controller

import (
	"time"

	"github.com/dgnsrekt/tabtalk/internal/cdpcontrol"
	"github.com/dgnsrekt/tabtalk/internal/types"
)

type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseCollecting  Phase = "collecting"
	PhaseAwaitingDst Phase = "awaiting_destination"
)

type Outcome string

const (
	OutcomeNone           Outcome = ""
	OutcomeCompleted      Outcome = "completed"
	OutcomePartialFailure Outcome = "partial_failure"
	OutcomeLogged         Outcome = "log_only"
	OutcomeAborted        Outcome = "aborted"
	OutcomeTabClosed      Outcome = "tab_closed"
	OutcomeRecovered      Outcome = "recovered"
)

const (
	KindCollect  = "collect"
	KindDownload = "download"
)

// ErrBusy rejects a round while another one is in flight.
var ErrBusy = &cdpcontrol.CodedError{Code: cdpcontrol.CodeBusy, Message: "a collection round is already in progress"}

// Request starts a collection round. DestinationTabID pastes into an
// existing tab instead of choosing one from the provider.
type Request struct {
	TabIDs           []string `json:"tab_ids"`
	Provider         string   `json:"llm_provider,omitempty"`
	PromptID         string   `json:"prompt_id,omitempty"`
	PromptContent    string   `json:"prompt_content,omitempty"`
	LocalFiles       []string `json:"local_files,omitempty"`
	DestinationTabID string   `json:"destination_tab_id,omitempty"`
}

// State is the coordinator's round state. Transitions are pure functions;
// the Service applies them under its lock.
type State struct {
	Phase         Phase
	Busy          bool
	RoundID       string
	Kind          string
	TabIDs        []string
	Results       []*types.CollectedTabInfo
	Collected     int
	Failed        int
	LLMTabID      string
	PromptContent string
	Provider      string
	LocalFiles    []string
	StartedAt     time.Time
	LastOutcome   Outcome
}

// Begin enters Collecting. Previous results stay until Finish replaces them.
func Begin(s State, kind, roundID string, req Request, now time.Time) (State, error) {
	if s.Phase != PhaseIdle && s.Phase != "" {
		return s, ErrBusy
	}
	return State{
		Phase:         PhaseCollecting,
		Busy:          true,
		RoundID:       roundID,
		Kind:          kind,
		TabIDs:        append([]string(nil), req.TabIDs...),
		Results:       s.Results,
		PromptContent: req.PromptContent,
		Provider:      req.Provider,
		LocalFiles:    append([]string(nil), req.LocalFiles...),
		StartedAt:     now,
		LastOutcome:   s.LastOutcome,
	}, nil
}

// Finish records per-tab results, nil meaning the tab failed. A failed or
// empty tab ends the round as a partial failure and log-only mode ends it
// after logging; otherwise the round stays in Collecting, ready for a
// destination.
func Finish(s State, results []*types.CollectedTabInfo, logOnly bool) (State, Outcome) {
	s = Record(s, results)
	switch {
	case s.Failed > 0:
		return End(s, OutcomePartialFailure), OutcomePartialFailure
	case logOnly:
		return End(s, OutcomeLogged), OutcomeLogged
	}
	return s, OutcomeNone
}

// Record stores per-tab results without leaving the current phase. Results
// stay aligned with TabIDs; nil and empty results count as failed.
func Record(s State, results []*types.CollectedTabInfo) State {
	collected, failed := 0, 0
	for _, r := range results {
		if r != nil {
			collected++
		}
		if r == nil || r.Content == "" {
			failed++
		}
	}
	s.Results = append([]*types.CollectedTabInfo(nil), results...)
	s.Collected = collected
	s.Failed = failed
	return s
}

// Await records the destination tab the paster was injected into.
func Await(s State, tabID string) State {
	if s.Phase != PhaseCollecting {
		return s
	}
	s.Phase = PhaseAwaitingDst
	s.LLMTabID = tabID
	return s
}

// PasteDone completes an awaiting round.
func PasteDone(s State) State {
	if s.Phase != PhaseAwaitingDst {
		return s
	}
	return End(s, OutcomeCompleted)
}

// TabClosed ends the round when its destination tab goes away first.
func TabClosed(s State, tabID string) State {
	if s.Phase != PhaseAwaitingDst || tabID == "" || tabID != s.LLMTabID {
		return s
	}
	return End(s, OutcomeTabClosed)
}

func Abort(s State) State { return End(s, OutcomeAborted) }

// End folds any round back into Idle, keeping its results.
func End(s State, o Outcome) State {
	s.Phase = PhaseIdle
	s.Busy = false
	s.LLMTabID = ""
	s.LastOutcome = o
	return s
}
