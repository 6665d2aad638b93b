// Package controller is the coordinator: it owns the round state and runs
// collection, paste and download rounds on behalf of the API, action-button
// clicks and page messages.
package controller

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/dgnsrekt/tabtalk/internal/bus"
	"github.com/dgnsrekt/tabtalk/internal/cache"
	"github.com/dgnsrekt/tabtalk/internal/cdpcontrol"
	"github.com/dgnsrekt/tabtalk/internal/config"
	"github.com/dgnsrekt/tabtalk/internal/download"
	"github.com/dgnsrekt/tabtalk/internal/extract"
	"github.com/dgnsrekt/tabtalk/internal/notify"
	"github.com/dgnsrekt/tabtalk/internal/paster"
	"github.com/dgnsrekt/tabtalk/internal/provider"
	"github.com/dgnsrekt/tabtalk/internal/storage"
	"github.com/dgnsrekt/tabtalk/internal/types"
)

const (
	defaultClickWindow = 500 * time.Millisecond
	destinationTimeout = 30 * time.Second
	destinationReady   = 20 * time.Second
)

// Browser is the slice of the CDP client the coordinator drives.
type Browser interface {
	ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error)
	ActiveTab(ctx context.Context) (cdpcontrol.TabInfo, error)
	Tab(ctx context.Context, tabID string) (cdpcontrol.TabInfo, error)
	OpenTab(ctx context.Context, url string) (cdpcontrol.TabInfo, error)
	ActivateTab(ctx context.Context, tabID string) error
	WaitReady(ctx context.Context, tabID string, timeout time.Duration) error
	Eval(ctx context.Context, tabID, body string, out any) error
	RegisterCDPEventHandler(method string, fn func(tabID string, params json.RawMessage)) func()
}

// Collector collects one tab.
type Collector interface {
	CollectPageContent(ctx context.Context, tabID string, timeout time.Duration) (*types.CollectedTabInfo, bool)
}

// Bridge installs the page bridge and serves page requests.
type Bridge interface {
	Install(ctx context.Context, tabID string) error
	Handle(typ string, h bus.RequestHandler)
}

// Journal records finished rounds.
type Journal interface {
	Write(rec storage.RoundRecord) error
}

type Deps struct {
	Browser     Browser
	Bridge      Bridge
	Broker      *bus.Broker
	Collector   Collector
	Providers   *provider.Registry
	Prompts     *config.Prompts
	Downloads   *download.Store
	Notifier    *notify.Notifier
	Journal     Journal
	Subtitles   *cache.Ordered[string, string]
	NotionPages *cache.NotionPages
	// OpenEditor opens the saved prompts for editing; nil disables it.
	OpenEditor func(promptID string) error
}

type Options struct {
	CollectTimeout time.Duration
	PasteRecovery  time.Duration
	ClickWindow    time.Duration
	LogOnly        bool
}

// RoundView is the externally visible round state.
type RoundView struct {
	RoundID     string                    `json:"round_id,omitempty"`
	Kind        string                    `json:"kind,omitempty"`
	Phase       Phase                     `json:"phase"`
	Busy        bool                      `json:"busy"`
	TabIDs      []string                  `json:"tab_ids,omitempty"`
	LLMTabID    string                    `json:"llm_tab_id,omitempty"`
	Provider    string                    `json:"llm_provider,omitempty"`
	Collected   int                       `json:"collected"`
	Failed      int                       `json:"failed"`
	LastOutcome Outcome                   `json:"last_outcome,omitempty"`
	StartedAt   *time.Time                `json:"started_at,omitempty"`
	Results     []*types.CollectedTabInfo `json:"results,omitempty"`
}

// Service runs rounds one at a time.
type Service struct {
	d    Deps
	opts Options

	mu       sync.Mutex
	state    State
	recovery *time.Timer
	click    *time.Timer

	baseCtx context.Context
	cancel  context.CancelFunc
	rounds  sync.WaitGroup
	unreg   []func()
	subID   int64
	subDone chan struct{}
}

func NewService(d Deps, opts Options) *Service {
	if opts.ClickWindow <= 0 {
		opts.ClickWindow = defaultClickWindow
	}
	if d.Providers == nil {
		d.Providers = provider.NewRegistry("", nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		d:       d,
		opts:    opts,
		state:   State{Phase: PhaseIdle},
		baseCtx: ctx,
		cancel:  cancel,
	}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

func (s *Service) requireTabIDs(ids []string) ([]string, error) {
	clean := lo.Uniq(lo.Compact(lo.Map(ids, func(id string, _ int) string { return strings.TrimSpace(id) })))
	if len(clean) == 0 {
		return nil, s.requireNonEmpty("", "tab_ids")
	}
	return clean, nil
}

// State returns a snapshot of the round, including the last results.
func (s *Service) State() RoundView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := viewOf(s.state)
	v.Results = append([]*types.CollectedTabInfo(nil), s.state.Results...)
	return v
}

func viewOf(st State) RoundView {
	v := RoundView{
		RoundID:     st.RoundID,
		Kind:        st.Kind,
		Phase:       st.Phase,
		Busy:        st.Busy,
		TabIDs:      append([]string(nil), st.TabIDs...),
		LLMTabID:    st.LLMTabID,
		Provider:    st.Provider,
		Collected:   st.Collected,
		Failed:      st.Failed,
		LastOutcome: st.LastOutcome,
	}
	if !st.StartedAt.IsZero() {
		started := st.StartedAt
		v.StartedAt = &started
	}
	return v
}

// Collect starts a collect-and-paste round and returns once it is running.
func (s *Service) Collect(_ context.Context, req Request) (RoundView, error) {
	ids, err := s.requireTabIDs(req.TabIDs)
	if err != nil {
		return RoundView{}, err
	}
	req.TabIDs = ids
	if !s.opts.LogOnly {
		if _, ok := s.d.Providers.Lookup(req.Provider); !ok {
			return RoundView{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeUnknownProvider, Message: "llm provider not supported: " + req.Provider}
		}
	}
	if req.PromptID != "" {
		p, ok := s.d.Prompts.Get(req.PromptID)
		if !ok {
			return RoundView{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeNotFound, Message: "prompt not found: " + req.PromptID}
		}
		if strings.TrimSpace(req.PromptContent) == "" {
			req.PromptContent = p.Content
		}
	}

	view, err := s.begin(KindCollect, req)
	if err != nil {
		return RoundView{}, err
	}
	s.rounds.Add(1)
	go func() {
		defer s.rounds.Done()
		s.runCollect(view.RoundID, req)
	}()
	return view, nil
}

// Download starts a round that saves every collected tab as a Markdown file.
func (s *Service) Download(_ context.Context, tabIDs []string) (RoundView, error) {
	ids, err := s.requireTabIDs(tabIDs)
	if err != nil {
		return RoundView{}, err
	}
	req := Request{TabIDs: ids}
	view, err := s.begin(KindDownload, req)
	if err != nil {
		return RoundView{}, err
	}
	s.rounds.Add(1)
	go func() {
		defer s.rounds.Done()
		s.runDownload(view.RoundID, req)
	}()
	return view, nil
}

func (s *Service) begin(kind string, req Request) (RoundView, error) {
	roundID := uuid.NewString()

	s.mu.Lock()
	next, err := Begin(s.state, kind, roundID, req, time.Now())
	if err != nil {
		s.mu.Unlock()
		slog.Info("coordinator round rejected, busy", "kind", kind, "current_round", s.state.RoundID)
		return RoundView{}, err
	}
	s.state = next
	view := viewOf(next)
	s.mu.Unlock()

	slog.Info("coordinator round started", "round_id", roundID, "kind", kind, "tabs", len(req.TabIDs))
	s.publishStatus(view)
	return view, nil
}

func (s *Service) collectAll(ctx context.Context, tabIDs []string) []*types.CollectedTabInfo {
	results := make([]*types.CollectedTabInfo, 0, len(tabIDs))
	for _, id := range tabIDs {
		if ctx.Err() != nil {
			results = append(results, nil)
			continue
		}
		info, ok := s.d.Collector.CollectPageContent(ctx, id, s.opts.CollectTimeout)
		if !ok {
			slog.Warn("coordinator tab collection failed", "tab_id", id)
			results = append(results, nil)
			continue
		}
		results = append(results, info)
	}
	return results
}

func (s *Service) runCollect(roundID string, req Request) {
	results := s.collectAll(s.baseCtx, req.TabIDs)

	var outcome Outcome
	s.transition(func(st State) State {
		if st.RoundID != roundID {
			return st
		}
		st, outcome = Finish(st, results, s.opts.LogOnly)
		return st
	})

	switch outcome {
	case OutcomePartialFailure:
		slog.Warn("coordinator round ended with failed tabs", "round_id", roundID)
		return
	case OutcomeLogged:
		for _, r := range results {
			slog.Info("coordinator log-only result", "round_id", roundID, "tab_id", r.TabID, "title", r.Title, "url", r.URL, "content", r.Content)
		}
		return
	}

	p, ok := s.d.Providers.Lookup(req.Provider)
	if !ok {
		slog.Error("coordinator llm provider not supported", "round_id", roundID, "provider", req.Provider)
		s.abort(roundID)
		return
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, destinationTimeout)
	defer cancel()

	destID, err := s.openDestination(ctx, p, req.DestinationTabID)
	if err != nil {
		slog.Error("coordinator destination unavailable", "round_id", roundID, "provider", p.ID, "error", err)
		s.abort(roundID)
		return
	}
	if err := s.injectPaster(ctx, destID); err != nil {
		slog.Error("coordinator paster injection failed", "round_id", roundID, "tab_id", destID, "error", err)
		s.abort(roundID)
		return
	}

	s.transition(func(st State) State {
		if st.RoundID != roundID {
			return st
		}
		st = Await(st, destID)
		s.armRecoveryLocked(roundID)
		return st
	})
	slog.Info("coordinator awaiting paste", "round_id", roundID, "llm_tab_id", destID, "provider", p.ID)
}

func (s *Service) openDestination(ctx context.Context, p provider.Provider, requested string) (string, error) {
	if requested != "" {
		if err := s.d.Browser.ActivateTab(ctx, requested); err != nil {
			return "", err
		}
		return requested, nil
	}

	if active, err := s.d.Browser.ActiveTab(ctx); err == nil {
		if match, ok := s.d.Providers.MatchURL(active.URL); ok && match.ID == p.ID {
			if err := s.d.Browser.ActivateTab(ctx, active.TabID); err != nil {
				slog.Warn("coordinator activate destination failed", "tab_id", active.TabID, "error", err)
			}
			slog.Info("coordinator reusing destination tab", "tab_id", active.TabID, "provider", p.ID)
			return active.TabID, nil
		}
	}

	tab, err := s.d.Browser.OpenTab(ctx, provider.DestinationURL(p))
	if err != nil {
		return "", err
	}
	if err := s.d.Browser.ActivateTab(ctx, tab.TabID); err != nil {
		slog.Warn("coordinator activate destination failed", "tab_id", tab.TabID, "error", err)
	}
	return tab.TabID, nil
}

func (s *Service) injectPaster(ctx context.Context, tabID string) error {
	if err := s.d.Browser.WaitReady(ctx, tabID, destinationReady); err != nil {
		slog.Warn("coordinator destination not ready, injecting anyway", "tab_id", tabID, "error", err)
	}
	if err := s.d.Bridge.Install(ctx, tabID); err != nil {
		return err
	}
	return s.d.Browser.Eval(ctx, tabID, paster.Script, nil)
}

func (s *Service) runDownload(roundID string, req Request) {
	results := s.collectAll(s.baseCtx, req.TabIDs)

	var st State
	s.transition(func(cur State) State {
		if cur.RoundID != roundID {
			return cur
		}
		st = Record(cur, results)
		return st
	})

	outcome := OutcomeCompleted
	if st.Failed > 0 {
		outcome = OutcomePartialFailure
	}

	valid := lo.Compact(st.Results)
	saved := make([]string, 0, len(valid))
	if s.d.Downloads == nil {
		slog.Error("coordinator download store not configured", "round_id", roundID)
		outcome = OutcomeAborted
	} else {
		now := time.Now()
		for i, r := range valid {
			meta, err := s.d.Downloads.Save(r, i, len(valid), now)
			if err != nil {
				slog.Error("coordinator download save failed", "round_id", roundID, "tab_id", r.TabID, "error", err)
				outcome = OutcomePartialFailure
				continue
			}
			saved = append(saved, meta.File)
		}
	}
	if len(valid) == 0 {
		slog.Info("coordinator no valid content to download", "round_id", roundID)
	}
	slog.Info("coordinator downloads saved", "round_id", roundID, "files", len(saved))

	if s.d.Notifier.Enabled() {
		ctx, cancel := context.WithTimeout(s.baseCtx, 10*time.Second)
		if err := s.d.Notifier.DownloadsSaved(ctx, saved); err != nil {
			slog.Warn("coordinator download notification failed", "round_id", roundID, "error", err)
		}
		cancel()
	}

	s.transition(func(cur State) State {
		if cur.RoundID != roundID || cur.Phase == PhaseIdle {
			return cur
		}
		return End(cur, outcome)
	})
}

// PasteComplete ends the awaiting round. An empty tabID matches any
// destination.
func (s *Service) PasteComplete(tabID string) bool {
	done := false
	s.transition(func(st State) State {
		if st.Phase != PhaseAwaitingDst || (tabID != "" && tabID != st.LLMTabID) {
			return st
		}
		done = true
		return PasteDone(st)
	})
	if done {
		slog.Info("coordinator paste complete", "tab_id", tabID)
	}
	return done
}

// TabClosed is the destination watchdog.
func (s *Service) TabClosed(tabID string) {
	s.transition(func(st State) State {
		next := TabClosed(st, tabID)
		if next.Phase != st.Phase {
			slog.Warn("coordinator destination tab closed before paste completed", "round_id", st.RoundID, "tab_id", tabID)
		}
		return next
	})
}

func (s *Service) abort(roundID string) {
	s.transition(func(st State) State {
		if st.RoundID != roundID {
			return st
		}
		return Abort(st)
	})
}

// armRecoveryLocked bounds how long a round may wait for its paste.
func (s *Service) armRecoveryLocked(roundID string) {
	if s.recovery != nil {
		s.recovery.Stop()
		s.recovery = nil
	}
	if s.opts.PasteRecovery <= 0 {
		return
	}
	s.recovery = time.AfterFunc(s.opts.PasteRecovery, func() {
		s.transition(func(st State) State {
			if st.RoundID != roundID || st.Phase != PhaseAwaitingDst {
				return st
			}
			slog.Warn("coordinator paste recovery timer fired", "round_id", roundID, "llm_tab_id", st.LLMTabID)
			return End(st, OutcomeRecovered)
		})
	})
}

// transition applies fn under the lock. When a round reaches Idle it is
// journalled and the recovery timer is cleared; any change is published.
func (s *Service) transition(fn func(State) State) {
	s.mu.Lock()
	prev := s.state
	next := fn(prev)
	s.state = next
	ended := prev.Phase != PhaseIdle && next.Phase == PhaseIdle
	if ended && s.recovery != nil {
		s.recovery.Stop()
		s.recovery = nil
	}
	changed := prev.Phase != next.Phase || prev.Busy != next.Busy || prev.LLMTabID != next.LLMTabID
	view := viewOf(next)
	s.mu.Unlock()

	if ended {
		s.journal(next)
		slog.Info("coordinator round finished", "round_id", next.RoundID, "kind", next.Kind, "outcome", next.LastOutcome,
			"collected", next.Collected, "failed", next.Failed)
	}
	if changed {
		s.publishStatus(view)
	}
}

func (s *Service) journal(st State) {
	if s.d.Journal == nil {
		return
	}
	rec := storage.RoundRecord{
		RoundID:    st.RoundID,
		Kind:       st.Kind,
		TabIDs:     st.TabIDs,
		Outcome:    string(st.LastOutcome),
		Collected:  st.Collected,
		Failed:     st.Failed,
		DurationMS: time.Since(st.StartedAt).Milliseconds(),
		FinishedAt: time.Now().UTC(),
	}
	if err := s.d.Journal.Write(rec); err != nil {
		slog.Warn("coordinator journal write failed", "round_id", st.RoundID, "error", err)
	}
}

func (s *Service) publishStatus(v RoundView) {
	if s.d.Broker == nil {
		return
	}
	v.Results = nil
	s.d.Broker.PublishPayload(bus.TypeRoundStatus, "", v)
}

// Tabs lists the browser's page tabs with whether each can be collected.
func (s *Service) Tabs(ctx context.Context) ([]TabView, error) {
	tabs, err := s.d.Browser.ListTabs(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(tabs, func(t cdpcontrol.TabInfo, _ int) TabView {
		return TabView{
			TabInfo:     t,
			Kind:        string(extract.Select(t.URL)),
			Collectable: extract.Collectable(t.URL),
		}
	}), nil
}

// TabView decorates a tab with its extractor kind.
type TabView struct {
	cdpcontrol.TabInfo
	Kind        string `json:"kind"`
	Collectable bool   `json:"collectable"`
}

// Wait blocks until running rounds have returned.
func (s *Service) Wait() { s.rounds.Wait() }

// Close cancels running rounds, stops timers and detaches from the bus.
func (s *Service) Close() {
	s.cancel()
	s.mu.Lock()
	if s.click != nil {
		s.click.Stop()
		s.click = nil
	}
	if s.recovery != nil {
		s.recovery.Stop()
		s.recovery = nil
	}
	unreg := s.unreg
	s.unreg = nil
	s.mu.Unlock()

	for _, fn := range unreg {
		fn()
	}
	if s.subDone != nil && s.d.Broker != nil {
		s.d.Broker.Unsubscribe(s.subID)
		<-s.subDone
		s.subDone = nil
	}
	s.rounds.Wait()
}
