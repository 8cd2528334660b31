// Package orchestrator runs interview sessions end to end: it owns session
// lifecycle, hands each user turn to the active module runner, sequences
// modules through the intake/safety/diagnostic/analysis/planning gates, and
// mirrors state to the store best-effort so sessions survive a restart.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mira/internal/config"
	"mira/internal/interview"
	"mira/internal/interview/extract"
	"mira/internal/interview/router"
	"mira/internal/interview/symptoms"
	"mira/internal/llm"
	"mira/internal/logging"
	"mira/internal/prompts"
	"mira/internal/store"
	"mira/internal/utils/id"
)

var (
	// ErrUnknownSession reports a session id with no in-memory slot and no
	// stored record to restore from.
	ErrUnknownSession = errors.New("unknown session")

	// ErrSessionExists reports a StartSession against an id already running.
	ErrSessionExists = errors.New("session already started")
)

const (
	welcomeMessage = "Hello, I'm Mira. I'll walk you through a structured mental-health check-in, one question at a time. Answer in your own words, and take whatever time you need."

	closingMessage = "That completes the interview. Thank you for walking through it with me. A clinician can review these results with you in detail."

	completedMessage = "This interview is already complete. Start a new session if you'd like to talk again."

	crisisMessage = "It sounds like you might be going through something really difficult. If you are in immediate danger, please call 911, or call or text 988 to reach the Suicide and Crisis Lifeline and talk with someone right now."

	recoveredMessage = "Sorry, something went wrong on my side. Could you say that again?"
)

// Dependencies wires the orchestrator. Modules and Store are required;
// everything else has a workable zero value.
type Dependencies struct {
	Modules  []*interview.ModuleDefinition
	Registry *Registry
	Store    store.Store
	Pipeline *extract.Pipeline
	Router   *router.Router
	Ledger   *symptoms.Ledger
	Client   llm.Client
	Prompts  *prompts.Loader
	Config   config.Config
	Metrics  *Metrics
	Logger   logging.Logger
}

// Orchestrator coordinates every active interview session. All session
// mutation happens under the per-session slot lock; the orchestrator itself
// is safe for concurrent use.
type Orchestrator struct {
	runners  []Runner
	byID     map[string]Runner
	degraded []string

	store   store.Store
	ledger  *symptoms.Ledger
	cfg     config.Config
	metrics *Metrics
	tracer  trace.Tracer
	logger  logging.Logger

	mu    sync.Mutex
	slots map[string]*sessionSlot
}

// sessionSlot is the in-memory authority for one session. The store only
// mirrors it. The slot lock serializes all turns for its session.
type sessionSlot struct {
	mu      sync.Mutex
	session *interview.Session
	states  map[string]*interview.ModuleState
	results map[string]*interview.ModuleResult
}

// New builds an orchestrator over the given module definitions. A module
// whose runner cannot be constructed is logged and left out rather than
// failing startup; the interview runs degraded without it.
func New(deps Dependencies) (*Orchestrator, error) {
	if len(deps.Modules) == 0 {
		return nil, fmt.Errorf("orchestrator: no module definitions")
	}
	logger := logging.OrNop(deps.Logger)
	if deps.Store == nil {
		deps.Store = store.NewMemory()
	}
	if deps.Registry == nil {
		deps.Registry = BuiltinRegistry()
	}
	if deps.Metrics == nil {
		deps.Metrics = defaultMetrics()
	}
	if deps.Ledger == nil {
		deps.Ledger = symptoms.NewLedger(deps.Config.Interview.SymptomSnippetLimit, logger)
	}
	if deps.Router == nil {
		deps.Router = router.New(logger)
	}

	runnerDeps := RunnerDeps{
		Pipeline:  deps.Pipeline,
		Router:    deps.Router,
		Ledger:    deps.Ledger,
		Client:    deps.Client,
		Prompts:   deps.Prompts,
		Interview: deps.Config.Interview,
		Metrics:   deps.Metrics,
		Logger:    logger,
	}

	o := &Orchestrator{
		byID:    make(map[string]Runner, len(deps.Modules)),
		store:   deps.Store,
		ledger:  deps.Ledger,
		cfg:     deps.Config,
		metrics: deps.Metrics,
		tracer:  otel.Tracer("mira/internal/orchestrator"),
		logger:  logger,
		slots:   make(map[string]*sessionSlot),
	}
	for _, def := range deps.Modules {
		runner, err := deps.Registry.factory(def.ID)(def, runnerDeps)
		if err != nil {
			logger.Warn("orchestrator: module %s unavailable, continuing without it: %v", def.ID, err)
			o.degraded = append(o.degraded, def.ID)
			continue
		}
		o.runners = append(o.runners, runner)
		o.byID[runner.ID()] = runner
	}
	if len(o.runners) == 0 {
		return nil, fmt.Errorf("orchestrator: every module failed to construct")
	}
	return o, nil
}

// Degraded lists module ids that failed to construct and are not being run.
func (o *Orchestrator) Degraded() []string {
	return append([]string(nil), o.degraded...)
}

// TurnReply is one assistant response to the caller.
type TurnReply struct {
	Message    string   `json:"message"`
	IsComplete bool     `json:"is_complete"`
	Metadata   Metadata `json:"metadata"`
}

// Metadata describes where the interview stands after a turn.
type Metadata struct {
	SessionID   string  `json:"session_id"`
	Module      string  `json:"module,omitempty"`
	QuestionID  string  `json:"question_id,omitempty"`
	ProgressPct float64 `json:"progress_pct"`
	SafetyFlag  bool    `json:"safety_flag,omitempty"`
}

// StartSession opens a new interview and returns the greeting plus the first
// question. An empty sessionID gets a generated one, readable from the reply
// metadata.
func (o *Orchestrator) StartSession(ctx context.Context, userID, sessionID string) (*TurnReply, error) {
	if sessionID == "" {
		sessionID = id.NewSessionID()
	}
	now := time.Now()
	slot := &sessionSlot{
		session: &interview.Session{
			ID:        sessionID,
			UserID:    userID,
			State:     interview.SessionActive,
			Timeline:  make(map[string]interview.ModuleTimeline),
			CreatedAt: now,
			UpdatedAt: now,
		},
		states:  make(map[string]*interview.ModuleState),
		results: make(map[string]*interview.ModuleResult),
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	o.mu.Lock()
	if _, exists := o.slots[sessionID]; exists {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	o.slots[sessionID] = slot
	o.mu.Unlock()

	o.metrics.SessionStarted()
	o.logger.Info("session %s started for user %s", sessionID, userID)

	reply := o.advance(ctx, slot, []string{welcomeMessage})
	o.appendTranscript(ctx, slot.session, interview.RoleAssistant, reply.Message, slot.session.CurrentModule, reply.Metadata.QuestionID)
	o.saveSession(ctx, slot.session)
	return reply, nil
}

// ProcessMessage feeds one user message to the active module and returns the
// next assistant reply. Unknown ids are restored from the store when a prior
// process persisted them.
func (o *Orchestrator) ProcessMessage(ctx context.Context, sessionID, text string) (*TurnReply, error) {
	slot, err := o.slot(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	sess := slot.session
	started := time.Now()
	observedModule := sess.CurrentModule
	defer func() {
		o.metrics.ObserveTurn(observedModule, time.Since(started))
	}()

	ctx, span := o.tracer.Start(ctx, "interview.process_message",
		trace.WithAttributes(
			attribute.String("interview.session_id", sessionID),
			attribute.String("interview.module", sess.CurrentModule),
		))
	defer span.End()

	if sess.Completed() {
		return o.reply(slot, []string{completedMessage}, "", true), nil
	}

	var segments []string
	if extract.ContainsRiskLanguage(text) && !sess.SafetyFlag {
		sess.SafetyFlag = true
		o.metrics.IncSafetyFlag("keyword")
		o.logger.Warn("session %s: risk language detected in free input", sessionID)
		segments = append(segments, crisisMessage)
	}

	// Snapshot the history before appending the live message so extraction
	// context does not contain it twice.
	history := o.history(ctx, sessionID)
	o.appendTranscript(ctx, sess, interview.RoleUser, text, sess.CurrentModule, o.currentQuestionID(slot))

	runner, ok := o.byID[sess.CurrentModule]
	if !ok {
		// Current module is gone (degraded at startup after a restore).
		// Route past it instead of stranding the session.
		reply := o.advance(ctx, slot, segments)
		o.appendTranscript(ctx, sess, interview.RoleAssistant, reply.Message, sess.CurrentModule, reply.Metadata.QuestionID)
		o.saveSession(ctx, sess)
		return reply, nil
	}

	outcome := o.step(ctx, runner, slot, text, history, false)

	// Resolved high-risk criteria raise the flag as soon as they land, not
	// at module completion.
	if runner.Definition().Group == interview.GroupSafety && !sess.SafetyFlag {
		if st := slot.states[runner.ID()]; st != nil && anyMet(st.CriteriaStatus) {
			sess.SafetyFlag = true
			o.metrics.IncSafetyFlag("criteria")
			o.logger.Warn("session %s: safety criteria met in module %s", sessionID, runner.ID())
			segments = append(segments, crisisMessage)
		}
	}

	var reply *TurnReply
	if outcome.Done {
		o.finishModule(ctx, slot, runner, outcome)
		if outcome.Message != "" {
			segments = append(segments, outcome.Message)
		} else {
			segments = append(segments, fmt.Sprintf("Thank you, that covers %s.", runner.Definition().Name))
		}
		reply = o.advance(ctx, slot, segments)
	} else {
		if outcome.Message != "" {
			segments = append(segments, outcome.Message)
		}
		reply = o.reply(slot, segments, outcome.QuestionID, false)
		o.saveState(ctx, sess.ID, slot.states[runner.ID()])
	}

	o.appendTranscript(ctx, sess, interview.RoleAssistant, reply.Message, sess.CurrentModule, reply.Metadata.QuestionID)
	sess.UpdatedAt = time.Now()
	o.saveSession(ctx, sess)

	span.SetAttributes(
		attribute.Bool("interview.safety_flag", sess.SafetyFlag),
		attribute.Bool("interview.complete", reply.IsComplete),
	)
	return reply, nil
}

// advance enters modules until one asks a question or none are left.
// Synthesis stages complete inline, their narratives joining the reply.
func (o *Orchestrator) advance(ctx context.Context, slot *sessionSlot, segments []string) *TurnReply {
	sess := slot.session
	for {
		nextID := o.nextModuleID(sess)
		if nextID == "" {
			sess.State = interview.SessionComplete
			sess.CurrentModule = ""
			sess.UpdatedAt = time.Now()
			o.metrics.SessionEnded()
			o.logger.Info("session %s complete", sess.ID)
			segments = append(segments, closingMessage)
			return o.reply(slot, segments, "", true)
		}

		runner := o.byID[nextID]
		now := time.Now()
		if _, ok := slot.states[nextID]; !ok {
			slot.states[nextID] = interview.NewModuleState(nextID, now)
		}
		if sess.CurrentModule != nextID {
			o.logger.Info("session %s: entering module %s", sess.ID, nextID)
		}
		sess.CurrentModule = nextID
		if sess.TimelineFor(nextID).Status != interview.ModuleInProgress {
			sess.MarkModule(nextID, interview.ModuleInProgress, now)
		}

		outcome := o.step(ctx, runner, slot, "", nil, true)
		if outcome.Done {
			o.finishModule(ctx, slot, runner, outcome)
			if outcome.Message != "" {
				segments = append(segments, outcome.Message)
			}
			continue
		}
		if outcome.Message != "" {
			segments = append(segments, outcome.Message)
		}
		o.saveState(ctx, sess.ID, slot.states[nextID])
		return o.reply(slot, segments, outcome.QuestionID, false)
	}
}

// nextModuleID picks the next module to run: the configured starting module
// for a fresh session, then bank order with the group gates applied.
func (o *Orchestrator) nextModuleID(sess *interview.Session) string {
	if len(sess.ModuleHistory) == 0 && sess.CurrentModule == "" {
		if start := o.cfg.Interview.StartingModule; start != "" {
			if runner, ok := o.byID[start]; ok &&
				sess.TimelineFor(start).Status != interview.ModuleCompleted &&
				o.eligible(sess, runner.Definition()) {
				return start
			}
		}
	}
	for _, runner := range o.runners {
		moduleID := runner.ID()
		if sess.TimelineFor(moduleID).Status == interview.ModuleCompleted {
			continue
		}
		if !o.eligible(sess, runner.Definition()) {
			continue
		}
		return moduleID
	}
	return ""
}

// eligible applies the stage gates: analysis waits for every diagnostic
// module, planning waits for analysis.
func (o *Orchestrator) eligible(sess *interview.Session, def *interview.ModuleDefinition) bool {
	switch def.Group {
	case interview.GroupAnalysis:
		return o.groupCompleted(sess, interview.GroupDiagnostic)
	case interview.GroupPlanning:
		return o.groupCompleted(sess, interview.GroupAnalysis)
	default:
		return true
	}
}

func (o *Orchestrator) groupCompleted(sess *interview.Session, group interview.ModuleGroup) bool {
	for _, runner := range o.runners {
		def := runner.Definition()
		if def.Group != group {
			continue
		}
		if sess.TimelineFor(def.ID).Status != interview.ModuleCompleted {
			return false
		}
	}
	return true
}

// step runs one runner call behind a recover so a module bug degrades to a
// re-ask instead of killing the session.
func (o *Orchestrator) step(ctx context.Context, runner Runner, slot *sessionSlot, input string, history []interview.ConversationTurn, entering bool) (out *StepOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("module %s panicked: %v", runner.ID(), rec)
			o.metrics.IncTurnFailure(runner.ID())
			out = &StepOutcome{
				Message:    recoveredMessage,
				QuestionID: o.currentQuestionID(slot),
			}
		}
	}()

	t := &Turn{
		Session: slot.session,
		State:   slot.states[runner.ID()],
		Results: slot.results,
		History: history,
		Input:   input,
	}
	if entering {
		return runner.Enter(ctx, t)
	}
	return runner.HandleTurn(ctx, t)
}

// finishModule freezes a completed module's result and updates the session
// timeline and safety flag.
func (o *Orchestrator) finishModule(ctx context.Context, slot *sessionSlot, runner Runner, outcome *StepOutcome) {
	sess := slot.session
	moduleID := runner.ID()
	now := time.Now()

	res := outcome.Result
	if res == nil {
		res = &interview.ModuleResult{ModuleID: moduleID, CompletedAt: now}
	}
	slot.results[moduleID] = res
	delete(slot.states, moduleID)
	sess.MarkModule(moduleID, interview.ModuleCompleted, now)
	sess.ModuleHistory = append(sess.ModuleHistory, moduleID)

	// A safety module owns the flag: leaving with nothing met resolves it,
	// leaving with met criteria keeps it raised.
	if runner.Definition().Group == interview.GroupSafety {
		if res.Summary.MetCount == 0 {
			if sess.SafetyFlag {
				o.logger.Info("session %s: safety concerns resolved low by %s", sess.ID, moduleID)
			}
			sess.SafetyFlag = false
		} else if !sess.SafetyFlag {
			sess.SafetyFlag = true
			o.metrics.IncSafetyFlag("criteria")
		}
	}

	if err := o.store.PutModuleResult(ctx, sess.ID, moduleID, res); err != nil {
		o.logger.Warn("persist result %s/%s: %v", sess.ID, moduleID, err)
	}
	o.metrics.ModuleCompleted(moduleID, res.EarlyStop)
	o.logger.Info("session %s: module %s completed (early_stop=%t, criteria %d met)",
		sess.ID, moduleID, res.EarlyStop, res.Summary.MetCount)
}

// Progress is a read-only snapshot of how far a session has come.
type Progress struct {
	SessionID     string                 `json:"session_id"`
	State         interview.SessionState `json:"state"`
	CurrentModule string                 `json:"current_module,omitempty"`
	OverallPct    float64                `json:"overall_pct"`
	IsComplete    bool                   `json:"is_complete"`
	SafetyFlag    bool                   `json:"safety_flag,omitempty"`
	Modules       []ModuleProgress       `json:"modules"`
	Degraded      []string               `json:"degraded,omitempty"`
}

// ModuleProgress is one module's slice of the progress snapshot.
type ModuleProgress struct {
	ModuleID    string                 `json:"module_id"`
	Name        string                 `json:"name"`
	Status      interview.ModuleStatus `json:"status"`
	Answered    int                    `json:"answered"`
	Questions   int                    `json:"questions"`
	CriteriaMet int                    `json:"criteria_met"`
	EarlyStop   bool                   `json:"early_stop,omitempty"`
}

// GetProgress reports per-module and overall completion for a session.
func (o *Orchestrator) GetProgress(ctx context.Context, sessionID string) (*Progress, error) {
	slot, err := o.slot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()

	sess := slot.session
	p := &Progress{
		SessionID:     sess.ID,
		State:         sess.State,
		CurrentModule: sess.CurrentModule,
		OverallPct:    o.progressPct(slot),
		IsComplete:    sess.Completed(),
		SafetyFlag:    sess.SafetyFlag,
		Degraded:      o.Degraded(),
	}
	for _, runner := range o.runners {
		def := runner.Definition()
		entry := ModuleProgress{
			ModuleID:  def.ID,
			Name:      def.Name,
			Status:    sess.TimelineFor(def.ID).Status,
			Questions: len(def.Questions),
		}
		if st := slot.states[def.ID]; st != nil {
			entry.Answered = len(st.AnsweredIDs)
			entry.CriteriaMet = countMet(st.CriteriaStatus)
		}
		if res := slot.results[def.ID]; res != nil {
			entry.Answered = len(res.Responses)
			entry.CriteriaMet = res.Summary.MetCount
			entry.EarlyStop = res.EarlyStop
		}
		p.Modules = append(p.Modules, entry)
	}
	return p, nil
}

// Results is the full outcome bundle for a session.
type Results struct {
	SessionID  string                    `json:"session_id"`
	State      interview.SessionState    `json:"state"`
	SafetyFlag bool                      `json:"safety_flag,omitempty"`
	Modules    []*interview.ModuleResult `json:"modules"`
	Symptoms   []interview.Symptom       `json:"symptoms,omitempty"`
}

// GetResults returns completed module results in interview order plus the
// accumulated symptom ledger. Available mid-session; modules still in
// progress are simply absent.
func (o *Orchestrator) GetResults(ctx context.Context, sessionID string) (*Results, error) {
	slot, err := o.slot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()

	sess := slot.session
	out := &Results{
		SessionID:  sess.ID,
		State:      sess.State,
		SafetyFlag: sess.SafetyFlag,
		Symptoms:   o.ledger.Entries(sessionID),
	}
	for _, runner := range o.runners {
		if res, ok := slot.results[runner.ID()]; ok {
			out.Modules = append(out.Modules, res)
		}
	}
	return out, nil
}

// --- internal helpers ---

// slot finds the in-memory slot for a session, restoring it from the store
// when a previous process persisted one.
func (o *Orchestrator) slot(ctx context.Context, sessionID string) (*sessionSlot, error) {
	o.mu.Lock()
	if s, ok := o.slots[sessionID]; ok {
		o.mu.Unlock()
		return s, nil
	}
	o.mu.Unlock()

	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			o.logger.Warn("session %s: store lookup failed: %v", sessionID, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	restored := &sessionSlot{
		session: sess,
		states:  make(map[string]*interview.ModuleState),
		results: make(map[string]*interview.ModuleResult),
	}
	if results, rerr := o.store.GetAllModuleResults(ctx, sessionID); rerr == nil && results != nil {
		restored.results = results
	}
	if sess.CurrentModule != "" {
		st, serr := o.store.GetModuleState(ctx, sessionID, sess.CurrentModule)
		if serr != nil {
			if !errors.Is(serr, store.ErrNotFound) {
				o.logger.Warn("session %s: state restore failed: %v", sessionID, serr)
			}
			st = interview.NewModuleState(sess.CurrentModule, time.Now())
		}
		restored.states[sess.CurrentModule] = st
	}

	o.mu.Lock()
	if existing, ok := o.slots[sessionID]; ok {
		o.mu.Unlock()
		return existing, nil
	}
	o.slots[sessionID] = restored
	o.mu.Unlock()

	if !sess.Completed() {
		o.metrics.SessionStarted()
	}
	o.logger.Info("session %s restored from store (module %s)", sessionID, sess.CurrentModule)
	return restored, nil
}

func (o *Orchestrator) reply(slot *sessionSlot, segments []string, questionID string, complete bool) *TurnReply {
	sess := slot.session
	return &TurnReply{
		Message:    strings.Join(segments, "\n\n"),
		IsComplete: complete,
		Metadata: Metadata{
			SessionID:   sess.ID,
			Module:      sess.CurrentModule,
			QuestionID:  questionID,
			ProgressPct: o.progressPct(slot),
			SafetyFlag:  sess.SafetyFlag,
		},
	}
}

// progressPct weights every module equally, counting the active module as
// its answered fraction.
func (o *Orchestrator) progressPct(slot *sessionSlot) float64 {
	if len(o.runners) == 0 {
		return 0
	}
	var done float64
	for _, runner := range o.runners {
		switch slot.session.TimelineFor(runner.ID()).Status {
		case interview.ModuleCompleted:
			done++
		case interview.ModuleInProgress:
			if st := slot.states[runner.ID()]; st != nil {
				if total := len(runner.Definition().Questions); total > 0 {
					done += float64(len(st.AnsweredIDs)) / float64(total)
				}
			}
		}
	}
	return done / float64(len(o.runners)) * 100
}

func (o *Orchestrator) currentQuestionID(slot *sessionSlot) string {
	if st := slot.states[slot.session.CurrentModule]; st != nil {
		return st.CurrentQuestion
	}
	return ""
}

func (o *Orchestrator) history(ctx context.Context, sessionID string) []interview.ConversationTurn {
	turns, err := o.store.GetConversationHistory(ctx, sessionID, o.cfg.Extraction.ContextWindowTurns)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			o.logger.Warn("session %s: history read failed: %v", sessionID, err)
		}
		return nil
	}
	return turns
}

func (o *Orchestrator) appendTranscript(ctx context.Context, sess *interview.Session, role, content, moduleID, questionID string) {
	if content == "" {
		return
	}
	turn := interview.ConversationTurn{
		ID:         id.NewTurnID(),
		SessionID:  sess.ID,
		Role:       role,
		Content:    content,
		Module:     moduleID,
		QuestionID: questionID,
		Timestamp:  time.Now(),
	}
	if err := o.store.AppendConversationTurn(ctx, sess.ID, turn); err != nil {
		o.logger.Warn("session %s: transcript append failed: %v", sess.ID, err)
	}
}

func (o *Orchestrator) saveSession(ctx context.Context, sess *interview.Session) {
	if err := o.store.PutSession(ctx, sess); err != nil {
		o.logger.Warn("session %s: persist failed: %v", sess.ID, err)
	}
}

func (o *Orchestrator) saveState(ctx context.Context, sessionID string, st *interview.ModuleState) {
	if st == nil {
		return
	}
	if err := o.store.PutModuleState(ctx, sessionID, st.ModuleID, st); err != nil {
		o.logger.Warn("session %s: persist state %s failed: %v", sessionID, st.ModuleID, err)
	}
}

func anyMet(status interview.CriteriaStatus) bool {
	for _, res := range status {
		if res == interview.ResolutionMet {
			return true
		}
	}
	return false
}

func countMet(status interview.CriteriaStatus) int {
	n := 0
	for _, res := range status {
		if res == interview.ResolutionMet {
			n++
		}
	}
	return n
}
