package flow

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/metrics"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// recentWindow is the number of history messages shown to the phraser (3 exchanges).
const recentWindow = 6

// leadSinkTimeout bounds one lead notification.
const leadSinkTimeout = 30 * time.Second

// Phraser rewrites a canned reply. Failures fall back to the template.
type Phraser interface {
	Phrase(ctx context.Context, pc genai.PromptContext) (string, error)
}

// LeadSink is notified once when a session completes. Errors are logged only.
type LeadSink interface {
	OnSessionComplete(ctx context.Context, s models.Session) error
}

// Engine drives conversations: it applies the state machine to incoming
// messages, keeps one nudge armed per active session and reports completed
// sessions to the lead sink.
type Engine struct {
	sessions   *SessionManager
	machine    *Machine
	nudges     *NudgeScheduler
	classifier AffirmativeClassifier
	phraser    Phraser
	sink       LeadSink
	hotline    string
	nudgeDelay time.Duration

	sinkWG sync.WaitGroup
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMachine replaces the default state machine.
func WithMachine(m *Machine) EngineOption { return func(e *Engine) { e.machine = m } }

// WithPhraser enables AI phrasing of forward prompts.
func WithPhraser(p Phraser) EngineOption { return func(e *Engine) { e.phraser = p } }

// WithLeadSink sets the completion sink.
func WithLeadSink(s LeadSink) EngineOption { return func(e *Engine) { e.sink = s } }

// WithClassifier sets the nudge reply classifier.
func WithClassifier(c AffirmativeClassifier) EngineOption {
	return func(e *Engine) { e.classifier = c }
}

// WithHotline sets the human-contact number used on escalation.
func WithHotline(number string) EngineOption { return func(e *Engine) { e.hotline = number } }

// WithNudgeDelay sets the idle time before a nudge.
func WithNudgeDelay(d time.Duration) EngineOption { return func(e *Engine) { e.nudgeDelay = d } }

// NewEngine creates an engine over sessions.
func NewEngine(sessions *SessionManager, opts ...EngineOption) *Engine {
	e := &Engine{
		sessions:   sessions,
		classifier: DefaultClassifier,
		hotline:    DefaultHotline,
		nudgeDelay: DefaultNudgeDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.machine == nil {
		e.machine = NewMachine()
	}
	e.nudges = NewNudgeScheduler(sessions.Locks(), e.nudgeDelay)
	slog.Debug("Engine created", "nudgeDelay", e.nudges.Delay(), "policy", e.machine.Policy(), "phraser", e.phraser != nil, "sink", e.sink != nil)
	return e
}

// Nudges exposes the scheduler for inspection.
func (e *Engine) Nudges() *NudgeScheduler {
	return e.nudges
}

// Machine returns the engine's state machine.
func (e *Engine) Machine() *Machine {
	return e.machine
}

// StartSession creates a session, sends the welcome prompt and arms its nudge.
func (e *Engine) StartSession(ctx context.Context, userID, displayName string) (models.Reply, error) {
	s, err := e.sessions.Create(ctx, userID, displayName)
	if err != nil {
		slog.Error("Engine.StartSession: create failed", "error", err)
		return models.Reply{}, err
	}
	unlock := e.sessions.Lock(s.ID)
	defer unlock()

	def, _ := e.machine.Definition(models.StateWelcome)
	msg := e.machine.Render(models.StateWelcome, e.vars(*s))
	if _, err := e.sessions.AppendMessage(ctx, s.ID, models.RoleAssistant, msg, def.QuickReplies); err != nil {
		slog.Error("Engine.StartSession: append welcome failed", "error", err, "sessionID", s.ID)
		return models.Reply{}, err
	}
	e.nudges.Arm(s.ID, e.onNudge)
	slog.Info("Engine.StartSession: session started", "sessionID", s.ID, "userID", s.UserID)
	return models.Reply{SessionID: s.ID, State: models.StateWelcome, Message: msg, QuickReplies: def.QuickReplies}, nil
}

// turn is the locked half of a message; phrase is set when the reply should
// be rewritten by the phraser after the lock is released. historyLen is the
// history length the phrased reply must be appended at.
type turn struct {
	reply      models.Reply
	phrase     *genai.PromptContext
	historyLen int
}

// HandleMessage processes one user message. It returns ErrSessionNotFound for
// unknown or expired sessions; validation, escalation and AI failures are
// reported in the reply, never as errors.
func (e *Engine) HandleMessage(ctx context.Context, id, text string) (models.Reply, error) {
	unlock := e.sessions.Lock(id)
	s, err := e.sessions.Get(ctx, id)
	if err != nil {
		unlock()
		slog.Error("Engine.HandleMessage: load failed", "error", err, "sessionID", id)
		return models.Reply{}, err
	}
	if s == nil {
		e.nudges.Cancel(id)
		unlock()
		return models.Reply{}, ErrSessionNotFound
	}

	var t turn
	switch {
	case s.IsCompleted:
		t = turn{reply: models.Reply{SessionID: id, State: models.StateComplete, Message: completedMessage, Completed: true}}
	case s.CurrentState == models.StateNudge:
		t, err = e.respondLocked(ctx, s, text)
	default:
		t, err = e.processLocked(ctx, s, text)
	}
	unlock()
	if err != nil {
		return models.Reply{}, err
	}

	if t.phrase != nil {
		e.phraseAndRecord(ctx, id, *t.phrase, t.historyLen, &t.reply)
	}
	return t.reply, nil
}

func (e *Engine) processLocked(ctx context.Context, s *models.Session, text string) (turn, error) {
	from := s.CurrentState
	res := e.machine.Process(from, text, s.UserData)

	after := s.Clone()
	after.UserData = res.UserData
	after.CurrentState = res.NextState
	vars := e.vars(after)

	reply := models.Reply{SessionID: s.ID, State: res.NextState, ErrorKind: res.ErrorKind, Escalated: res.Escalated}
	deferPhrase := false
	switch {
	case res.Escalated:
		metrics.Transitions.WithLabelValues(string(from), metrics.ResultEscalated).Inc()
		metrics.Escalations.Inc()
		def, _ := e.machine.Definition(models.StateWelcome)
		reply.Message = Render(escalationMessage, vars) + "\n\n" + e.machine.Render(models.StateWelcome, vars)
		reply.QuickReplies = def.QuickReplies
		slog.Info("Engine.HandleMessage: escalated to welcome", "sessionID", s.ID, "from", from, "errorKind", res.ErrorKind, "policy", e.machine.Policy())
	case !res.Success:
		metrics.Transitions.WithLabelValues(string(from), metrics.ResultInvalid).Inc()
		def, _ := e.machine.Definition(from)
		reply.Message = res.Error
		reply.QuickReplies = def.QuickReplies
		slog.Debug("Engine.HandleMessage: validation failed", "sessionID", s.ID, "state", from, "errorKind", res.ErrorKind, "retries", RetryCount(res.UserData))
	default:
		metrics.Transitions.WithLabelValues(string(from), metrics.ResultAdvanced).Inc()
		def, _ := e.machine.Definition(res.NextState)
		reply.Message = e.machine.Render(res.NextState, vars)
		reply.QuickReplies = def.QuickReplies
		reply.Completed = res.NextState.IsTerminal()
		deferPhrase = e.phraser != nil && !reply.Completed
		slog.Debug("Engine.HandleMessage: transition", "sessionID", s.ID, "from", from, "to", res.NextState)
	}

	updated, err := e.sessions.Update(ctx, s.ID, func(ss *models.Session) {
		appendMessage(ss, models.RoleUser, text, nil, e.sessions.Now())
		ss.UserData = res.UserData
		ss.CurrentState = res.NextState
		if !deferPhrase {
			appendMessage(ss, models.RoleAssistant, reply.Message, reply.QuickReplies, e.sessions.Now())
		}
	})
	if err != nil {
		slog.Error("Engine.HandleMessage: save failed", "error", err, "sessionID", s.ID)
		return turn{}, err
	}
	if updated == nil {
		return turn{}, ErrSessionNotFound
	}

	t := turn{reply: reply}
	if updated.IsCompleted {
		e.nudges.Cancel(s.ID)
		e.notifyLead(*updated)
		return t, nil
	}
	e.nudges.Reset(s.ID, e.onNudge)
	if deferPhrase {
		t.historyLen = len(updated.ConversationHistory)
		t.phrase = &genai.PromptContext{
			State:        updated.CurrentState,
			DisplayName:  updated.DisplayName,
			UserData:     updated.UserData.Clone(),
			Recent:       append([]models.Message(nil), updated.RecentMessages(recentWindow)...),
			Template:     reply.Message,
			QuickReplies: reply.QuickReplies,
		}
	}
	return t, nil
}

// respondLocked handles the reply to a nudge.
func (e *Engine) respondLocked(ctx context.Context, s *models.Session, text string) (turn, error) {
	if strings.TrimSpace(text) == "" {
		def, _ := e.machine.Definition(models.StateNudge)
		return turn{reply: models.Reply{
			SessionID:    s.ID,
			State:        models.StateNudge,
			Message:      e.machine.Render(models.StateNudge, e.nudgeVars(*s)),
			QuickReplies: def.QuickReplies,
			ErrorKind:    models.ErrorKindEmptyInput,
		}}, nil
	}

	var (
		target models.StateType
		reply  = models.Reply{SessionID: s.ID}
	)
	if e.classifier.IsAffirmative(text) {
		metrics.NudgeResponses.WithLabelValues(metrics.OutcomeResumed).Inc()
		target = s.PreviousState
		if !target.IsValid() || target == models.StateNudge {
			target = ResumeState(s.UserData)
		}
		after := s.Clone()
		after.CurrentState = target
		if target == models.StateComplete {
			reply.Message = e.machine.Render(models.StateComplete, e.vars(after))
		} else {
			def, _ := e.machine.Definition(target)
			reply.Message = continuationPrefix + e.machine.Render(target, e.vars(after))
			reply.QuickReplies = def.QuickReplies
		}
		slog.Info("Engine.respond: nudge accepted, resuming", "sessionID", s.ID, "target", target)
	} else {
		metrics.NudgeResponses.WithLabelValues(metrics.OutcomeDeclined).Inc()
		target = models.StateComplete
		reply.Message = declinedMessage
		slog.Info("Engine.respond: nudge declined, closing session", "sessionID", s.ID)
	}
	reply.State = target
	reply.Completed = target.IsTerminal()

	updated, err := e.sessions.Update(ctx, s.ID, func(ss *models.Session) {
		appendMessage(ss, models.RoleUser, text, nil, e.sessions.Now())
		ss.CurrentState = target
		ss.PreviousState = ""
		appendMessage(ss, models.RoleAssistant, reply.Message, reply.QuickReplies, e.sessions.Now())
	})
	if err != nil {
		slog.Error("Engine.respond: save failed", "error", err, "sessionID", s.ID)
		return turn{}, err
	}
	if updated == nil {
		return turn{}, ErrSessionNotFound
	}
	if updated.IsCompleted {
		e.nudges.Cancel(s.ID)
		e.notifyLead(*updated)
	} else {
		e.nudges.Arm(s.ID, e.onNudge)
	}
	return turn{reply: reply}, nil
}

// onNudge runs with the session lock held by the scheduler.
func (e *Engine) onNudge(id string) {
	ctx := context.Background()
	s, err := e.sessions.Get(ctx, id)
	if err != nil {
		slog.Error("Engine.onNudge: load failed", "error", err, "sessionID", id)
		return
	}
	if s == nil || s.IsCompleted || s.CurrentState == models.StateNudge {
		slog.Debug("Engine.onNudge: nothing to nudge", "sessionID", id)
		return
	}

	def, _ := e.machine.Definition(models.StateNudge)
	msg := e.machine.Render(models.StateNudge, e.nudgeVars(*s))
	_, err = e.sessions.Update(ctx, id, func(ss *models.Session) {
		ss.PreviousState = ss.CurrentState
		ss.CurrentState = models.StateNudge
		appendMessage(ss, models.RoleAssistant, msg, def.QuickReplies, e.sessions.Now())
	})
	if err != nil {
		slog.Error("Engine.onNudge: save failed", "error", err, "sessionID", id)
		return
	}
	metrics.NudgesFired.Inc()
	slog.Info("Engine.onNudge: session nudged", "sessionID", id, "previousState", s.CurrentState)
}

// phraseAndRecord asks the phraser for a reply outside the session lock and
// then records whichever text is used, unless the history grew meanwhile.
func (e *Engine) phraseAndRecord(ctx context.Context, id string, pc genai.PromptContext, historyLen int, reply *models.Reply) {
	if out, err := e.phraser.Phrase(ctx, pc); err != nil {
		slog.Warn("Engine.phrase: using template reply", "sessionID", id, "state", pc.State, "error", err)
	} else {
		reply.Message = out
	}

	unlock := e.sessions.Lock(id)
	defer unlock()
	s, err := e.sessions.Get(ctx, id)
	if err != nil || s == nil {
		return
	}
	if len(s.ConversationHistory) != historyLen {
		// A nudge or another message got in first; the reply is stale.
		slog.Debug("Engine.phrase: history moved on, not recording reply", "sessionID", id, "state", s.CurrentState)
		return
	}
	if _, err := e.sessions.AppendMessage(ctx, id, models.RoleAssistant, reply.Message, reply.QuickReplies); err != nil {
		slog.Error("Engine.phrase: append failed", "error", err, "sessionID", id)
	}
}

// GetSession returns a snapshot of the session or ErrSessionNotFound.
func (e *Engine) GetSession(ctx context.Context, id string) (*models.Session, error) {
	unlock := e.sessions.Lock(id)
	defer unlock()
	s, err := e.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// DeleteSession cancels the session's nudge and removes it.
func (e *Engine) DeleteSession(ctx context.Context, id string) (bool, error) {
	unlock := e.sessions.Lock(id)
	defer unlock()
	e.nudges.Cancel(id)
	existed, err := e.sessions.Delete(ctx, id)
	if err != nil {
		slog.Error("Engine.DeleteSession: delete failed", "error", err, "sessionID", id)
		return false, err
	}
	slog.Info("Engine.DeleteSession", "sessionID", id, "existed", existed)
	return existed, nil
}

// RearmNudge arms a nudge firing after d for a session restored at startup.
// Sessions that are gone, completed or already nudged are skipped.
func (e *Engine) RearmNudge(ctx context.Context, id string, d time.Duration) (bool, error) {
	unlock := e.sessions.Lock(id)
	defer unlock()
	s, err := e.sessions.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if s == nil || s.IsCompleted || s.CurrentState == models.StateNudge {
		return false, nil
	}
	if d < 0 {
		d = 0
	}
	e.nudges.ArmAfter(id, d, e.onNudge)
	return true, nil
}

// Stop cancels all nudges and waits for in-flight lead notifications.
func (e *Engine) Stop() {
	e.nudges.Stop()
	e.sinkWG.Wait()
	slog.Info("Engine stopped")
}

func (e *Engine) notifyLead(s models.Session) {
	metrics.SessionsCompleted.Inc()
	if e.sink == nil {
		return
	}
	snapshot := s.Clone()
	e.sinkWG.Add(1)
	go func() {
		defer e.sinkWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), leadSinkTimeout)
		defer cancel()
		if err := e.sink.OnSessionComplete(ctx, snapshot); err != nil {
			slog.Error("Engine.notifyLead: lead sink failed", "error", err, "sessionID", snapshot.ID)
		}
	}()
}

// vars returns the template variables for s.
func (e *Engine) vars(s models.Session) models.UserData {
	name := s.DisplayName
	if name == "" {
		name = DefaultDisplayName
	}
	return s.UserData.Merge(models.UserData{VarName: name, VarHotline: e.hotline})
}

func (e *Engine) nudgeVars(s models.Session) models.UserData {
	v := e.vars(s)
	if !v.Has(models.DataKeyMajor) {
		v[models.DataKeyMajor] = DefaultMajorPhrase
	}
	return v
}
