// Package intake runs the guided, question-by-question complaint interview.
package intake

import (
	"context"
	"errors"
	"maps"
	"strings"

	"github.com/cyberguard/internal/catalog"
	"github.com/cyberguard/internal/language"
)

// ReviewNotice is shown when the interview ends and answers await review.
const ReviewNotice = "Please review your details below."

var (
	ErrNotRunning = errors.New("intake is not running")
	ErrNotReady   = errors.New("intake is not awaiting review")
	ErrNoField    = errors.New("field is not part of this intake")
)

type State int

const (
	Idle State = iota
	Running
	AwaitingReview
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case AwaitingReview:
		return "awaiting_review"
	default:
		return "idle"
	}
}

// PromptSource renders bot text in the user's language.
type PromptSource interface {
	PromptFor(ctx context.Context, q catalog.Question, lang string) string
	Translate(ctx context.Context, text, lang string) string
}

type SequencerConfig struct {
	Questions []catalog.Question
	Language  string
	Canonical string
	Keywords  catalog.Commands
	IDTypes   []string
}

// Outcome describes what one utterance did.
type Outcome struct {
	Command Command
	// Field is set when an answer was committed.
	Field string
	// Reply is bot text in the user's language. It is empty when the caller
	// should simply present the current question.
	Reply string
	// Rejected is true when the answer failed validation and nothing was
	// stored.
	Rejected bool
	State    State
}

// Sequencer steps through a fixed question list. It is not safe for
// concurrent use; Session serializes access.
type Sequencer struct {
	cfg     SequencerConfig
	svc     language.Service
	prompts PromptSource

	state         State
	index         int
	lastSpoken    int
	pendingSubmit bool

	native    map[string]string
	canonical map[string]string
}

func NewSequencer(cfg SequencerConfig, svc language.Service, prompts PromptSource) *Sequencer {
	return &Sequencer{
		cfg:        cfg,
		svc:        svc,
		prompts:    prompts,
		lastSpoken: -1,
		native:     map[string]string{},
		canonical:  map[string]string{},
	}
}

// Start moves an idle sequencer to the first question. An empty question set
// goes straight to review.
func (s *Sequencer) Start() {
	if s.state != Idle {
		return
	}
	s.state = Running
	s.index = 0
	s.lastSpoken = -1
	s.checkDone()
}

func (s *Sequencer) State() State { return s.state }

// Index is the 0-based question pointer, equal to Len once the interview is
// complete.
func (s *Sequencer) Index() int { return s.index }

func (s *Sequencer) Len() int { return len(s.cfg.Questions) }

func (s *Sequencer) Language() string { return s.cfg.Language }

func (s *Sequencer) PendingSubmit() bool { return s.pendingSubmit }

// Current returns the question under the pointer while running.
func (s *Sequencer) Current() (catalog.Question, bool) {
	if s.state != Running || s.index >= len(s.cfg.Questions) {
		return catalog.Question{}, false
	}
	return s.cfg.Questions[s.index], true
}

// Prompt returns the current question's text in the session language.
func (s *Sequencer) Prompt(ctx context.Context) (string, bool) {
	q, ok := s.Current()
	if !ok {
		return "", false
	}
	return s.prompts.PromptFor(ctx, q, s.cfg.Language), true
}

// ShouldSpeak reports whether the current question has not been voiced yet,
// and marks it voiced.
func (s *Sequencer) ShouldSpeak() bool {
	if s.state != Running || s.index <= s.lastSpoken {
		return false
	}
	s.lastSpoken = s.index
	return true
}

// Handle interprets one utterance. Commands are checked before the text is
// treated as an answer, so an answer equal to a keyword is read as the
// keyword.
func (s *Sequencer) Handle(ctx context.Context, utterance string) (Outcome, error) {
	if s.state != Running {
		return Outcome{State: s.state}, ErrNotRunning
	}

	cmd := Classify(utterance, s.cfg.Keywords)
	out := Outcome{Command: cmd}

	switch cmd {
	case Next:
		s.index++
		s.checkDone()
	case Back:
		s.index = max(0, s.index-1)
	case Submit:
		s.toReview()
	case Repeat:
		out.Reply, _ = s.Prompt(ctx)
	case Answer:
		s.answer(ctx, strings.TrimSpace(utterance), &out)
	}

	if s.state == AwaitingReview && out.Reply == "" {
		out.Reply = s.prompts.Translate(ctx, ReviewNotice, s.cfg.Language)
	}
	out.State = s.state
	return out, nil
}

func (s *Sequencer) answer(ctx context.Context, text string, out *Outcome) {
	q := s.cfg.Questions[s.index]

	value, err := s.svc.Extract(ctx, text, q.Field, s.cfg.Language)
	switch {
	case errors.Is(err, language.ErrInvalidEnumeration):
		out.Rejected = true
		out.Reply = s.prompts.Translate(ctx, "Please specify ID type from: "+strings.Join(s.cfg.IDTypes, ", ")+".", s.cfg.Language)
		return
	case err != nil:
		// Accept the raw answer; the record stays usable without the model.
		// The gateway has already logged the failure.
		value = text
	}

	s.store(ctx, q.Field, value)
	out.Field = q.Field
	s.index++
	s.checkDone()
}

func (s *Sequencer) store(ctx context.Context, field, value string) {
	translated, err := s.svc.Translate(ctx, value, s.cfg.Language, s.cfg.Canonical)
	if err != nil {
		translated = value
	}
	s.native[field] = value
	s.canonical[field] = translated
}

// Amend replaces a reviewed answer before submission.
func (s *Sequencer) Amend(ctx context.Context, field, value string) error {
	if s.state != AwaitingReview {
		return ErrNotReady
	}
	if !s.hasField(field) {
		return ErrNoField
	}
	s.store(ctx, field, strings.TrimSpace(value))
	return nil
}

// Answers returns copies of the native and canonical answer maps.
func (s *Sequencer) Answers() (native, canonical map[string]string) {
	return maps.Clone(s.native), maps.Clone(s.canonical)
}

func (s *Sequencer) hasField(field string) bool {
	for _, q := range s.cfg.Questions {
		if q.Field == field {
			return true
		}
	}
	return false
}

func (s *Sequencer) checkDone() {
	if s.index >= len(s.cfg.Questions) {
		s.index = len(s.cfg.Questions)
		s.toReview()
	}
}

func (s *Sequencer) toReview() {
	s.state = AwaitingReview
	s.pendingSubmit = true
}
