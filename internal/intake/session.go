package intake

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLanguage = "English"

	MinVoiceSetting     = 0.5
	MaxVoiceSetting     = 2.0
	DefaultVoiceSetting = 1.0
)

// Voice holds speech synthesis preferences.
type Voice struct {
	Enabled bool    `json:"enabled"`
	Pitch   float64 `json:"pitch"`
	Rate    float64 `json:"rate"`
}

func DefaultVoice() Voice {
	return Voice{Enabled: true, Pitch: DefaultVoiceSetting, Rate: DefaultVoiceSetting}
}

// Normalize clamps pitch and rate into range; zero means default.
func (v Voice) Normalize() Voice {
	v.Pitch = clampVoice(v.Pitch)
	v.Rate = clampVoice(v.Rate)
	return v
}

func clampVoice(x float64) float64 {
	if x == 0 {
		return DefaultVoiceSetting
	}
	return min(MaxVoiceSetting, max(MinVoiceSetting, x))
}

// Message is one line of the chat transcript.
type Message struct {
	FromUser bool      `json:"fromUser"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

// Session is the per-visitor context every intake handler works on. Callers
// hold Lock for the duration of a request.
type Session struct {
	mu sync.Mutex

	ID        string
	Language  string
	Category  string
	Voice     Voice
	History   []Message
	Sequencer *Sequencer

	lastSeen time.Time
}

func newSession(now time.Time) *Session {
	s := &Session{ID: uuid.NewString(), lastSeen: now}
	s.reset()
	return s
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// AddMessage appends to the transcript.
func (s *Session) AddMessage(fromUser bool, text string, at time.Time) {
	s.History = append(s.History, Message{FromUser: fromUser, Text: text, At: at})
}

// Begin replaces any running interview with a fresh one.
func (s *Session) Begin(lang, category string, voice Voice, seq *Sequencer) {
	s.Language = lang
	s.Category = category
	s.Voice = voice.Normalize()
	s.History = nil
	s.Sequencer = seq
	seq.Start()
}

// Reset restores every default. It is called once a complaint is filed.
func (s *Session) Reset() {
	s.reset()
}

func (s *Session) reset() {
	s.Language = DefaultLanguage
	s.Category = ""
	s.Voice = DefaultVoice()
	s.History = nil
	s.Sequencer = nil
}

// State reports the interview state, Idle when none was started.
func (s *Session) State() State {
	if s.Sequencer == nil {
		return Idle
	}
	return s.Sequencer.State()
}
