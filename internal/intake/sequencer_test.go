package intake

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/cyberguard/internal/catalog"
	"github.com/cyberguard/internal/language"
)

// fakeService echoes extractions and prefixes translations.
type fakeService struct {
	extractErr   error
	idType       string
	translateErr error
	extracts     int
}

func (f *fakeService) Extract(_ context.Context, text, field, _ string) (string, error) {
	f.extracts++
	if f.extractErr != nil {
		return text, f.extractErr
	}
	if field == language.IDTypeField {
		if f.idType == "" {
			return "", language.ErrInvalidEnumeration
		}
		return f.idType, nil
	}
	return text, nil
}

func (f *fakeService) Translate(_ context.Context, text, from, to string) (string, error) {
	if from == to || text == "" {
		return text, nil
	}
	if f.translateErr != nil {
		return text, f.translateErr
	}
	return "[" + to + "] " + text, nil
}

type fakePrompts struct{}

func (fakePrompts) PromptFor(_ context.Context, q catalog.Question, lang string) string {
	if p, ok := q.Prompt(lang); ok {
		return p
	}
	p, _ := q.Prompt("English")
	return "[" + lang + "] " + p
}

func (fakePrompts) Translate(_ context.Context, text, lang string) string {
	if lang == "English" {
		return text
	}
	return "[" + lang + "] " + text
}

func newTestSequencer(t *testing.T, category, lang string, svc *fakeService) *Sequencer {
	t.Helper()
	reg := catalog.Default()
	seq := NewSequencer(SequencerConfig{
		Questions: reg.QuestionsFor(category),
		Language:  lang,
		Canonical: reg.Canonical(),
		Keywords:  reg.Commands(lang),
		IDTypes:   reg.IDTypes(),
	}, svc, fakePrompts{})
	seq.Start()
	return seq
}

func handle(t *testing.T, seq *Sequencer, u string) Outcome {
	t.Helper()
	out, err := seq.Handle(context.Background(), u)
	if err != nil {
		t.Fatalf("Handle(%q): %v", u, err)
	}
	return out
}

func TestClassify(t *testing.T) {
	hindi := catalog.Default().Commands("Hindi")

	cases := []struct {
		utterance string
		want      Command
	}{
		{"next", Next},
		{"  NEXT ", Next},
		{"Back", Back},
		{"submit", Submit},
		{"repeat", Repeat},
		{"अगला", Next},
		{"पीछे", Back},
		{"जमा करें", Submit},
		{"दोहराएं", Repeat},
		{"next please", Answer},
		{"", Answer},
		{"Asha Rao", Answer},
	}

	for _, tc := range cases {
		t.Run(tc.utterance, func(t *testing.T) {
			if got := Classify(tc.utterance, hindi); got != tc.want {
				t.Errorf("Classify(%q) = %v, want %v", tc.utterance, got, tc.want)
			}
		})
	}
}

func TestAnswersAdvanceToReview(t *testing.T) {
	seq := newTestSequencer(t, "Other Cyber Crime", "English", &fakeService{idType: "Passport"})
	n := seq.Len()

	for i := 0; i < n; i++ {
		if seq.State() != Running {
			t.Fatalf("expected running at %d, got %v", i, seq.State())
		}
		if seq.Index() != i {
			t.Fatalf("expected index %d, got %d", i, seq.Index())
		}
		handle(t, seq, "answer "+string(rune('a'+i)))
	}

	if seq.Index() != n {
		t.Errorf("expected index %d, got %d", n, seq.Index())
	}
	if seq.State() != AwaitingReview || !seq.PendingSubmit() {
		t.Errorf("expected awaiting review, got %v", seq.State())
	}

	native, canonical := seq.Answers()
	if len(native) != n {
		t.Errorf("expected %d answers, got %d", n, len(native))
	}
	if !slices.Equal(slices.Sorted(maps.Keys(native)), slices.Sorted(maps.Keys(canonical))) {
		t.Error("native and canonical key sets differ")
	}
}

func TestLastAnswerRepliesWithReviewNotice(t *testing.T) {
	seq := newTestSequencer(t, "Financial Fraud", "English", &fakeService{idType: "PAN Card"})
	for seq.Index() < seq.Len()-1 {
		handle(t, seq, "next")
	}

	out := handle(t, seq, "nobody")
	if out.Reply != ReviewNotice {
		t.Errorf("expected review notice, got %q", out.Reply)
	}
	if out.State != AwaitingReview {
		t.Errorf("expected awaiting review, got %v", out.State)
	}
}

func TestBackClampsAtZero(t *testing.T) {
	seq := newTestSequencer(t, "Financial Fraud", "English", &fakeService{})

	out := handle(t, seq, "back")
	if seq.Index() != 0 || out.State != Running {
		t.Errorf("expected index 0 running, got %d %v", seq.Index(), out.State)
	}

	handle(t, seq, "next")
	handle(t, seq, "next")
	handle(t, seq, "back")
	if seq.Index() != 1 {
		t.Errorf("expected index 1, got %d", seq.Index())
	}
}

func TestSubmitMidFormSkipsRemainingFields(t *testing.T) {
	seq := newTestSequencer(t, "Financial Fraud", "English", &fakeService{})
	handle(t, seq, "yesterday at 5pm")
	handle(t, seq, "next")

	out := handle(t, seq, "SUBMIT")
	if out.State != AwaitingReview || out.Reply != ReviewNotice {
		t.Errorf("unexpected outcome %+v", out)
	}
	native, _ := seq.Answers()
	if len(native) != 1 {
		t.Errorf("expected one stored answer, got %v", native)
	}

	if _, err := seq.Handle(context.Background(), "more"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning after submit, got %v", err)
	}
}

func TestRepeatReturnsPromptWithoutChanges(t *testing.T) {
	svc := &fakeService{}
	seq := newTestSequencer(t, "Financial Fraud", "Hindi", svc)
	handle(t, seq, "कल रात")

	before := seq.Index()
	out := handle(t, seq, "दोहराएं")

	want, _ := seq.Prompt(context.Background())
	if out.Reply != want {
		t.Errorf("expected current prompt %q, got %q", want, out.Reply)
	}
	if seq.Index() != before {
		t.Errorf("repeat moved index from %d to %d", before, seq.Index())
	}
	native, _ := seq.Answers()
	if len(native) != 1 {
		t.Errorf("repeat changed answers: %v", native)
	}
	if svc.extracts != 1 {
		t.Errorf("repeat should not call extraction")
	}
}

func TestInvalidIDTypeRepromptsWithoutCommit(t *testing.T) {
	seq := newTestSequencer(t, "Other Cyber Crime", "English", &fakeService{})
	for {
		q, _ := seq.Current()
		if q.Field == language.IDTypeField {
			break
		}
		handle(t, seq, "next")
	}
	at := seq.Index()

	out := handle(t, seq, "my driving thing")
	if !out.Rejected {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(out.Reply, "Voter ID, Driving License, Passport, PAN Card, Aadhar Card") {
		t.Errorf("reply should list options, got %q", out.Reply)
	}
	if seq.Index() != at {
		t.Errorf("index moved on rejected answer")
	}
	if native, _ := seq.Answers(); len(native) != 0 {
		t.Errorf("rejected answer was stored: %v", native)
	}
}

func TestGatewayFailureKeepsRawAnswer(t *testing.T) {
	svc := &fakeService{
		extractErr:   language.ErrGatewayUnavailable,
		translateErr: language.ErrGatewayUnavailable,
	}
	seq := newTestSequencer(t, "Financial Fraud", "Tamil", svc)

	out := handle(t, seq, "  நேற்று  ")
	if out.Field != "incident_datetime" {
		t.Fatalf("expected answer to be committed, got %+v", out)
	}
	native, canonical := seq.Answers()
	if native["incident_datetime"] != "நேற்று" || canonical["incident_datetime"] != "நேற்று" {
		t.Errorf("expected raw answer in both maps, got %q / %q", native["incident_datetime"], canonical["incident_datetime"])
	}
}

type downGenerator struct{}

func (downGenerator) Generate(context.Context, string) (string, error) {
	return "", errors.New("model offline")
}

func TestGatewayFailureIsLoggedOnce(t *testing.T) {
	var logs bytes.Buffer
	reg := catalog.Default()
	gateway := language.NewGateway(downGenerator{}, reg.IDTypes(), slog.New(slog.NewTextHandler(&logs, nil)))
	seq := NewSequencer(SequencerConfig{
		Questions: reg.QuestionsFor("Financial Fraud"),
		Language:  "Tamil",
		Canonical: reg.Canonical(),
		Keywords:  reg.Commands("Tamil"),
		IDTypes:   reg.IDTypes(),
	}, gateway, fakePrompts{})
	seq.Start()

	if out := handle(t, seq, "நேற்று"); out.Field != "incident_datetime" {
		t.Fatalf("expected answer to be committed, got %+v", out)
	}

	// One extraction and one translation failed.
	if n := strings.Count(logs.String(), "level=WARN"); n != 2 {
		t.Errorf("expected 2 warnings, got %d:\n%s", n, logs.String())
	}
}

func TestCanonicalMirrorIsTranslated(t *testing.T) {
	seq := newTestSequencer(t, "Financial Fraud", "Hindi", &fakeService{})
	handle(t, seq, "कल")

	native, canonical := seq.Answers()
	if native["incident_datetime"] != "कल" {
		t.Errorf("unexpected native %q", native["incident_datetime"])
	}
	if canonical["incident_datetime"] != "[English] कल" {
		t.Errorf("unexpected canonical %q", canonical["incident_datetime"])
	}
}

func TestShouldSpeakOncePerQuestion(t *testing.T) {
	seq := newTestSequencer(t, "Financial Fraud", "English", &fakeService{})

	if !seq.ShouldSpeak() {
		t.Fatal("first question should be spoken")
	}
	if seq.ShouldSpeak() {
		t.Fatal("same question spoken twice")
	}

	handle(t, seq, "next")
	if !seq.ShouldSpeak() {
		t.Fatal("new question should be spoken")
	}

	handle(t, seq, "back")
	if seq.ShouldSpeak() {
		t.Error("going back should not re-trigger speech")
	}
}

func TestAmendDuringReview(t *testing.T) {
	seq := newTestSequencer(t, "Financial Fraud", "Hindi", &fakeService{})
	ctx := context.Background()

	if err := seq.Amend(ctx, "name", "x"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady while running, got %v", err)
	}

	handle(t, seq, "submit")
	if err := seq.Amend(ctx, "fraud_amount", " 5000 "); err != nil {
		t.Fatalf("Amend: %v", err)
	}
	if err := seq.Amend(ctx, "state_ut", "Goa"); !errors.Is(err, ErrNoField) {
		t.Errorf("expected ErrNoField for excluded field, got %v", err)
	}

	native, canonical := seq.Answers()
	if native["fraud_amount"] != "5000" || canonical["fraud_amount"] != "[English] 5000" {
		t.Errorf("unexpected amended values %q / %q", native["fraud_amount"], canonical["fraud_amount"])
	}
}

func TestEmptyQuestionSetGoesStraightToReview(t *testing.T) {
	seq := NewSequencer(SequencerConfig{Language: "English", Canonical: "English"}, &fakeService{}, fakePrompts{})
	seq.Start()
	if seq.State() != AwaitingReview {
		t.Errorf("expected awaiting review, got %v", seq.State())
	}
}

func TestSessionResetRestoresDefaults(t *testing.T) {
	st := NewSessionStore(time.Hour)
	s := st.Create()

	seq := newTestSequencer(t, "Financial Fraud", "Hindi", &fakeService{})
	s.Begin("Hindi", "Financial Fraud", Voice{Enabled: false, Pitch: 9, Rate: 0.1}, seq)
	s.AddMessage(true, "hello", time.Now())

	if s.Voice.Pitch != MaxVoiceSetting || s.Voice.Rate != MinVoiceSetting {
		t.Errorf("voice not clamped: %+v", s.Voice)
	}
	if s.State() != Running {
		t.Errorf("expected running, got %v", s.State())
	}

	s.Reset()
	if s.Language != DefaultLanguage || s.Category != "" || s.Sequencer != nil || len(s.History) != 0 {
		t.Errorf("session not reset: %+v", s)
	}
	if s.Voice != DefaultVoice() {
		t.Errorf("voice not reset: %+v", s.Voice)
	}
	if s.State() != Idle {
		t.Errorf("expected idle, got %v", s.State())
	}
}

func TestSessionStoreSweep(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	st := NewSessionStore(time.Minute)
	st.now = func() time.Time { return now }

	old := st.Create()
	now = now.Add(30 * time.Second)
	fresh := st.Create()
	now = now.Add(45 * time.Second)

	if n := st.Sweep(); n != 1 {
		t.Fatalf("expected one expired session, got %d", n)
	}
	if _, ok := st.Get(old.ID); ok {
		t.Error("expired session still present")
	}
	if _, ok := st.Get(fresh.ID); !ok {
		t.Error("fresh session was swept")
	}
}
