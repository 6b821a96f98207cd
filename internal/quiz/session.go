package quiz

import (
	"sync"
	"time"

	"github.com/Dengwilliam/cashiq/internal/domain"
	"github.com/Dengwilliam/cashiq/internal/errors"
)

type Mode string

const (
	ModeWeekly Mode = "weekly"
	ModeDaily  Mode = "daily"
)

// Visibility states of the anti-cheat monitor. Transitions only move
// forward: clean -> warned -> disqualified.
const (
	VisibilityClean        = "clean"
	VisibilityWarned       = "warned"
	VisibilityDisqualified = "disqualified"
)

type answerOutcome struct {
	Selected        int  `json:"selected"`
	Correct         bool `json:"correct"`
	CorrectOptionID int  `json:"correctOptionId"`
}

// Session is one in-flight quiz attempt. Questions live only here; once
// the session is finished or evicted the content is gone and only the
// numeric result survives.
type Session struct {
	SessionID   string
	UserID      string
	DisplayName string
	Mode        Mode
	WeekID      string
	StartTime   time.Time

	mu         sync.Mutex
	questions  []domain.QuizQuestion
	answers    map[int]answerOutcome
	streak     int
	maxStreak  int
	visibility string
	finished   bool
}

func newSession(id, userID, displayName string, mode Mode, weekID string, questions []domain.QuizQuestion, now time.Time) *Session {
	return &Session{
		SessionID:   id,
		UserID:      userID,
		DisplayName: displayName,
		Mode:        mode,
		WeekID:      weekID,
		StartTime:   now,
		questions:   questions,
		answers:     make(map[int]answerOutcome, len(questions)),
		visibility:  VisibilityClean,
	}
}

// Questions returns the session's questions with the correct flags
// stripped, safe to hand to the client.
func (s *Session) Questions() []domain.QuizQuestion {
	out := make([]domain.QuizQuestion, len(s.questions))
	for i, q := range s.questions {
		opts := make([]domain.QuizOption, len(q.Options))
		for j, o := range q.Options {
			o.Correct = false
			opts[j] = o
		}
		q.Options = opts
		out[i] = q
	}
	return out
}

func (s *Session) question(questionID int) (domain.QuizQuestion, bool) {
	for _, q := range s.questions {
		if q.QuestionID == questionID {
			return q, true
		}
	}
	return domain.QuizQuestion{}, false
}

// answer grades one question. Repeating a question returns the original
// outcome without touching the streak, so retried requests are harmless.
func (s *Session) answer(questionID, optionID int) (answerOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return answerOutcome{}, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session already finished"))
	}
	if s.visibility == VisibilityDisqualified {
		return answerOutcome{}, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session is disqualified"))
	}

	if prev, ok := s.answers[questionID]; ok {
		return prev, nil
	}

	q, ok := s.question(questionID)
	if !ok {
		return answerOutcome{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question not in session: %d", questionID))
	}
	correct, ok := q.CorrectOption()
	if !ok {
		return answerOutcome{}, errors.New(errors.CodeInternal,
			errors.WithMessagef("question has no correct option: %d", questionID))
	}

	var selected *domain.QuizOption
	for i := range q.Options {
		if q.Options[i].OptionID == optionID {
			selected = &q.Options[i]
		}
	}
	if selected == nil {
		return answerOutcome{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("option not on question %d: %d", questionID, optionID))
	}

	out := answerOutcome{
		Selected:        optionID,
		Correct:         selected.Correct,
		CorrectOptionID: correct.OptionID,
	}
	s.answers[questionID] = out

	if out.Correct {
		s.streak++
		if s.streak > s.maxStreak {
			s.maxStreak = s.streak
		}
	} else {
		s.streak = 0
	}

	return out, nil
}

// reportHidden advances the visibility state machine by one step and
// returns the new state. Disqualification is terminal.
func (s *Session) reportHidden() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return "", errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session already finished"))
	}
	if s.Mode != ModeWeekly {
		return s.visibility, nil
	}

	switch s.visibility {
	case VisibilityClean:
		s.visibility = VisibilityWarned
	case VisibilityWarned:
		s.visibility = VisibilityDisqualified
	}
	return s.visibility, nil
}

type sessionResult struct {
	Correct      int
	MaxStreak    int
	Disqualified bool
}

// finish seals the session and returns the tallied result. A second call
// fails so a finished attempt can never be re-submitted.
func (s *Session) finish() (sessionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return sessionResult{}, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session already finished"))
	}
	s.finished = true

	res := sessionResult{
		MaxStreak:    s.maxStreak,
		Disqualified: s.visibility == VisibilityDisqualified,
	}
	for _, a := range s.answers {
		if a.Correct {
			res.Correct++
		}
	}
	return res, nil
}

// reopen undoes finish after a failed settlement so the call can be
// retried. The answers and visibility state are untouched.
func (s *Session) reopen() {
	s.mu.Lock()
	s.finished = false
	s.mu.Unlock()
}

func (s *Session) answered(questionID int) (answerOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.answers[questionID]
	return a, ok
}

// registry holds live sessions in memory. A user has at most one live
// session per mode; starting a new one evicts the abandoned predecessor.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byUser   map[string]string
}

func newRegistry() *registry {
	return &registry{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]string),
	}
}

func userKey(userID string, mode Mode) string {
	return userID + "/" + string(mode)
}

func (r *registry) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := userKey(s.UserID, s.Mode)
	if old, ok := r.byUser[key]; ok {
		delete(r.sessions, old)
	}
	r.sessions[s.SessionID] = s
	r.byUser[key] = s.SessionID
}

func (r *registry) get(sessionID, userID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", sessionID))
	}
	if s.UserID != userID {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("session belongs to another user"))
	}
	return s, nil
}

// lookup returns the user's live session for a mode, if any.
func (r *registry) lookup(userID string, mode Mode) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byUser[userKey(userID, mode)]
	if !ok {
		return nil, false
	}
	s, ok := r.sessions[id]
	return s, ok
}

func (r *registry) remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(r.sessions, sessionID)

	key := userKey(s.UserID, s.Mode)
	if r.byUser[key] == sessionID {
		delete(r.byUser, key)
	}
}
