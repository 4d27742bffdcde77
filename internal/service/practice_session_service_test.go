package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-practice/internal/model"
	"github.com/stemsi/exstem-practice/internal/repository"
)

func normalRequest(topics ...int64) *model.CreateSessionRequest {
	return &model.CreateSessionRequest{Mode: string(model.ModeNormal), TopicIDs: topics}
}

func mockRequest(total, seconds int) *model.CreateSessionRequest {
	return &model.CreateSessionRequest{
		Mode:           string(model.ModeMock),
		Strategy:       string(model.StrategyEqual),
		TotalQuestions: total,
		TimerSeconds:   seconds,
	}
}

func TestCreateSnapshotsSettingsAndPool(t *testing.T) {
	e := newRecorderEngine()
	e.unlimited(principal)

	req := normalRequest(10)
	req.MarksCorrect = float64Ptr(4)
	sess, err := e.service.Create(context.Background(), principal, req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if sess.Status != model.SessionStatusActive || sess.IsMock || sess.DeadlineAt != nil {
		t.Errorf("session = %+v, want active non-mock without deadline", sess)
	}
	if len(sess.QuestionIDs) != 4 {
		t.Errorf("questions = %v, want topic 10's 4 questions", sess.QuestionIDs)
	}
	if sc := sess.Settings.Scoring; sc == nil || sc.MarksCorrect != 4 || sc.MarksIncorrect != 0 {
		t.Errorf("scoring = %+v, want 4 / default 0", sc)
	}
	if _, err := e.sessions.GetByID(context.Background(), sess.ID); err != nil {
		t.Errorf("session not persisted: %v", err)
	}
}

func TestCreateDoesNotConsume(t *testing.T) {
	e := newRecorderEngine()
	e.grants.grants = append(e.grants.grants, grant(1, intPtr(1), nil))

	if _, err := e.service.Create(context.Background(), principal, normalRequest(10)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := *e.grants.remaining(1); got != 1 {
		t.Errorf("remaining = %d, want 1", got)
	}
}

func TestCreateRejectionsPersistNothing(t *testing.T) {
	tests := []struct {
		name  string
		setup func(e *engine)
		req   *model.CreateSessionRequest
		want  error
	}{
		{"no entitlement", func(e *engine) {}, normalRequest(10), ErrAccessDenied},
		{"course access denied", func(e *engine) { e.unlimited(principal) }, func() *model.CreateSessionRequest {
			r := normalRequest(10)
			r.CourseID = int64Ptr(6)
			return r
		}(), ErrAccessDenied},
		{"scope violation", func(e *engine) {
			e.unlimited(principal)
			e.scopes[principal] = model.Scope{SubjectIDs: []int64{2}}
		}, normalRequest(10), ErrScopeViolation},
		{"empty pool", func(e *engine) { e.unlimited(principal) }, func() *model.CreateSessionRequest {
			r := normalRequest(10)
			r.PreviousYearOnly = true
			return r
		}(), ErrNoQuestionsFound},
		{"bad settings", func(e *engine) { e.unlimited(principal) }, mockRequest(0, 600), ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newRecorderEngine()
			tt.setup(e)
			_, err := e.service.Create(context.Background(), principal, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if n := len(e.sessions.sessions); n != 0 {
				t.Errorf("%d sessions persisted", n)
			}
		})
	}
}

func TestCreateCourseSessionWithoutGrant(t *testing.T) {
	e := newRecorderEngine()
	e.courses[5] = true
	req := normalRequest(10)
	req.CourseID = int64Ptr(5)
	req.CourseItemID = int64Ptr(50)

	sess, err := e.service.Create(context.Background(), principal, req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c := sess.Settings.Course; c == nil || c.CourseID != 5 || *c.ItemID != 50 {
		t.Errorf("course link = %+v", c)
	}
}

func TestFinalizeScoresAttempts(t *testing.T) {
	e := newRecorderEngine()
	e.unlimited(principal)
	ctx := context.Background()

	req := normalRequest(10)
	req.MarksCorrect = float64Ptr(4)
	req.MarksIncorrect = float64Ptr(-1)
	sess, err := e.service.Create(ctx, principal, req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	events := []RecordInput{
		check(101, 1001),
		check(102, 9999),
		{QuestionID: 103, Event: model.EventSkip},
		{QuestionID: 104, Event: model.EventView},
	}
	for _, in := range events {
		if _, err := e.recorder.Record(ctx, principal, sess.ID, in); err != nil {
			t.Fatalf("Record(%d): %v", in.QuestionID, err)
		}
	}

	e.time.Advance(time.Minute)
	out, err := e.service.Finalize(ctx, principal, sess.ID, "")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if out.NoAttempts || out.Summary == nil {
		t.Fatalf("outcome = %+v, want a summary", out)
	}

	got := *out.Summary
	if got.TotalAttempted != 3 || got.CorrectCount != 1 || got.IncorrectCount != 1 || got.SkippedCount != 1 {
		t.Errorf("summary = %+v, want 3 attempted 1/1/1", got)
	}
	if got.MarksObtained == nil || *got.MarksObtained != 3 {
		t.Errorf("marks = %v, want 3", got.MarksObtained)
	}
	if got.EndReason != model.EndReasonUserSubmitted {
		t.Errorf("end reason = %q", got.EndReason)
	}

	stored, _ := e.sessions.GetByID(ctx, sess.ID)
	if stored.Status != model.SessionStatusCompleted || stored.EndedAt == nil || stored.Result == nil {
		t.Errorf("stored session = %+v, want completed with result", stored)
	}

	if _, err := e.service.Finalize(ctx, principal, sess.ID, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second finalize err = %v, want ErrInvalidTransition", err)
	}
}

func TestFinalizeGradesPendingMockAnswers(t *testing.T) {
	e := newRecorderEngine()
	e.unlimited(principal)
	ctx := context.Background()

	sess, err := e.service.Create(ctx, principal, mockRequest(3, 600))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	answers := map[int64]int64{}
	for _, qid := range sess.QuestionIDs {
		switch qid {
		case 101:
			answers[qid] = 1001
		case 102:
			answers[qid] = 1
		}
	}
	for qid, opt := range answers {
		in := RecordInput{QuestionID: qid, OptionID: int64Ptr(opt), Event: model.EventSave}
		if _, err := e.recorder.Record(ctx, principal, sess.ID, in); err != nil {
			t.Fatalf("save %d: %v", qid, err)
		}
	}
	// An answered row without a key counts as skipped.
	extra := sess.QuestionIDs[0]
	if _, ok := answers[extra]; !ok {
		in := RecordInput{QuestionID: extra, OptionID: int64Ptr(7), Event: model.EventSave}
		if _, err := e.recorder.Record(ctx, principal, sess.ID, in); err != nil {
			t.Fatalf("save %d: %v", extra, err)
		}
		answers[extra] = 7
	}

	out, err := e.service.Finalize(ctx, principal, sess.ID, model.EndReasonTimerExpired)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	res := out.Summary
	if res.TotalAttempted != len(answers) {
		t.Errorf("attempted = %d, want %d", res.TotalAttempted, len(answers))
	}
	if res.CorrectCount+res.IncorrectCount+res.SkippedCount != res.TotalAttempted {
		t.Errorf("counts do not add up: %+v", res)
	}
	if res.EndReason != model.EndReasonTimerExpired {
		t.Errorf("end reason = %q", res.EndReason)
	}

	for qid, opt := range answers {
		row, _ := e.attempts.Get(ctx, sess.ID, qid)
		key, graded := e.catalog.keys[qid]
		switch {
		case !graded && row.Correct != nil:
			t.Errorf("question %d without key was graded", qid)
		case graded && (row.Correct == nil || *row.Correct != (opt == key)):
			t.Errorf("question %d graded %v, want %v", qid, row.Correct, opt == key)
		}
	}

	if _, ok, _ := e.clock.Deadline(ctx, sess.ID); ok {
		t.Errorf("mock deadline still cached after finalize")
	}
}

func TestFinalizeWithoutAttemptsDiscards(t *testing.T) {
	e := newRecorderEngine()
	e.unlimited(principal)
	ctx := context.Background()

	sess, err := e.service.Create(ctx, principal, normalRequest(10))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	out, err := e.service.Finalize(ctx, principal, sess.ID, "")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !out.NoAttempts || out.Summary != nil {
		t.Errorf("outcome = %+v, want no-attempts", out)
	}
	if _, err := e.sessions.GetByID(ctx, sess.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("session still stored: %v", err)
	}
	if _, err := e.service.Finalize(ctx, principal, sess.ID, ""); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("finalize after discard err = %v, want ErrSessionNotFound", err)
	}
}

func TestPauseResumeElapsed(t *testing.T) {
	e := newRecorderEngine()
	e.unlimited(principal)
	ctx := context.Background()

	sess, err := e.service.Create(ctx, principal, normalRequest(10))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	e.time.Advance(10 * time.Minute)
	if _, err := e.service.Pause(ctx, principal, sess.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := e.service.Pause(ctx, principal, sess.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double pause err = %v, want ErrInvalidTransition", err)
	}
	if _, err := e.recorder.Record(ctx, principal, sess.ID, check(101, 1001)); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("record while paused err = %v, want ErrInvalidTransition", err)
	}

	e.time.Advance(5 * time.Minute)
	state, err := e.service.State(ctx, principal, sess.ID)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.ElapsedSeconds != 600 {
		t.Errorf("elapsed while paused = %d, want 600", state.ElapsedSeconds)
	}

	if _, err := e.service.Resume(ctx, principal, sess.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, err := e.service.Resume(ctx, principal, sess.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double resume err = %v, want ErrInvalidTransition", err)
	}

	e.time.Advance(3 * time.Minute)
	state, err = e.service.State(ctx, principal, sess.ID)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.ElapsedSeconds != 13*60 {
		t.Errorf("elapsed = %d, want %d", state.ElapsedSeconds, 13*60)
	}
	if len(state.Pauses) != 1 || state.Pauses[0].Open() {
		t.Errorf("pauses = %+v, want one closed interval", state.Pauses)
	}
	if state.RemainingSeconds != nil {
		t.Errorf("non-mock session has a countdown")
	}
}

func TestMockDeadlineIgnoresPauses(t *testing.T) {
	e := newRecorderEngine()
	e.unlimited(principal)
	ctx := context.Background()

	sess, err := e.service.Create(ctx, principal, mockRequest(3, 600))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !sess.IsMock || sess.DeadlineAt == nil {
		t.Fatalf("session = %+v, want mock with deadline", sess)
	}
	if _, ok, _ := e.clock.Deadline(ctx, sess.ID); !ok {
		t.Errorf("deadline not cached")
	}

	e.time.Advance(2 * time.Minute)
	if _, err := e.service.Pause(ctx, principal, sess.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	e.time.Advance(5 * time.Minute)
	if _, err := e.service.Resume(ctx, principal, sess.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	state, err := e.service.State(ctx, principal, sess.ID)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.RemainingSeconds == nil || *state.RemainingSeconds != 180 {
		t.Errorf("remaining = %v, want 180", state.RemainingSeconds)
	}
	if state.ElapsedSeconds != 120 {
		t.Errorf("elapsed = %d, want 120", state.ElapsedSeconds)
	}

	// Cache miss falls back to the stored deadline and re-caches it.
	_ = e.clock.Clear(ctx, sess.ID)
	e.time.Advance(10 * time.Minute)
	state, err = e.service.State(ctx, principal, sess.ID)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if *state.RemainingSeconds != 0 {
		t.Errorf("remaining past deadline = %d, want 0", *state.RemainingSeconds)
	}
	if _, ok, _ := e.clock.Deadline(ctx, sess.ID); !ok {
		t.Errorf("deadline cache not healed")
	}
}

func TestActiveMock(t *testing.T) {
	e := newRecorderEngine()
	e.unlimited(principal)
	ctx := context.Background()

	mock, err := e.service.Create(ctx, principal, mockRequest(3, 600))
	if err != nil {
		t.Fatalf("Create(mock): %v", err)
	}
	normal, err := e.service.Create(ctx, principal, normalRequest(10))
	if err != nil {
		t.Fatalf("Create(normal): %v", err)
	}

	if _, err := e.service.ActiveMock(ctx, principal, mock.ID); err != nil {
		t.Errorf("active mock: %v", err)
	}
	if _, err := e.service.ActiveMock(ctx, principal, normal.ID); !errors.Is(err, ErrValidation) {
		t.Errorf("normal session err = %v, want ErrValidation", err)
	}
	if _, err := e.service.ActiveMock(ctx, principal+1, mock.ID); !errors.Is(err, ErrOwnershipMismatch) {
		t.Errorf("other principal err = %v, want ErrOwnershipMismatch", err)
	}
	if _, err := e.service.Pause(ctx, principal, mock.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := e.service.ActiveMock(ctx, principal, mock.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("paused mock err = %v, want ErrInvalidTransition", err)
	}
}

func TestSectionSessionRefreshedInPlace(t *testing.T) {
	e := newRecorderEngine()
	e.unlimited(principal)
	for _, id := range []int64{101, 102, 103} {
		e.catalog.sectionOf[id] = 55
	}
	ctx := context.Background()

	req := &model.CreateSessionRequest{Mode: string(model.ModeSection), SectionID: 55, ExcludeAnswered: true}
	first, err := e.service.Create(ctx, principal, req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.recorder.Record(ctx, principal, first.ID, check(101, 1001)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	e.catalog.answeredBy[principal] = map[int64]bool{101: true}

	if _, err := e.service.Finalize(ctx, principal, first.ID, ""); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	e.time.Advance(time.Hour)
	second, err := e.service.Create(ctx, principal, req)
	if err != nil {
		t.Fatalf("Create(again): %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("new session %s created, want %s refreshed", second.ID, first.ID)
	}
	if second.Status != model.SessionStatusActive || second.Result != nil || second.EndedAt != nil {
		t.Errorf("refreshed session = %+v, want active without result", second)
	}
	if !second.Contains(101) {
		t.Errorf("refresh applied exclude-answered: %v", second.QuestionIDs)
	}
	if n := len(e.sessions.sessions); n != 1 {
		t.Errorf("sessions stored = %d, want 1", n)
	}
}

func TestSessionOwnership(t *testing.T) {
	e := newRecorderEngine()
	e.unlimited(principal)
	ctx := context.Background()

	sess, err := e.service.Create(ctx, principal, normalRequest(10))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	other := principal + 1
	if _, err := e.service.State(ctx, other, sess.ID); !errors.Is(err, ErrOwnershipMismatch) {
		t.Errorf("State err = %v", err)
	}
	if _, err := e.service.Pause(ctx, other, sess.ID); !errors.Is(err, ErrOwnershipMismatch) {
		t.Errorf("Pause err = %v", err)
	}
	if _, err := e.service.Finalize(ctx, other, sess.ID, ""); !errors.Is(err, ErrOwnershipMismatch) {
		t.Errorf("Finalize err = %v", err)
	}
	if _, err := e.service.State(ctx, principal, uuid.New()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session err = %v", err)
	}
}

func TestAggregate(t *testing.T) {
	rows := []model.Attempt{
		{QuestionID: 1, Status: model.AttemptAnswered, SelectedOptionID: int64Ptr(1), Correct: boolPtr(true)},
		{QuestionID: 2, Status: model.AttemptAnswered, SelectedOptionID: int64Ptr(2), Correct: boolPtr(false)},
		{QuestionID: 3, Status: model.AttemptSkipped},
		{QuestionID: 4, Status: model.AttemptExpired},
		{QuestionID: 5, Status: model.AttemptViewed},
		{QuestionID: 6, Status: model.AttemptAnswered, SelectedOptionID: int64Ptr(6)},
	}

	scored := Aggregate(rows, &model.Scoring{MarksCorrect: 4, MarksIncorrect: -1})
	if scored.TotalAttempted != 5 || scored.CorrectCount != 1 || scored.IncorrectCount != 1 || scored.SkippedCount != 3 {
		t.Errorf("scored = %+v", scored)
	}
	if scored.MarksObtained == nil || *scored.MarksObtained != 3 {
		t.Errorf("marks = %v, want 3", scored.MarksObtained)
	}

	unscored := Aggregate(rows, nil)
	if unscored.MarksObtained != nil {
		t.Errorf("unscored marks = %v, want nil", *unscored.MarksObtained)
	}
}

func TestElapsedActive(t *testing.T) {
	start := newTestClock().Now()
	at := func(m int) time.Time { return start.Add(time.Duration(m) * time.Minute) }
	resumed := at(20)
	ended := at(30)

	tests := []struct {
		name   string
		sess   model.PracticeSession
		pauses []model.PauseInterval
		now    time.Time
		want   time.Duration
	}{
		{"no pauses", model.PracticeSession{StartedAt: start}, nil, at(15), 15 * time.Minute},
		{"open pause", model.PracticeSession{StartedAt: start}, []model.PauseInterval{{PausedAt: at(10)}}, at(25), 10 * time.Minute},
		{"closed pause", model.PracticeSession{StartedAt: start}, []model.PauseInterval{{PausedAt: at(10), ResumedAt: &resumed}}, at(25), 15 * time.Minute},
		{"completed stops clock", model.PracticeSession{StartedAt: start, EndedAt: &ended}, []model.PauseInterval{{PausedAt: at(10), ResumedAt: &resumed}}, at(90), 20 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ElapsedActive(&tt.sess, tt.pauses, tt.now); got != tt.want {
				t.Errorf("elapsed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildSettings(t *testing.T) {
	prefs := model.PracticePreferences{DefaultMarksCorrect: 1, DefaultMarksIncorrect: -0.25, RevisionPerTopic: 3}

	t.Run("invalid requests", func(t *testing.T) {
		bad := map[string]*model.CreateSessionRequest{
			"unknown mode":        {Mode: "speedrun"},
			"section without id":  {Mode: string(model.ModeSection)},
			"mock without total":  {Mode: string(model.ModeMock), TimerSeconds: 60},
			"mock without timer":  {Mode: string(model.ModeMock), TotalQuestions: 10},
			"item without course": {Mode: string(model.ModeNormal), CourseItemID: int64Ptr(3)},
		}
		for name, req := range bad {
			if _, err := buildSettings(req, prefs); !errors.Is(err, ErrValidation) {
				t.Errorf("%s: err = %v, want ErrValidation", name, err)
			}
		}
	})

	t.Run("defaults", func(t *testing.T) {
		s, err := buildSettings(&model.CreateSessionRequest{Mode: string(model.ModeRevision)}, prefs)
		if err != nil {
			t.Fatalf("buildSettings: %v", err)
		}
		if r := s.Revision(); r == nil || r.PerTopic != 3 {
			t.Errorf("revision extras = %+v, want per_topic 3", r)
		}
		if s.Scoring == nil || s.Scoring.MarksIncorrect != -0.25 {
			t.Errorf("scoring = %+v, want default marks", s.Scoring)
		}

		m, err := buildSettings(&model.CreateSessionRequest{Mode: string(model.ModeMock), TotalQuestions: 5, TimerSeconds: 300}, prefs)
		if err != nil {
			t.Fatalf("buildSettings(mock): %v", err)
		}
		if x := m.Mock(); x == nil || x.Strategy != model.StrategyEqual || !m.Timer.Enabled {
			t.Errorf("mock settings = %+v", m)
		}

		i, err := buildSettings(&model.CreateSessionRequest{Mode: string(model.ModeIncorrect), Unscored: true}, prefs)
		if err != nil {
			t.Fatalf("buildSettings(incorrect): %v", err)
		}
		if x := i.Incorrect(); x == nil || x.Variant != model.IncorrectEver {
			t.Errorf("incorrect extras = %+v", x)
		}
		if i.Scoring != nil {
			t.Errorf("unscored request got scoring %+v", i.Scoring)
		}
	})
}
