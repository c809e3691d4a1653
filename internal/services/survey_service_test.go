package services

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type stubSurveyStore struct {
	mu        sync.Mutex
	surveys   []*Survey
	instances []*SurveyInstance
	responses []*SurveyResponse
	cursors   map[string]*SurveyStatus
	users     map[string]*User
}

func (s *stubSurveyStore) GetReleasedSurvey(nameID string) (*Survey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Survey
	for _, survey := range s.surveys {
		if survey.NameID == nameID && survey.ReleaseStatus == ReleaseReleased {
			if best == nil || survey.Version > best.Version {
				best = survey
			}
		}
	}
	return best, nil
}

func (s *stubSurveyStore) ListReleasedSurveys() ([]*Survey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*Survey{}
	for _, survey := range s.surveys {
		if survey.ReleaseStatus == ReleaseReleased {
			out = append(out, survey)
		}
	}
	return out, nil
}

func (s *stubSurveyStore) FindInstance(surveyID string, start, end time.Time) (*SurveyInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findInstanceLocked(surveyID, start, end), nil
}

func (s *stubSurveyStore) findInstanceLocked(surveyID string, start, end time.Time) *SurveyInstance {
	for _, inst := range s.instances {
		if inst.SurveyID == surveyID && inst.StartTime.Equal(start) && inst.EndTime.Equal(end) {
			return inst
		}
	}
	return nil
}

func (s *stubSurveyStore) InsertInstance(inst *SurveyInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findInstanceLocked(inst.SurveyID, inst.StartTime, inst.EndTime) != nil {
		return NewConflictError("instance window exists")
	}
	s.instances = append(s.instances, inst)
	return nil
}

func (s *stubSurveyStore) ListResponses(userID, instanceID string) ([]*SurveyResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*SurveyResponse{}
	for _, r := range s.responses {
		if r.UserID == userID && r.InstanceID == instanceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubSurveyStore) GetStatusCursor(userID, instanceID string) (*SurveyStatus, error) {
	if s.cursors == nil {
		return nil, nil
	}
	return s.cursors[userID+"/"+instanceID], nil
}

func (s *stubSurveyStore) GetUser(id string) (*User, error) {
	if s.users == nil {
		return nil, nil
	}
	return s.users[id], nil
}

func boolPtr(v bool) *bool { return &v }
func intPtr(v int) *int    { return &v }

func newTestSurveyService(store *stubSurveyStore, at time.Time) *SurveyService {
	svc := NewSurveyService(store)
	svc.now = func() time.Time { return at }
	var n int64
	svc.tokenGen = func() string {
		return fmt.Sprintf("token-%d", atomic.AddInt64(&n, 1))
	}
	return svc
}

func boolResponse(user, instance, question string, v bool) *SurveyResponse {
	return &SurveyResponse{ID: question + "-r", UserID: user, InstanceID: instance, QuestionID: question, BoolAnswer: boolPtr(v)}
}

func TestStatusBoolGate(t *testing.T) {
	survey := &Survey{
		ID: "S1",
		Questions: []*Question{
			{
				ID: "Q1", Type: QuestionBool, Ranking: 0,
				Container: &Container{
					ID: "C1", Type: ContainerBool, DependsOnBool: boolPtr(true),
					Questions: []*Question{{ID: "Q1a", Type: QuestionText, Ranking: 0}},
				},
			},
		},
	}
	instance := &SurveyInstance{ID: "I1", SurveyID: "S1"}

	cases := []struct {
		name      string
		responses []*SurveyResponse
		want      SurveyStatusType
	}{
		{
			name:      "gate answered false skips sub-questions",
			responses: []*SurveyResponse{boolResponse("U1", "I1", "Q1", false)},
			want:      StatusComplete,
		},
		{
			name:      "gate answered true requires sub-question",
			responses: []*SurveyResponse{boolResponse("U1", "I1", "Q1", true)},
			want:      StatusIncomplete,
		},
		{
			name: "gate true with sub-question answered",
			responses: []*SurveyResponse{
				boolResponse("U1", "I1", "Q1", true),
				{ID: "r2", UserID: "U1", InstanceID: "I1", QuestionID: "Q1a", TextAnswer: "hello"},
			},
			want: StatusComplete,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &stubSurveyStore{responses: tc.responses}
			svc := newTestSurveyService(store, time.Now())
			got, err := svc.Status("U1", survey, instance)
			if err != nil {
				t.Fatalf("Status: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Status = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestStatusChoiceGateOrLinked(t *testing.T) {
	survey := &Survey{
		ID: "S1",
		Questions: []*Question{
			{
				ID: "Q1", Type: QuestionChoice, Ranking: 0,
				Answers: []*Answer{{ID: "A1", Value: "AnswerA"}, {ID: "A2", Value: "AnswerB"}, {ID: "A3", Value: "AnswerC"}},
				Container: &Container{
					ID: "C1", Type: ContainerChoice, DependsOn: []string{"A1", "A2"},
					Questions: []*Question{{ID: "Q1a", Type: QuestionBool, Ranking: 0}},
				},
			},
		},
	}
	instance := &SurveyInstance{ID: "I1", SurveyID: "S1"}

	cases := []struct {
		name     string
		answerID string
		want     SurveyStatusType
	}{
		{"first gating answer activates group", "A1", StatusIncomplete},
		{"second gating answer activates group", "A2", StatusIncomplete},
		{"non-gating answer completes alone", "A3", StatusComplete},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &stubSurveyStore{responses: []*SurveyResponse{
				{ID: "r1", UserID: "U1", InstanceID: "I1", QuestionID: "Q1", AnswerIDs: []string{tc.answerID}},
			}}
			svc := newTestSurveyService(store, time.Now())
			got, err := svc.Status("U1", survey, instance)
			if err != nil {
				t.Fatalf("Status: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Status = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestStatusChecklistRequiresEveryEntry(t *testing.T) {
	survey := &Survey{
		ID: "S1",
		Questions: []*Question{
			{
				ID: "Q1", Type: QuestionChecklist, Ranking: 0,
				Entries: []*Question{
					{ID: "E1", Type: QuestionChecklistEntry},
					{ID: "E2", Type: QuestionChecklistEntry},
					{ID: "E3", Type: QuestionChecklistEntry},
				},
			},
		},
	}
	instance := &SurveyInstance{ID: "I1", SurveyID: "S1"}

	store := &stubSurveyStore{responses: []*SurveyResponse{
		boolResponse("U1", "I1", "E1", true),
		boolResponse("U1", "I1", "E2", false),
	}}
	svc := newTestSurveyService(store, time.Now())

	got, err := svc.Status("U1", survey, instance)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got != StatusIncomplete {
		t.Fatalf("two of three entries answered: Status = %s, want INCOMPLETE", got)
	}

	store.responses = append(store.responses, boolResponse("U1", "I1", "E3", true))
	got, err = svc.Status("U1", survey, instance)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got != StatusComplete {
		t.Fatalf("all entries answered: Status = %s, want COMPLETE", got)
	}
}

func TestStatusNoResponsesIsIncomplete(t *testing.T) {
	// An empty survey tree would vacuously pass the recursive walk; the special
	// case keeps an untouched instance INCOMPLETE.
	survey := &Survey{ID: "S1", Questions: nil}
	instance := &SurveyInstance{ID: "I1", SurveyID: "S1"}
	svc := newTestSurveyService(&stubSurveyStore{}, time.Now())

	got, err := svc.Status("U1", survey, instance)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got != StatusIncomplete {
		t.Fatalf("Status = %s, want INCOMPLETE", got)
	}
}

func TestStatusChoiceAnswerMustBelongToQuestion(t *testing.T) {
	survey := &Survey{
		ID: "S1",
		Questions: []*Question{
			{ID: "Q1", Type: QuestionChoice, Ranking: 0, Answers: []*Answer{{ID: "A1", Value: "Yes"}}},
		},
	}
	instance := &SurveyInstance{ID: "I1", SurveyID: "S1"}
	store := &stubSurveyStore{responses: []*SurveyResponse{
		{ID: "r1", UserID: "U1", InstanceID: "I1", QuestionID: "Q1", AnswerIDs: []string{"other"}},
	}}
	svc := newTestSurveyService(store, time.Now())

	got, err := svc.Status("U1", survey, instance)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got != StatusIncomplete {
		t.Fatalf("foreign answer id counted as answered: Status = %s", got)
	}
}

func TestStartOfWeek(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "wednesday resolves to previous monday",
			now:  time.Date(2020, 5, 20, 15, 30, 0, 0, time.UTC),
			want: time.Date(2020, 5, 18, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "monday resolves to the same day",
			now:  time.Date(2020, 5, 18, 0, 0, 1, 0, time.UTC),
			want: time.Date(2020, 5, 18, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "sunday resolves to the monday six days back",
			now:  time.Date(2020, 5, 24, 23, 59, 59, 0, time.UTC),
			want: time.Date(2020, 5, 18, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := startOfWeek(tc.now); !got.Equal(tc.want) {
				t.Fatalf("startOfWeek(%s) = %s, want %s", tc.now, got, tc.want)
			}
		})
	}
}

func TestCurrentInstanceWeeklyWindow(t *testing.T) {
	store := &stubSurveyStore{}
	svc := newTestSurveyService(store, time.Date(2020, 5, 20, 12, 0, 0, 0, time.UTC))
	survey := &Survey{ID: "S1", IntervalType: IntervalWeekly}

	inst, err := svc.CurrentInstance(survey)
	if err != nil {
		t.Fatalf("CurrentInstance: %v", err)
	}
	wantStart := time.Date(2020, 5, 18, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2020, 5, 24, 23, 59, 59, 0, time.UTC)
	if !inst.StartTime.Equal(wantStart) || !inst.EndTime.Equal(wantEnd) {
		t.Fatalf("window = [%s, %s], want [%s, %s]", inst.StartTime, inst.EndTime, wantStart, wantEnd)
	}
	if inst.Token == "" {
		t.Fatal("expected instance token")
	}
}

func TestCurrentInstancePermanentWindow(t *testing.T) {
	store := &stubSurveyStore{}
	svc := newTestSurveyService(store, time.Now())
	survey := &Survey{ID: "S1", IntervalType: IntervalNone}

	inst, err := svc.CurrentInstance(survey)
	if err != nil {
		t.Fatalf("CurrentInstance: %v", err)
	}
	if !inst.StartTime.Equal(InstantMin) || !inst.EndTime.Equal(InstantMax) {
		t.Fatalf("permanent survey window = [%s, %s]", inst.StartTime, inst.EndTime)
	}

	again, err := svc.CurrentInstance(survey)
	if err != nil {
		t.Fatalf("CurrentInstance second call: %v", err)
	}
	if again.ID != inst.ID {
		t.Fatalf("second resolution created a new instance: %s vs %s", again.ID, inst.ID)
	}
}

func TestCurrentInstanceConcurrentCreation(t *testing.T) {
	store := &stubSurveyStore{}
	svc := newTestSurveyService(store, time.Date(2020, 5, 20, 12, 0, 0, 0, time.UTC))
	survey := &Survey{ID: "S1", IntervalType: IntervalWeekly}

	const n = 8
	results := make([]*SurveyInstance, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inst, err := svc.CurrentInstance(survey)
			if err != nil {
				t.Errorf("CurrentInstance: %v", err)
				return
			}
			results[i] = inst
		}(i)
	}
	wg.Wait()

	if len(store.instances) != 1 {
		t.Fatalf("expected a single stored instance, got %d", len(store.instances))
	}
	for i, inst := range results {
		if inst == nil || inst.ID != store.instances[0].ID {
			t.Fatalf("caller %d observed a different instance: %+v", i, inst)
		}
	}
}

func TestOverview(t *testing.T) {
	permanent := &Survey{
		ID: "S1", NameID: "BASIC", Title: "Basic", Version: 2,
		ReleaseStatus: ReleaseReleased, IntervalType: IntervalNone,
		Questions: []*Question{{ID: "Q1", Type: QuestionBool, Ranking: 0}},
	}
	older := &Survey{
		ID: "S0", NameID: "BASIC", Title: "Basic", Version: 1,
		ReleaseStatus: ReleaseReleased, IntervalType: IntervalNone,
	}
	store := &stubSurveyStore{
		surveys: []*Survey{permanent, older},
		users:   map[string]*User{"U1": {ID: "U1"}},
	}
	svc := newTestSurveyService(store, time.Now())

	out, err := svc.Overview("U1")
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one overview per nameId, got %d", len(out))
	}
	ov := out[0]
	if ov.NameID != "BASIC" || ov.Status != StatusIncomplete || ov.CountQuestions != 1 {
		t.Fatalf("unexpected overview: %+v", ov)
	}
	if ov.StartTime != nil || ov.EndTime != nil {
		t.Fatalf("permanent survey must not expose window bounds: %+v", ov)
	}
	if ov.Token == "" {
		t.Fatal("expected instance token in overview")
	}
}

func TestOverviewUnknownUser(t *testing.T) {
	svc := newTestSurveyService(&stubSurveyStore{}, time.Now())
	if _, err := svc.Overview("nobody"); err == nil {
		t.Fatal("expected error for unknown user")
	}
}
