package api

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pulseworks/surveyd/internal/services"
)

// memoryStore keeps whole survey aggregates under one lock and enforces the same
// uniqueness rules as the SQLite store, so the lock/instance race semantics hold
// in tests and dev mode too.
type memoryStore struct {
	mu           sync.RWMutex
	surveys      map[string]*services.Survey         // by survey id
	instances    map[string]*services.SurveyInstance // by instance id
	responses    map[string]*services.SurveyResponse // by response id
	cursors      map[string]*services.SurveyStatus   // by user id + "\x00" + instance id
	users        map[string]*services.User           // by user id
	usersByEmail map[string]*services.User
	devices      map[string]*services.DeviceToken // by token
	locks        map[string]time.Time             // task name -> acquired at
}

func NewMemoryStore() Store { return newMemoryStore() }

func newMemoryStore() *memoryStore {
	return &memoryStore{
		surveys:      map[string]*services.Survey{},
		instances:    map[string]*services.SurveyInstance{},
		responses:    map[string]*services.SurveyResponse{},
		cursors:      map[string]*services.SurveyStatus{},
		users:        map[string]*services.User{},
		usersByEmail: map[string]*services.User{},
		devices:      map[string]*services.DeviceToken{},
		locks:        map[string]time.Time{},
	}
}

// cloneSurvey isolates callers from the stored aggregate so an in-flight edit is
// only published by SaveSurvey, never by pointer aliasing.
func cloneSurvey(s *services.Survey) *services.Survey {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var out services.Survey
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return &out
}

func (s *memoryStore) GetReleasedSurvey(nameID string) (*services.Survey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *services.Survey
	for _, survey := range s.surveys {
		if survey.NameID != nameID || survey.ReleaseStatus != services.ReleaseReleased {
			continue
		}
		if best == nil || survey.Version > best.Version {
			best = survey
		}
	}
	return cloneSurvey(best), nil
}

func (s *memoryStore) ListReleasedSurveys() ([]*services.Survey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.Survey, 0, len(s.surveys))
	for _, survey := range s.surveys {
		if survey.ReleaseStatus == services.ReleaseReleased {
			out = append(out, cloneSurvey(survey))
		}
	}
	sortSurveys(out)
	return out, nil
}

func (s *memoryStore) ListRemindableSurveys() ([]*services.Survey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.Survey, 0, len(s.surveys))
	for _, survey := range s.surveys {
		if survey.ReleaseStatus == services.ReleaseReleased && survey.ReminderType != services.ReminderNone {
			out = append(out, cloneSurvey(survey))
		}
	}
	sortSurveys(out)
	return out, nil
}

func sortSurveys(surveys []*services.Survey) {
	sort.Slice(surveys, func(i, j int) bool {
		if surveys[i].NameID != surveys[j].NameID {
			return surveys[i].NameID < surveys[j].NameID
		}
		return surveys[i].Version > surveys[j].Version
	})
}

func (s *memoryStore) ListSurveyVersions(nameID string) ([]*services.Survey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.Survey{}
	for _, survey := range s.surveys {
		if survey.NameID == nameID {
			out = append(out, cloneSurvey(survey))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (s *memoryStore) FindSurveyByQuestion(questionID string) (*services.Survey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, survey := range s.surveys {
		if questionsContain(survey.Questions, questionID) {
			return cloneSurvey(survey), nil
		}
	}
	return nil, nil
}

func questionsContain(questions []*services.Question, questionID string) bool {
	for _, question := range questions {
		if question.ID == questionID {
			return true
		}
		for _, entry := range question.Entries {
			if entry.ID == questionID {
				return true
			}
		}
		if question.Container != nil && questionsContain(question.Container.Questions, questionID) {
			return true
		}
	}
	return false
}

func (s *memoryStore) InsertSurvey(survey *services.Survey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.surveys {
		if existing.NameID == survey.NameID && existing.Version == survey.Version {
			return services.NewConflictError("survey version exists: " + survey.NameID)
		}
	}
	s.surveys[survey.ID] = cloneSurvey(survey)
	return nil
}

func (s *memoryStore) SaveSurvey(survey *services.Survey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.surveys[survey.ID]; !ok {
		return services.NewNotFoundError("no such survey: " + survey.ID)
	}
	s.surveys[survey.ID] = cloneSurvey(survey)
	return nil
}

func (s *memoryStore) FindInstance(surveyID string, start, end time.Time) (*services.SurveyInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inst := range s.instances {
		if inst.SurveyID == surveyID && inst.StartTime.Equal(start) && inst.EndTime.Equal(end) {
			cp := *inst
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) InsertInstance(inst *services.SurveyInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.instances {
		if existing.SurveyID == inst.SurveyID && existing.StartTime.Equal(inst.StartTime) && existing.EndTime.Equal(inst.EndTime) {
			return services.NewConflictError("instance window exists for survey: " + inst.SurveyID)
		}
	}
	cp := *inst
	s.instances[inst.ID] = &cp
	return nil
}

func (s *memoryStore) ListResponses(userID, instanceID string) ([]*services.SurveyResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.SurveyResponse{}
	for _, r := range s.responses {
		if r.UserID == userID && r.InstanceID == instanceID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memoryStore) ListResponsesByInstance(instanceID string) ([]*services.SurveyResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.SurveyResponse{}
	for _, r := range s.responses {
		if r.InstanceID == instanceID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memoryStore) GetResponse(userID, instanceID, questionID string) (*services.SurveyResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.responses {
		if r.UserID == userID && r.InstanceID == instanceID && r.QuestionID == questionID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) InsertResponse(r *services.SurveyResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.responses {
		if existing.UserID == r.UserID && existing.InstanceID == r.InstanceID && existing.QuestionID == r.QuestionID {
			return services.NewConflictError("response exists for question: " + r.QuestionID)
		}
	}
	cp := *r
	s.responses[r.ID] = &cp
	return nil
}

func (s *memoryStore) UpdateResponse(r *services.SurveyResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.responses[r.ID]; !ok {
		return services.NewNotFoundError("no such response: " + r.ID)
	}
	cp := *r
	s.responses[r.ID] = &cp
	return nil
}

func (s *memoryStore) HasResponse(userID, instanceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.responses {
		if r.UserID == userID && r.InstanceID == instanceID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) SaveStatusCursor(c *services.SurveyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.cursors[c.UserID+"\x00"+c.InstanceID] = &cp
	return nil
}

func (s *memoryStore) GetStatusCursor(userID, instanceID string) (*services.SurveyStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.cursors[userID+"\x00"+instanceID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (s *memoryStore) GetUser(id string) (*services.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (s *memoryStore) FindUserByEmail(email string) (*services.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.usersByEmail[email]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (s *memoryStore) AddUser(u *services.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Email != "" {
		if _, ok := s.usersByEmail[u.Email]; ok {
			return services.NewConflictError("email exists: " + u.Email)
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	if u.Email != "" {
		s.usersByEmail[u.Email] = &cp
	}
	return nil
}

func (s *memoryStore) AddDeviceToken(t *services.DeviceToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[t.Token]; ok {
		return services.NewConflictError("device token exists")
	}
	cp := *t
	s.devices[t.Token] = &cp
	return nil
}

func (s *memoryStore) ListDeviceTokens() ([]*services.DeviceToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.DeviceToken, 0, len(s.devices))
	for _, t := range s.devices {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memoryStore) DeleteExpiredLocks(task string, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at, ok := s.locks[task]; ok && at.Before(before) {
		delete(s.locks, task)
	}
	return nil
}

func (s *memoryStore) InsertLock(task string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locks[task]; ok {
		return services.NewConflictError("lock held: " + task)
	}
	s.locks[task] = at
	return nil
}
