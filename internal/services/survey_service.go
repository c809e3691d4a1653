package services

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SurveyStore abstracts persistence operations required by SurveyService.
type SurveyStore interface {
	GetReleasedSurvey(nameID string) (*Survey, error)
	// ListReleasedSurveys returns RELEASED surveys ordered by nameID asc, version desc.
	ListReleasedSurveys() ([]*Survey, error)
	FindInstance(surveyID string, start, end time.Time) (*SurveyInstance, error)
	// InsertInstance fails with a conflict error when the (survey, start, end)
	// triple already exists.
	InsertInstance(inst *SurveyInstance) error
	ListResponses(userID, instanceID string) ([]*SurveyResponse, error)
	GetStatusCursor(userID, instanceID string) (*SurveyStatus, error)
	GetUser(id string) (*User, error)
}

// SurveyService resolves time-windowed survey instances and evaluates completion
// from partial response sets.
type SurveyService struct {
	store    SurveyStore
	now      func() time.Time
	tokenGen func() string
}

func NewSurveyService(store SurveyStore) *SurveyService {
	return &SurveyService{
		store:    store,
		now:      func() time.Time { return time.Now().UTC() },
		tokenGen: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
}

func (s *SurveyService) GetReleasedSurvey(nameID string) (*Survey, error) {
	survey, err := s.store.GetReleasedSurvey(nameID)
	if err != nil {
		return nil, err
	}
	if survey == nil {
		return nil, NewNotFoundError("no released survey for nameId: " + nameID)
	}
	return survey, nil
}

// Overview summarizes every released survey for one user: completion status, resume
// cursor and the current instance window. Surveys are collected once per nameID by
// their highest released version.
func (s *SurveyService) Overview(userID string) ([]*SurveyOverview, error) {
	user, err := s.store.GetUser(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, NewNotFoundError("no such user: " + userID)
	}

	surveys, err := s.store.ListReleasedSurveys()
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	out := make([]*SurveyOverview, 0, len(surveys))

	for _, survey := range surveys {
		if seen[survey.NameID] {
			continue
		}
		seen[survey.NameID] = true

		instance, err := s.CurrentInstance(survey)
		if err != nil {
			return nil, err
		}

		status, err := s.Status(userID, survey, instance)
		if err != nil {
			return nil, err
		}

		nextQuestionID := ""
		cursor, err := s.store.GetStatusCursor(userID, instance.ID)
		if err != nil {
			return nil, err
		}
		if cursor != nil {
			nextQuestionID = cursor.NextQuestionID
		}

		ov := &SurveyOverview{
			NameID:         survey.NameID,
			Title:          survey.Title,
			Description:    survey.Description,
			Status:         status,
			CountQuestions: len(survey.Questions),
			NextQuestionID: nextQuestionID,
			Token:          instance.Token,
		}
		if !instance.StartTime.Equal(InstantMin) {
			t := instance.StartTime
			ov.StartTime = &t
		}
		if !instance.EndTime.Equal(InstantMax) {
			t := instance.EndTime
			ov.EndTime = &t
		}
		out = append(out, ov)
	}

	return out, nil
}

// Status recomputes completion for one user against the instance's survey tree.
// An instance with no responses at all is always INCOMPLETE, even though the
// recursive walk would vacuously pass on an empty question list.
func (s *SurveyService) Status(userID string, survey *Survey, instance *SurveyInstance) (SurveyStatusType, error) {
	responses, err := s.store.ListResponses(userID, instance.ID)
	if err != nil {
		return StatusIncomplete, err
	}

	byQuestion := make(map[string]*SurveyResponse, len(responses))
	for _, r := range responses {
		byQuestion[r.QuestionID] = r
	}

	if len(byQuestion) == 0 {
		return StatusIncomplete, nil
	}

	if checkAnswers(survey.Questions, byQuestion) {
		return StatusComplete, nil
	}
	return StatusIncomplete, nil
}

// checkAnswers walks one sibling list. Every question must be answered and, where a
// gated sub-question group is required by the given response, its children must pass
// recursively. The first unanswered required node short-circuits the walk.
func checkAnswers(questions []*Question, responses map[string]*SurveyResponse) bool {
	if len(questions) == 0 || len(responses) == 0 {
		return false
	}

	for _, question := range questions {
		if !isAnswered(question, responses) {
			return false
		}
		if isSubQuestionRequired(question, responses[question.ID]) {
			if !checkAnswers(question.Container.Questions, responses) {
				return false
			}
		}
	}

	return true
}

// isSubQuestionRequired decides whether the question's container is active for the
// given response. A nil dependsOn gate means unconditional; a choice gate is
// OR-linked across its answer set.
func isSubQuestionRequired(question *Question, response *SurveyResponse) bool {
	if question == nil || response == nil || !question.HasContainer() {
		return false
	}

	switch question.Type {
	case QuestionBool:
		dependsOn := question.Container.DependsOnBool
		if dependsOn == nil {
			return true
		}
		return response.BoolAnswer != nil && *response.BoolAnswer == *dependsOn

	case QuestionChoice:
		dependsOn := question.Container.DependsOn
		if len(dependsOn) == 0 {
			return true
		}
		for _, want := range dependsOn {
			for _, given := range response.AnswerIDs {
				if given == want {
					return true
				}
			}
		}
		return false

	default:
		return true
	}
}

func isAnswered(question *Question, responses map[string]*SurveyResponse) bool {
	switch question.Type {
	case QuestionBool, QuestionChecklistEntry:
		response := responses[question.ID]
		return response != nil && response.BoolAnswer != nil

	case QuestionChecklist:
		// Entries carry their own identity; each must have its own boolean response.
		for _, entry := range question.Entries {
			response := responses[entry.ID]
			if response == nil || response.BoolAnswer == nil {
				return false
			}
		}
		return true

	case QuestionChoice:
		response := responses[question.ID]
		if response == nil || len(response.AnswerIDs) == 0 {
			return false
		}
		// At least one selected id must be among the question's own answers.
		for _, answer := range question.Answers {
			for _, given := range response.AnswerIDs {
				if given == answer.ID {
					return true
				}
			}
		}
		return false

	case QuestionRange:
		response := responses[question.ID]
		return response != nil && response.RangeAnswer != nil

	case QuestionText:
		response := responses[question.ID]
		return response != nil && strings.TrimSpace(response.TextAnswer) != ""

	default:
		return false
	}
}

// CurrentInstance resolves the survey's instance for the window implied by its
// interval type, creating it on first access. Self-healing: concurrent creators race
// on the store's uniqueness constraint and losers re-read the winner's row.
func (s *SurveyService) CurrentInstance(survey *Survey) (*SurveyInstance, error) {
	switch survey.IntervalType {
	case IntervalWeekly:
		return s.weeklyInstance(survey)
	default:
		return s.getInstance(survey, InstantMin, InstantMax)
	}
}

func (s *SurveyService) weeklyInstance(survey *Survey) (*SurveyInstance, error) {
	start := startOfWeek(s.now())
	end := start.AddDate(0, 0, 7).Add(-time.Second)
	return s.getInstance(survey, start, end)
}

// startOfWeek returns the most recent Monday 00:00:00 UTC, today included.
func startOfWeek(now time.Time) time.Time {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) - int(time.Monday) + 7) % 7
	return day.AddDate(0, 0, -offset)
}

func (s *SurveyService) getInstance(survey *Survey, start, end time.Time) (*SurveyInstance, error) {
	instance, err := s.store.FindInstance(survey.ID, start, end)
	if err != nil {
		return nil, err
	}
	if instance != nil {
		return instance, nil
	}

	instance = &SurveyInstance{
		ID:        uuid.NewString(),
		SurveyID:  survey.ID,
		StartTime: start,
		EndTime:   end,
		Token:     s.tokenGen(),
	}

	if err := s.store.InsertInstance(instance); err != nil {
		if IsConflict(err) {
			// Another caller created the same window first; return the winner.
			return s.store.FindInstance(survey.ID, start, end)
		}
		return nil, err
	}

	return instance, nil
}
