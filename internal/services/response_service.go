package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ResponseStore abstracts persistence operations required by ResponseService.
type ResponseStore interface {
	GetReleasedSurvey(nameID string) (*Survey, error)
	GetUser(id string) (*User, error)
	GetResponse(userID, instanceID, questionID string) (*SurveyResponse, error)
	// InsertResponse fails with a conflict error when the (user, instance, question)
	// triple already exists.
	InsertResponse(r *SurveyResponse) error
	UpdateResponse(r *SurveyResponse) error
	SaveStatusCursor(c *SurveyStatus) error
	ListResponsesByInstance(instanceID string) ([]*SurveyResponse, error)
}

// InstanceResolver yields the current time-windowed instance for a survey.
// Satisfied by SurveyService.
type InstanceResolver interface {
	CurrentInstance(survey *Survey) (*SurveyInstance, error)
}

// AnswerSubmission mirrors the inbound payload for one answered question.
// Checklist answers are keyed by entry id and fan out into one response per entry.
type AnswerSubmission struct {
	QuestionID      string          `json:"question_id"`
	BoolAnswer      *bool           `json:"bool_answer,omitempty"`
	AnswerIDs       []string        `json:"answer_ids,omitempty"`
	RangeAnswer     *int            `json:"range_answer,omitempty"`
	TextAnswer      string          `json:"text_answer,omitempty"`
	ChecklistAnswer map[string]bool `json:"checklist_answer,omitempty"`
}

// ResponseService records respondent answers against the current survey instance
// and maintains the per-user resume cursor.
type ResponseService struct {
	store     ResponseStore
	instances InstanceResolver
	now       func() time.Time
	idGen     func() string
}

func NewResponseService(store ResponseStore, instances InstanceResolver) *ResponseService {
	return &ResponseService{
		store:     store,
		instances: instances,
		now:       func() time.Time { return time.Now().UTC() },
		idGen:     uuid.NewString,
	}
}

// Submit validates the answer against the question's variant and upserts the
// response rows for the survey's current instance.
func (s *ResponseService) Submit(userID, nameID string, sub *AnswerSubmission) error {
	if sub == nil || sub.QuestionID == "" {
		return NewInvalidError("question id required")
	}

	user, err := s.store.GetUser(userID)
	if err != nil {
		return err
	}
	if user == nil {
		return NewNotFoundError("no such user: " + userID)
	}

	survey, err := s.store.GetReleasedSurvey(nameID)
	if err != nil {
		return err
	}
	if survey == nil {
		return NewNotFoundError("no released survey for nameId: " + nameID)
	}

	question, _ := findQuestion(survey, sub.QuestionID)
	if question == nil {
		return NewNotFoundError("no such question in survey " + nameID + ": " + sub.QuestionID)
	}

	instance, err := s.instances.CurrentInstance(survey)
	if err != nil {
		return err
	}

	responses, err := s.buildResponses(question, instance, userID, sub)
	if err != nil {
		return err
	}
	for _, response := range responses {
		if err := s.upsert(response); err != nil {
			return err
		}
	}

	return s.advanceCursor(survey, instance, userID, question)
}

func (s *ResponseService) buildResponses(question *Question, instance *SurveyInstance, userID string, sub *AnswerSubmission) ([]*SurveyResponse, error) {
	base := func(questionID string) *SurveyResponse {
		return &SurveyResponse{
			ID:         s.idGen(),
			UserID:     userID,
			InstanceID: instance.ID,
			QuestionID: questionID,
			CreatedAt:  s.now(),
		}
	}

	switch question.Type {
	case QuestionBool, QuestionChecklistEntry:
		if sub.BoolAnswer == nil {
			return nil, NewInvalidError("boolAnswer required for question: " + question.ID)
		}
		response := base(question.ID)
		response.BoolAnswer = sub.BoolAnswer
		return []*SurveyResponse{response}, nil

	case QuestionChoice:
		if len(sub.AnswerIDs) == 0 {
			return nil, NewInvalidError("answerIds required for question: " + question.ID)
		}
		if !question.Multiple && len(sub.AnswerIDs) > 1 {
			return nil, NewInvalidError("question accepts a single answer: " + question.ID)
		}
		for _, id := range sub.AnswerIDs {
			if findAnswer(question.Answers, id) == nil {
				return nil, NewInvalidError("answer does not belong to question " + question.ID + ": " + id)
			}
		}
		response := base(question.ID)
		response.AnswerIDs = sub.AnswerIDs
		return []*SurveyResponse{response}, nil

	case QuestionRange:
		if sub.RangeAnswer == nil {
			return nil, NewInvalidError("rangeAnswer required for question: " + question.ID)
		}
		if *sub.RangeAnswer < question.MinValue || *sub.RangeAnswer > question.MaxValue {
			return nil, NewInvalidError(fmt.Sprintf(
				"rangeAnswer out of bounds [%d, %d]: %d", question.MinValue, question.MaxValue, *sub.RangeAnswer))
		}
		response := base(question.ID)
		response.RangeAnswer = sub.RangeAnswer
		return []*SurveyResponse{response}, nil

	case QuestionText:
		if strings.TrimSpace(sub.TextAnswer) == "" {
			return nil, NewInvalidError("textAnswer required for question: " + question.ID)
		}
		if question.MaxLength > 0 && len(sub.TextAnswer) > question.MaxLength {
			return nil, NewInvalidError(fmt.Sprintf(
				"textAnswer exceeds maximum length %d for question: %s", question.MaxLength, question.ID))
		}
		response := base(question.ID)
		response.TextAnswer = sub.TextAnswer
		return []*SurveyResponse{response}, nil

	case QuestionChecklist:
		if len(sub.ChecklistAnswer) == 0 {
			return nil, NewInvalidError("checklistAnswer required for question: " + question.ID)
		}
		responses := make([]*SurveyResponse, 0, len(sub.ChecklistAnswer))
		for entryID, value := range sub.ChecklistAnswer {
			entry := findEntry(question, entryID)
			if entry == nil {
				return nil, NewInvalidError("entry does not belong to question " + question.ID + ": " + entryID)
			}
			v := value
			response := base(entry.ID)
			response.BoolAnswer = &v
			responses = append(responses, response)
		}
		return responses, nil

	default:
		return nil, NewInvalidError("unsupported question type: " + string(question.Type))
	}
}

func findEntry(question *Question, entryID string) *Question {
	for _, entry := range question.Entries {
		if entry.ID == entryID {
			return entry
		}
	}
	return nil
}

// upsert inserts a response or, if the unique triple already exists, carries the
// payload over to the stored row. A conflict on insert is also tolerated so a
// concurrent first answer degrades to an update.
func (s *ResponseService) upsert(response *SurveyResponse) error {
	existing, err := s.store.GetResponse(response.UserID, response.InstanceID, response.QuestionID)
	if err != nil {
		return err
	}
	if existing == nil {
		err := s.store.InsertResponse(response)
		if err == nil || !IsConflict(err) {
			return err
		}
		existing, err = s.store.GetResponse(response.UserID, response.InstanceID, response.QuestionID)
		if err != nil {
			return err
		}
		if existing == nil {
			return NewNotFoundError("response vanished during upsert: " + response.QuestionID)
		}
	}

	now := s.now()
	existing.BoolAnswer = response.BoolAnswer
	existing.AnswerIDs = response.AnswerIDs
	existing.RangeAnswer = response.RangeAnswer
	existing.TextAnswer = response.TextAnswer
	existing.UpdatedAt = &now
	return s.store.UpdateResponse(existing)
}

// advanceCursor points the resume cursor at the next top-level question after the
// one just answered, or clears it at the end of the list.
func (s *ResponseService) advanceCursor(survey *Survey, instance *SurveyInstance, userID string, answered *Question) error {
	top := topLevelAncestor(survey, answered.ID)
	if top == nil {
		return nil
	}

	next := ""
	for _, question := range survey.Questions {
		if question.Ranking > top.Ranking {
			next = question.ID
			break
		}
	}

	return s.store.SaveStatusCursor(&SurveyStatus{
		UserID:         userID,
		InstanceID:     instance.ID,
		NextQuestionID: next,
	})
}

func topLevelAncestor(survey *Survey, questionID string) *Question {
	for _, question := range survey.Questions {
		if containsQuestion(question, questionID) {
			return question
		}
	}
	return nil
}

func containsQuestion(question *Question, questionID string) bool {
	if question.ID == questionID {
		return true
	}
	for _, entry := range question.Entries {
		if entry.ID == questionID {
			return true
		}
	}
	if question.Container != nil {
		for _, child := range question.Container.Questions {
			if containsQuestion(child, questionID) {
				return true
			}
		}
	}
	return false
}
