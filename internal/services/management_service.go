package services

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ManagementStore abstracts persistence operations required by ManagementService.
// InsertSurvey and SaveSurvey commit a whole definition tree in one step; readers
// must never observe a partially written tree.
type ManagementStore interface {
	// ListSurveyVersions returns all versions for nameID ordered by version desc.
	ListSurveyVersions(nameID string) ([]*Survey, error)
	// FindSurveyByQuestion returns the survey aggregate owning the question, across
	// all versions, or nil.
	FindSurveyByQuestion(questionID string) (*Survey, error)
	InsertSurvey(s *Survey) error
	SaveSurvey(s *Survey) error
}

// ManagementService owns every mutation of the definition tree: creating drafts,
// branching new versions off a release and single-question edits.
type ManagementService struct {
	store ManagementStore
	now   func() time.Time
	idGen func() string
}

func NewManagementService(store ManagementStore) *ManagementService {
	return &ManagementService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: uuid.NewString,
	}
}

// QuestionPatch is a single-field-set edit of one question. Type declares the
// variant the caller believes it is editing and must match the stored question.
type QuestionPatch struct {
	ID      string       `json:"id"`
	Type    QuestionType `json:"type"`
	Text    string       `json:"text"`
	Ranking int          `json:"ranking"`

	BoolDefault     *bool  `json:"bool_default,omitempty"`
	DefaultAnswerID string `json:"default_answer_id,omitempty"`
	Multiple        bool   `json:"multiple,omitempty"`
	MinValue        int    `json:"min_value,omitempty"`
	MaxValue        int    `json:"max_value,omitempty"`
	DefaultValue    *int   `json:"default_value,omitempty"`
	MinText         string `json:"min_text,omitempty"`
	MaxText         string `json:"max_text,omitempty"`
	MaxLength       int    `json:"max_length,omitempty"`
	Multiline       bool   `json:"multiline,omitempty"`
}

// CreateSurvey stores a brand new survey definition as version 1, status NEW.
// Node ids are assigned here; rankings are normalized to list order.
func (s *ManagementService) CreateSurvey(survey *Survey) (*Survey, error) {
	if survey == nil || survey.NameID == "" {
		return nil, NewInvalidError("nameId required")
	}
	existing, err := s.store.ListSurveyVersions(survey.NameID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, NewConflictError("survey already exists for nameId: " + survey.NameID)
	}
	if err := s.prepareTree(survey.Questions); err != nil {
		return nil, err
	}

	survey.ID = s.idGen()
	survey.Version = 1
	survey.ReleaseStatus = ReleaseNew
	survey.CreatedAt = s.now()
	if survey.IntervalType == "" {
		survey.IntervalType = IntervalNone
	}
	if survey.ReminderType == "" {
		survey.ReminderType = ReminderNone
	}

	if err := s.store.InsertSurvey(survey); err != nil {
		return nil, err
	}
	return survey, nil
}

// Release transitions the highest version from NEW to RELEASED and archives the
// previously released version, keeping at most one release per nameID.
func (s *ManagementService) Release(nameID string) (*Survey, error) {
	surveys, err := s.store.ListSurveyVersions(nameID)
	if err != nil {
		return nil, err
	}
	if len(surveys) == 0 {
		return nil, NewNotFoundError("no survey found for nameId: " + nameID)
	}

	current := surveys[0]
	if current.ReleaseStatus != ReleaseNew {
		return nil, NewConflictError("current survey with nameId: " + nameID + " is not a draft")
	}

	for _, prev := range surveys[1:] {
		if prev.ReleaseStatus == ReleaseReleased {
			prev.ReleaseStatus = ReleaseArchived
			if err := s.store.SaveSurvey(prev); err != nil {
				return nil, err
			}
		}
	}

	current.ReleaseStatus = ReleaseReleased
	if err := s.store.SaveSurvey(current); err != nil {
		return nil, err
	}
	return current, nil
}

// CreateNewVersion branches a mutable draft off the current release by deep-copying
// its whole question/container/answer tree with fresh node identities. Branching is
// only allowed when the highest version is RELEASED.
func (s *ManagementService) CreateNewVersion(nameID string) (*Survey, error) {
	surveys, err := s.store.ListSurveyVersions(nameID)
	if err != nil {
		return nil, err
	}
	if len(surveys) == 0 {
		return nil, NewNotFoundError("no survey found for nameId: " + nameID)
	}

	currentRelease := surveys[0]
	if currentRelease.ReleaseStatus != ReleaseReleased {
		return nil, NewConflictError("current survey with nameId: " + nameID + " is not released")
	}

	draft := &Survey{
		ID:            s.idGen(),
		NameID:        currentRelease.NameID,
		Version:       currentRelease.Version + 1,
		Title:         currentRelease.Title,
		Description:   currentRelease.Description,
		ReleaseStatus: ReleaseNew,
		IntervalType:  currentRelease.IntervalType,
		IntervalStart: currentRelease.IntervalStart,
		IntervalValue: currentRelease.IntervalValue,
		ReminderType:  currentRelease.ReminderType,
		ReminderValue: currentRelease.ReminderValue,
		Questions:     s.copyQuestions(currentRelease.Questions),
		CreatedAt:     s.now(),
	}

	// The store commits the tree as a single unit; a conflict here means another
	// caller branched the same release first.
	if err := s.store.InsertSurvey(draft); err != nil {
		return nil, err
	}
	return draft, nil
}

func (s *ManagementService) copyQuestions(questions []*Question) []*Question {
	if questions == nil {
		return nil
	}
	copies := make([]*Question, 0, len(questions))
	for _, question := range questions {
		copies = append(copies, s.copyQuestion(question))
	}
	return copies
}

func (s *ManagementService) copyQuestion(question *Question) *Question {
	cp := *question
	cp.ID = s.idGen()

	switch question.Type {
	case QuestionChecklist:
		cp.Entries = s.copyQuestions(question.Entries)

	case QuestionChoice:
		answers := make([]*Answer, 0, len(question.Answers))
		byValue := make(map[string]*Answer, len(question.Answers))
		for _, answer := range question.Answers {
			ac := &Answer{ID: s.idGen(), Value: answer.Value}
			answers = append(answers, ac)
			byValue[answer.Value] = ac
		}
		cp.Answers = answers
		if question.DefaultAnswerID != "" {
			if old := findAnswer(question.Answers, question.DefaultAnswerID); old != nil {
				if fresh := byValue[old.Value]; fresh != nil {
					cp.DefaultAnswerID = fresh.ID
				}
			}
		}
		cp.Container = s.copyContainer(question.Container, question.Answers, byValue)
		return &cp
	}

	cp.Container = s.copyContainer(question.Container, nil, nil)
	return &cp
}

// copyContainer duplicates a sub-question group. Choice gates reference answers by
// identity, and the copied answers carry fresh ids, so the dependsOn set is remapped
// to the copied answer holding the same value.
func (s *ManagementService) copyContainer(container *Container, oldAnswers []*Answer, byValue map[string]*Answer) *Container {
	if container == nil {
		return nil
	}

	cp := &Container{
		ID:            s.idGen(),
		Type:          container.Type,
		DependsOnBool: container.DependsOnBool,
		Questions:     s.copyQuestions(container.Questions),
	}

	if len(container.DependsOn) > 0 {
		dependsOn := make([]string, 0, len(container.DependsOn))
		for _, oldID := range container.DependsOn {
			old := findAnswer(oldAnswers, oldID)
			if old == nil {
				continue
			}
			if fresh := byValue[old.Value]; fresh != nil {
				dependsOn = append(dependsOn, fresh.ID)
			}
		}
		cp.DependsOn = dependsOn
	}

	return cp
}

func findAnswer(answers []*Answer, id string) *Answer {
	for _, answer := range answers {
		if answer.ID == id {
			return answer
		}
	}
	return nil
}

// UpdateQuestion applies a single-question edit to the current draft of nameID.
// The addressed question must belong to the draft's tree, which is verified by
// walking parent references up to the root survey.
func (s *ManagementService) UpdateQuestion(nameID string, patch *QuestionPatch) (*Question, error) {
	if patch == nil || patch.ID == "" {
		return nil, NewInvalidError("question id required")
	}

	surveys, err := s.store.ListSurveyVersions(nameID)
	if err != nil {
		return nil, err
	}
	if len(surveys) == 0 {
		return nil, NewNotFoundError("no survey found for nameId: " + nameID)
	}

	survey := surveys[0]
	if survey.ReleaseStatus == ReleaseReleased {
		return nil, NewConflictError("current survey with nameId: " + nameID + " got released already")
	}

	owner, err := s.store.FindSurveyByQuestion(patch.ID)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, NewNotFoundError("no such question found for id: " + patch.ID)
	}

	// The question id may resolve against any stored version; walk its parent chain
	// to the root and require that root to be the addressed draft.
	rootID, err := walkToRoot(owner, patch.ID)
	if err != nil {
		return nil, err
	}
	if rootID != survey.ID {
		return nil, NewInvalidError(fmt.Sprintf(
			"question does not belong to current survey version; question id: %s, expected survey id: %s, found survey id: %s",
			patch.ID, survey.ID, rootID))
	}

	question, siblings := findQuestion(survey, patch.ID)
	if question == nil {
		return nil, NewNotFoundError("no such question found for id: " + patch.ID)
	}

	if question.Type != patch.Type {
		return nil, NewInvalidError(fmt.Sprintf(
			"the question type does not match the expected question type; expected: %s, received: %s",
			question.Type, patch.Type))
	}
	if patch.Ranking < 0 || patch.Ranking >= len(siblings) {
		return nil, NewInvalidError(fmt.Sprintf(
			"the specified ranking is greater than the possible value; expected: < %d, received: %d",
			len(siblings), patch.Ranking))
	}

	currentRanking := question.Ranking
	if err := applyPatch(question, patch); err != nil {
		return nil, err
	}
	if question.Ranking != currentRanking {
		renumberSiblings(siblings, question, currentRanking)
	}

	if err := s.store.SaveSurvey(survey); err != nil {
		return nil, err
	}
	return question, nil
}

// walkToRoot follows parent references from the question's owning list up to the
// survey root and returns the root survey id. The walk terminates explicitly once a
// list with no parent question is reached; a visited guard turns a corrupted parent
// cycle into an error instead of an endless loop.
func walkToRoot(survey *Survey, questionID string) (string, error) {
	parents := map[string]string{} // question id -> owning question id ("" = root list)
	indexParents(survey.Questions, "", parents)

	current, ok := parents[questionID]
	if !ok {
		return "", NewNotFoundError("no container found containing question id: " + questionID)
	}

	visited := map[string]bool{questionID: true}
	for current != "" {
		if visited[current] {
			return "", NewInvalidError("definition tree is not acyclic at question id: " + current)
		}
		visited[current] = true

		next, ok := parents[current]
		if !ok {
			return "", NewInvalidError("expected survey to be root of tree; dangling parent id: " + current)
		}
		current = next
	}

	return survey.ID, nil
}

func indexParents(questions []*Question, ownerID string, parents map[string]string) {
	for _, question := range questions {
		parents[question.ID] = ownerID
		for _, entry := range question.Entries {
			parents[entry.ID] = question.ID
		}
		if question.Container != nil {
			indexParents(question.Container.Questions, question.ID, parents)
		}
	}
}

// findQuestion locates the question and its sibling list (container questions, root
// list or checklist entries) within the survey aggregate.
func findQuestion(survey *Survey, questionID string) (*Question, []*Question) {
	return findQuestionIn(survey.Questions, questionID)
}

func findQuestionIn(questions []*Question, questionID string) (*Question, []*Question) {
	for _, question := range questions {
		if question.ID == questionID {
			return question, questions
		}
		for _, entry := range question.Entries {
			if entry.ID == questionID {
				return entry, question.Entries
			}
		}
		if question.Container != nil {
			if found, siblings := findQuestionIn(question.Container.Questions, questionID); found != nil {
				return found, siblings
			}
		}
	}
	return nil, nil
}

func applyPatch(question *Question, patch *QuestionPatch) error {
	question.Text = patch.Text
	question.Ranking = patch.Ranking

	switch question.Type {
	case QuestionBool, QuestionChecklistEntry:
		question.BoolDefault = patch.BoolDefault

	case QuestionChecklist:
		// nothing variant-specific

	case QuestionChoice:
		if patch.DefaultAnswerID != "" {
			if findAnswer(question.Answers, patch.DefaultAnswerID) == nil {
				return NewInvalidError(
					"specified default answer id does not exist in the question scope: " + patch.DefaultAnswerID)
			}
		}
		question.DefaultAnswerID = patch.DefaultAnswerID
		question.Multiple = patch.Multiple

	case QuestionRange:
		question.MinValue = patch.MinValue
		question.MaxValue = patch.MaxValue
		question.DefaultValue = patch.DefaultValue
		question.MinText = patch.MinText
		question.MaxText = patch.MaxText

	case QuestionText:
		question.MaxLength = patch.MaxLength
		question.Multiline = patch.Multiline
	}

	return nil
}

// renumberSiblings shifts the siblings displaced by a ranking move by exactly one
// slot, so the list stays a dense 0..n-1 sequence, then restores ranking order.
func renumberSiblings(siblings []*Question, moved *Question, oldRanking int) {
	newRanking := moved.Ranking

	for _, sibling := range siblings {
		if sibling.ID == moved.ID {
			continue
		}
		switch {
		case newRanking < oldRanking && sibling.Ranking >= newRanking && sibling.Ranking < oldRanking:
			sibling.Ranking++
		case newRanking > oldRanking && sibling.Ranking > oldRanking && sibling.Ranking <= newRanking:
			sibling.Ranking--
		}
	}

	sort.SliceStable(siblings, func(i, j int) bool { return siblings[i].Ranking < siblings[j].Ranking })
}

// prepareTree assigns fresh node ids and normalizes rankings to list order for a
// newly created definition tree, validating variant shape on the way.
func (s *ManagementService) prepareTree(questions []*Question) error {
	for i, question := range questions {
		question.ID = s.idGen()
		question.Ranking = i

		switch question.Type {
		case QuestionChoice:
			if len(question.Answers) == 0 {
				return NewInvalidError("answers must not be empty for choice question: " + question.Text)
			}
			for _, answer := range question.Answers {
				answer.ID = s.idGen()
			}

		case QuestionChecklist:
			if len(question.Entries) == 0 {
				return NewInvalidError("entries must not be empty for checklist question: " + question.Text)
			}
			for j, entry := range question.Entries {
				if entry.Type == "" {
					entry.Type = QuestionChecklistEntry
				}
				if entry.Type != QuestionChecklistEntry {
					return NewInvalidError("checklist entries must be of type CHECKLIST_ENTRY")
				}
				entry.ID = s.idGen()
				entry.Ranking = j
			}
		}

		if question.Container != nil {
			question.Container.ID = s.idGen()
			if question.Container.Type == "" {
				question.Container.Type = containerTypeFor(question.Type)
			}
			// Incoming choice gates reference answers by value; ids are only
			// assigned here, so remap the set now.
			if question.Type == QuestionChoice && len(question.Container.DependsOn) > 0 {
				dependsOn := make([]string, 0, len(question.Container.DependsOn))
				for _, value := range question.Container.DependsOn {
					for _, answer := range question.Answers {
						if answer.Value == value {
							dependsOn = append(dependsOn, answer.ID)
							break
						}
					}
				}
				if len(dependsOn) != len(question.Container.DependsOn) {
					return NewInvalidError("dependsOn references an unknown answer for question: " + question.Text)
				}
				question.Container.DependsOn = dependsOn
			}
			if err := s.prepareTree(question.Container.Questions); err != nil {
				return err
			}
		}
	}
	return nil
}

func containerTypeFor(t QuestionType) ContainerType {
	switch t {
	case QuestionBool:
		return ContainerBool
	case QuestionChoice:
		return ContainerChoice
	default:
		return ContainerDefault
	}
}
