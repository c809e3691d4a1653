package services

import (
	"math"
	"time"
)

// Instance window bounds for surveys without an interval. A permanent survey has a
// single instance spanning the representable time range.
var (
	InstantMin = time.UnixMilli(math.MinInt64).UTC()
	InstantMax = time.UnixMilli(math.MaxInt64).UTC()
)

type ReleaseStatus string

const (
	ReleaseNew      ReleaseStatus = "NEW"
	ReleaseReleased ReleaseStatus = "RELEASED"
	ReleaseArchived ReleaseStatus = "ARCHIVED"
)

type IntervalType string

const (
	IntervalNone   IntervalType = "NONE"
	IntervalWeekly IntervalType = "WEEKLY"
)

type ReminderType string

const (
	ReminderNone      ReminderType = "NONE"
	ReminderAfterDays ReminderType = "AFTER_DAYS"
)

type QuestionType string

const (
	QuestionBool           QuestionType = "BOOL"
	QuestionChoice         QuestionType = "CHOICE"
	QuestionRange          QuestionType = "RANGE"
	QuestionText           QuestionType = "TEXT"
	QuestionChecklist      QuestionType = "CHECKLIST"
	QuestionChecklistEntry QuestionType = "CHECKLIST_ENTRY"
)

type ContainerType string

const (
	ContainerDefault ContainerType = "DEFAULT"
	ContainerBool    ContainerType = "BOOL"
	ContainerChoice  ContainerType = "CHOICE"
)

type SurveyStatusType string

const (
	StatusIncomplete SurveyStatusType = "INCOMPLETE"
	StatusComplete   SurveyStatusType = "COMPLETE"
)

// Survey is one version of a questionnaire definition. (NameID, Version) is unique;
// at most one version per NameID is RELEASED and a NEW draft may only exist as the
// single highest version above it. A released tree is never mutated, only copied.
type Survey struct {
	ID            string        `json:"id"`
	NameID        string        `json:"name_id"`
	Version       int           `json:"version"`
	Title         string        `json:"title"`
	Description   string        `json:"description,omitempty"`
	ReleaseStatus ReleaseStatus `json:"release_status"`
	IntervalType  IntervalType  `json:"interval_type"`
	IntervalStart *time.Time    `json:"interval_start,omitempty"`
	IntervalValue int           `json:"interval_value,omitempty"`
	ReminderType  ReminderType  `json:"reminder_type"`
	ReminderValue int           `json:"reminder_value,omitempty"`
	Questions     []*Question   `json:"questions"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Question is one prompt in the definition tree. Variants share identity, text and
// ranking; variant-specific fields are populated according to Type. Ranking is dense
// 0..n-1 among siblings of the same container or root list.
type Question struct {
	ID        string       `json:"id"`
	Type      QuestionType `json:"type"`
	Text      string       `json:"text"`
	Ranking   int          `json:"ranking"`
	Container *Container   `json:"container,omitempty"`

	// BOOL and CHECKLIST_ENTRY
	BoolDefault *bool `json:"bool_default,omitempty"`

	// CHOICE
	Answers         []*Answer `json:"answers,omitempty"`
	Multiple        bool      `json:"multiple,omitempty"`
	DefaultAnswerID string    `json:"default_answer_id,omitempty"`

	// RANGE
	MinValue     int    `json:"min_value,omitempty"`
	MaxValue     int    `json:"max_value,omitempty"`
	DefaultValue *int   `json:"default_value,omitempty"`
	MinText      string `json:"min_text,omitempty"`
	MaxText      string `json:"max_text,omitempty"`

	// TEXT
	MaxLength int  `json:"max_length,omitempty"`
	Multiline bool `json:"multiline,omitempty"`

	// CHECKLIST
	Entries []*Question `json:"entries,omitempty"`
}

// HasContainer reports whether the question owns a non-empty sub-question group.
func (q *Question) HasContainer() bool {
	return q != nil && q.Container != nil && len(q.Container.Questions) > 0
}

// Container groups conditional sub-questions under a parent question. For BOOL
// containers a nil DependsOnBool means unconditional; for CHOICE containers an empty
// DependsOn set means unconditional, otherwise the group is required iff the parent
// response selected any of the listed answers (OR-linked).
type Container struct {
	ID            string        `json:"id"`
	Type          ContainerType `json:"type"`
	DependsOnBool *bool         `json:"depends_on_bool,omitempty"`
	DependsOn     []string      `json:"depends_on,omitempty"`
	Questions     []*Question   `json:"questions"`
}

// Answer is one selectable option of a choice question. Immutable once created;
// versioning copies answers instead of mutating them.
type Answer struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// SurveyInstance is a concrete time window of a survey version. The
// (SurveyID, StartTime, EndTime) triple is unique and instances are created lazily
// on first access for a window.
type SurveyInstance struct {
	ID        string    `json:"id"`
	SurveyID  string    `json:"survey_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Token     string    `json:"token"`
}

// SurveyResponse is one respondent's answer to one question within one instance.
// (UserID, InstanceID, QuestionID) is unique; re-answering updates the row.
type SurveyResponse struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	InstanceID  string     `json:"instance_id"`
	QuestionID  string     `json:"question_id"`
	BoolAnswer  *bool      `json:"bool_answer,omitempty"`
	AnswerIDs   []string   `json:"answer_ids,omitempty"`
	RangeAnswer *int       `json:"range_answer,omitempty"`
	TextAnswer  string     `json:"text_answer,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// SurveyStatus is the advisory per-user traversal cursor. Completion is always
// recomputed from responses; this only supports resuming.
type SurveyStatus struct {
	UserID         string `json:"user_id"`
	InstanceID     string `json:"instance_id"`
	NextQuestionID string `json:"next_question_id,omitempty"`
}

// User is a respondent or, when PassHash is set, an administrator account.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	PassHash  []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// DeviceToken links a push notification token to its owning user. Tokens are unique
// across devices; a user may own several.
type DeviceToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// SurveyOverview is the per-user summary of one survey's current instance.
type SurveyOverview struct {
	NameID         string           `json:"name_id"`
	Title          string           `json:"title"`
	Description    string           `json:"description,omitempty"`
	Status         SurveyStatusType `json:"status"`
	CountQuestions int              `json:"count_questions"`
	NextQuestionID string           `json:"next_question_id,omitempty"`
	Token          string           `json:"token"`
	StartTime      *time.Time       `json:"start_time,omitempty"`
	EndTime        *time.Time       `json:"end_time,omitempty"`
}
