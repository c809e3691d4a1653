package services

import (
	"bytes"
	"encoding/csv"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ResponseRow is one flattened response for CSV export.
type ResponseRow struct {
	UserID      string
	QuestionID  string
	Value       string
	SubmittedAt string // RFC3339
}

// ExportResponsesCSV renders the current instance's responses of a survey into a
// long-format CSV, one row per (user, question).
func (s *ResponseService) ExportResponsesCSV(nameID string) ([]byte, error) {
	survey, err := s.store.GetReleasedSurvey(nameID)
	if err != nil {
		return nil, err
	}
	if survey == nil {
		return nil, NewNotFoundError("no released survey for nameId: " + nameID)
	}

	instance, err := s.instances.CurrentInstance(survey)
	if err != nil {
		return nil, err
	}

	responses, err := s.store.ListResponsesByInstance(instance.ID)
	if err != nil {
		return nil, err
	}

	rows := make([]ResponseRow, 0, len(responses))
	for _, r := range responses {
		at := r.CreatedAt
		if r.UpdatedAt != nil {
			at = *r.UpdatedAt
		}
		rows = append(rows, ResponseRow{
			UserID:      r.UserID,
			QuestionID:  r.QuestionID,
			Value:       renderValue(r),
			SubmittedAt: at.Format(time.RFC3339),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].UserID != rows[j].UserID {
			return rows[i].UserID < rows[j].UserID
		}
		return rows[i].QuestionID < rows[j].QuestionID
	})

	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"user_id", "question_id", "value", "submitted_at"})
	for _, row := range rows {
		if err := w.Write([]string{row.UserID, row.QuestionID, row.Value, row.SubmittedAt}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func renderValue(r *SurveyResponse) string {
	switch {
	case r.BoolAnswer != nil:
		return strconv.FormatBool(*r.BoolAnswer)
	case r.RangeAnswer != nil:
		return strconv.Itoa(*r.RangeAnswer)
	case len(r.AnswerIDs) > 0:
		return strings.Join(r.AnswerIDs, "|")
	default:
		return r.TextAnswer
	}
}
