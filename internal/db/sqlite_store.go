package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/pulseworks/surveyd/internal/api"
	"github.com/pulseworks/surveyd/internal/services"
)

// SQLiteStore persists the survey domain in a single SQLite database. Definition
// trees are stored as one JSON document per survey version so a version commit is
// atomic; instances, responses and locks are relational rows whose UNIQUE
// constraints back the concurrency rules the services rely on.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func NewStore(db *sql.DB) (api.Store, error) {
	return NewSQLiteStore(db)
}

// Open opens the database file with a busy timeout so concurrent writers queue
// instead of failing immediately.
func Open(path string) (*sql.DB, error) {
	return sql.Open("sqlite3", path+"?_busy_timeout=5000")
}

// isConstraint reports whether err is a SQLite uniqueness or other constraint
// violation. The services treat these as expected outcomes (lost races), so they
// are surfaced as conflict errors rather than opaque driver errors.
func isConstraint(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func toNullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

const surveyColumns = `id, name_id, version, title, description, release_status,
	interval_type, interval_start_ms, interval_value, reminder_type, reminder_value,
	questions, created_ms`

func scanSurvey(row interface{ Scan(...any) error }) (*services.Survey, error) {
	var (
		s          services.Survey
		intervalMs sql.NullInt64
		questions  string
		createdMs  int64
	)
	err := row.Scan(&s.ID, &s.NameID, &s.Version, &s.Title, &s.Description,
		&s.ReleaseStatus, &s.IntervalType, &intervalMs, &s.IntervalValue,
		&s.ReminderType, &s.ReminderValue, &questions, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan survey: %w", err)
	}
	if intervalMs.Valid {
		t := fromMillis(intervalMs.Int64)
		s.IntervalStart = &t
	}
	if err := json.Unmarshal([]byte(questions), &s.Questions); err != nil {
		return nil, fmt.Errorf("decode question tree for %s: %w", s.ID, err)
	}
	s.CreatedAt = fromMillis(createdMs)
	return &s, nil
}

func (s *SQLiteStore) GetReleasedSurvey(nameID string) (*services.Survey, error) {
	row := s.db.QueryRow(`SELECT `+surveyColumns+` FROM surveys
		WHERE name_id = ? AND release_status = ?
		ORDER BY version DESC LIMIT 1`, nameID, services.ReleaseReleased)
	return scanSurvey(row)
}

func (s *SQLiteStore) ListReleasedSurveys() ([]*services.Survey, error) {
	return s.querySurveys(`SELECT `+surveyColumns+` FROM surveys
		WHERE release_status = ?
		ORDER BY name_id, version DESC`, services.ReleaseReleased)
}

func (s *SQLiteStore) ListRemindableSurveys() ([]*services.Survey, error) {
	return s.querySurveys(`SELECT `+surveyColumns+` FROM surveys
		WHERE release_status = ? AND reminder_type <> ?
		ORDER BY name_id, version DESC`, services.ReleaseReleased, services.ReminderNone)
}

func (s *SQLiteStore) ListSurveyVersions(nameID string) ([]*services.Survey, error) {
	return s.querySurveys(`SELECT `+surveyColumns+` FROM surveys
		WHERE name_id = ?
		ORDER BY version DESC`, nameID)
}

func (s *SQLiteStore) querySurveys(query string, args ...any) ([]*services.Survey, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query surveys: %w", err)
	}
	defer rows.Close()
	out := []*services.Survey{}
	for rows.Next() {
		survey, err := scanSurvey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, survey)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) FindSurveyByQuestion(questionID string) (*services.Survey, error) {
	// Question ids are embedded in the JSON tree; the LIKE filter narrows the scan
	// and the tree walk confirms a real match (not a substring of another id).
	rows, err := s.db.Query(`SELECT `+surveyColumns+` FROM surveys
		WHERE questions LIKE ?`, "%"+questionID+"%")
	if err != nil {
		return nil, fmt.Errorf("query surveys by question: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		survey, err := scanSurvey(rows)
		if err != nil {
			return nil, err
		}
		if treeContains(survey.Questions, questionID) {
			return survey, nil
		}
	}
	return nil, rows.Err()
}

func treeContains(questions []*services.Question, questionID string) bool {
	for _, question := range questions {
		if question.ID == questionID {
			return true
		}
		for _, entry := range question.Entries {
			if entry.ID == questionID {
				return true
			}
		}
		if question.Container != nil && treeContains(question.Container.Questions, questionID) {
			return true
		}
	}
	return false
}

func (s *SQLiteStore) InsertSurvey(survey *services.Survey) error {
	questions, err := json.Marshal(survey.Questions)
	if err != nil {
		return fmt.Errorf("encode question tree: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO surveys (id, name_id, version, title, description,
		release_status, interval_type, interval_start_ms, interval_value,
		reminder_type, reminder_value, questions, created_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		survey.ID, survey.NameID, survey.Version, survey.Title, survey.Description,
		survey.ReleaseStatus, survey.IntervalType, toNullTime(survey.IntervalStart),
		survey.IntervalValue, survey.ReminderType, survey.ReminderValue,
		string(questions), survey.CreatedAt.UnixMilli())
	if isConstraint(err) {
		return services.NewConflictError("survey version exists: " + survey.NameID)
	}
	if err != nil {
		return fmt.Errorf("insert survey: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveSurvey(survey *services.Survey) error {
	questions, err := json.Marshal(survey.Questions)
	if err != nil {
		return fmt.Errorf("encode question tree: %w", err)
	}
	res, err := s.db.Exec(`UPDATE surveys SET title = ?, description = ?,
		release_status = ?, interval_type = ?, interval_start_ms = ?,
		interval_value = ?, reminder_type = ?, reminder_value = ?, questions = ?
		WHERE id = ?`,
		survey.Title, survey.Description, survey.ReleaseStatus, survey.IntervalType,
		toNullTime(survey.IntervalStart), survey.IntervalValue, survey.ReminderType,
		survey.ReminderValue, string(questions), survey.ID)
	if err != nil {
		return fmt.Errorf("save survey: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save survey: %w", err)
	}
	if n == 0 {
		return services.NewNotFoundError("no such survey: " + survey.ID)
	}
	return nil
}

func (s *SQLiteStore) FindInstance(surveyID string, start, end time.Time) (*services.SurveyInstance, error) {
	row := s.db.QueryRow(`SELECT id, survey_id, start_ms, end_ms, token
		FROM survey_instances WHERE survey_id = ? AND start_ms = ? AND end_ms = ?`,
		surveyID, start.UnixMilli(), end.UnixMilli())
	var (
		inst           services.SurveyInstance
		startMs, endMs int64
	)
	err := row.Scan(&inst.ID, &inst.SurveyID, &startMs, &endMs, &inst.Token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find instance: %w", err)
	}
	inst.StartTime = fromMillis(startMs)
	inst.EndTime = fromMillis(endMs)
	return &inst, nil
}

func (s *SQLiteStore) InsertInstance(inst *services.SurveyInstance) error {
	_, err := s.db.Exec(`INSERT INTO survey_instances (id, survey_id, start_ms, end_ms, token)
		VALUES (?, ?, ?, ?, ?)`,
		inst.ID, inst.SurveyID, inst.StartTime.UnixMilli(), inst.EndTime.UnixMilli(), inst.Token)
	if isConstraint(err) {
		return services.NewConflictError("instance window exists for survey: " + inst.SurveyID)
	}
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

const responseColumns = `id, user_id, instance_id, question_id, bool_answer,
	answer_ids, range_answer, text_answer, created_ms, updated_ms`

func scanResponse(row interface{ Scan(...any) error }) (*services.SurveyResponse, error) {
	var (
		r          services.SurveyResponse
		boolAnswer sql.NullBool
		answerIDs  sql.NullString
		rangeVal   sql.NullInt64
		createdMs  int64
		updatedMs  sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.UserID, &r.InstanceID, &r.QuestionID, &boolAnswer,
		&answerIDs, &rangeVal, &r.TextAnswer, &createdMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan response: %w", err)
	}
	if boolAnswer.Valid {
		v := boolAnswer.Bool
		r.BoolAnswer = &v
	}
	if answerIDs.Valid && answerIDs.String != "" {
		if err := json.Unmarshal([]byte(answerIDs.String), &r.AnswerIDs); err != nil {
			return nil, fmt.Errorf("decode answer ids for %s: %w", r.ID, err)
		}
	}
	if rangeVal.Valid {
		v := int(rangeVal.Int64)
		r.RangeAnswer = &v
	}
	r.CreatedAt = fromMillis(createdMs)
	if updatedMs.Valid {
		t := fromMillis(updatedMs.Int64)
		r.UpdatedAt = &t
	}
	return &r, nil
}

func (s *SQLiteStore) ListResponses(userID, instanceID string) ([]*services.SurveyResponse, error) {
	return s.queryResponses(`SELECT `+responseColumns+` FROM survey_responses
		WHERE user_id = ? AND instance_id = ?`, userID, instanceID)
}

func (s *SQLiteStore) ListResponsesByInstance(instanceID string) ([]*services.SurveyResponse, error) {
	return s.queryResponses(`SELECT `+responseColumns+` FROM survey_responses
		WHERE instance_id = ?`, instanceID)
}

func (s *SQLiteStore) queryResponses(query string, args ...any) ([]*services.SurveyResponse, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}
	defer rows.Close()
	out := []*services.SurveyResponse{}
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetResponse(userID, instanceID, questionID string) (*services.SurveyResponse, error) {
	row := s.db.QueryRow(`SELECT `+responseColumns+` FROM survey_responses
		WHERE user_id = ? AND instance_id = ? AND question_id = ?`,
		userID, instanceID, questionID)
	return scanResponse(row)
}

func encodeAnswerIDs(ids []string) (sql.NullString, error) {
	if len(ids) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode answer ids: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func (s *SQLiteStore) InsertResponse(r *services.SurveyResponse) error {
	answerIDs, err := encodeAnswerIDs(r.AnswerIDs)
	if err != nil {
		return err
	}
	var rangeVal sql.NullInt64
	if r.RangeAnswer != nil {
		rangeVal = sql.NullInt64{Int64: int64(*r.RangeAnswer), Valid: true}
	}
	_, err = s.db.Exec(`INSERT INTO survey_responses (id, user_id, instance_id,
		question_id, bool_answer, answer_ids, range_answer, text_answer, created_ms, updated_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.InstanceID, r.QuestionID, toNullBool(r.BoolAnswer),
		answerIDs, rangeVal, r.TextAnswer, r.CreatedAt.UnixMilli(), toNullTime(r.UpdatedAt))
	if isConstraint(err) {
		return services.NewConflictError("response exists for question: " + r.QuestionID)
	}
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateResponse(r *services.SurveyResponse) error {
	answerIDs, err := encodeAnswerIDs(r.AnswerIDs)
	if err != nil {
		return err
	}
	var rangeVal sql.NullInt64
	if r.RangeAnswer != nil {
		rangeVal = sql.NullInt64{Int64: int64(*r.RangeAnswer), Valid: true}
	}
	res, err := s.db.Exec(`UPDATE survey_responses SET bool_answer = ?, answer_ids = ?,
		range_answer = ?, text_answer = ?, updated_ms = ? WHERE id = ?`,
		toNullBool(r.BoolAnswer), answerIDs, rangeVal, r.TextAnswer,
		toNullTime(r.UpdatedAt), r.ID)
	if err != nil {
		return fmt.Errorf("update response: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update response: %w", err)
	}
	if n == 0 {
		return services.NewNotFoundError("no such response: " + r.ID)
	}
	return nil
}

func (s *SQLiteStore) HasResponse(userID, instanceID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM survey_responses
		WHERE user_id = ? AND instance_id = ?`, userID, instanceID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count responses: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) SaveStatusCursor(c *services.SurveyStatus) error {
	_, err := s.db.Exec(`INSERT INTO survey_status (user_id, instance_id, next_question_id)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, instance_id) DO UPDATE SET next_question_id = excluded.next_question_id`,
		c.UserID, c.InstanceID, c.NextQuestionID)
	if err != nil {
		return fmt.Errorf("save status cursor: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetStatusCursor(userID, instanceID string) (*services.SurveyStatus, error) {
	var c services.SurveyStatus
	err := s.db.QueryRow(`SELECT user_id, instance_id, next_question_id
		FROM survey_status WHERE user_id = ? AND instance_id = ?`,
		userID, instanceID).Scan(&c.UserID, &c.InstanceID, &c.NextQuestionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get status cursor: %w", err)
	}
	return &c, nil
}

func scanUser(row interface{ Scan(...any) error }) (*services.User, error) {
	var (
		u         services.User
		email     sql.NullString
		passHash  []byte
		createdMs int64
	)
	err := row.Scan(&u.ID, &email, &passHash, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Email = email.String
	u.PassHash = passHash
	u.CreatedAt = fromMillis(createdMs)
	return &u, nil
}

func (s *SQLiteStore) GetUser(id string) (*services.User, error) {
	row := s.db.QueryRow(`SELECT id, email, pass_hash, created_ms FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *SQLiteStore) FindUserByEmail(email string) (*services.User, error) {
	row := s.db.QueryRow(`SELECT id, email, pass_hash, created_ms FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func (s *SQLiteStore) AddUser(u *services.User) error {
	_, err := s.db.Exec(`INSERT INTO users (id, email, pass_hash, created_ms)
		VALUES (?, ?, ?, ?)`,
		u.ID, toNullString(u.Email), u.PassHash, u.CreatedAt.UnixMilli())
	if isConstraint(err) {
		return services.NewConflictError("email exists: " + u.Email)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddDeviceToken(t *services.DeviceToken) error {
	_, err := s.db.Exec(`INSERT INTO device_tokens (id, user_id, token, created_ms)
		VALUES (?, ?, ?, ?)`,
		t.ID, t.UserID, t.Token, t.CreatedAt.UnixMilli())
	if isConstraint(err) {
		return services.NewConflictError("device token exists")
	}
	if err != nil {
		return fmt.Errorf("insert device token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListDeviceTokens() ([]*services.DeviceToken, error) {
	rows, err := s.db.Query(`SELECT id, user_id, token, created_ms
		FROM device_tokens ORDER BY created_ms`)
	if err != nil {
		return nil, fmt.Errorf("query device tokens: %w", err)
	}
	defer rows.Close()
	out := []*services.DeviceToken{}
	for rows.Next() {
		var (
			t         services.DeviceToken
			createdMs int64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &createdMs); err != nil {
			return nil, fmt.Errorf("scan device token: %w", err)
		}
		t.CreatedAt = fromMillis(createdMs)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteExpiredLocks(task string, before time.Time) error {
	_, err := s.db.Exec(`DELETE FROM scheduler_lock WHERE task_name = ? AND created_ms < ?`,
		task, before.UnixMilli())
	if err != nil {
		return fmt.Errorf("delete expired locks: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertLock(task string, at time.Time) error {
	_, err := s.db.Exec(`INSERT INTO scheduler_lock (task_name, created_ms) VALUES (?, ?)`,
		task, at.UnixMilli())
	if isConstraint(err) {
		return services.NewConflictError("lock held: " + task)
	}
	if err != nil {
		return fmt.Errorf("insert lock: %w", err)
	}
	return nil
}

var _ api.Store = (*SQLiteStore)(nil)
