package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pulseworks/surveyd/internal/middleware"
	"github.com/pulseworks/surveyd/internal/services"
)

type Router struct {
	store      Store
	surveys    *services.SurveyService
	management *services.ManagementService
	responses  *services.ResponseService
	auth       *services.AuthService
}

func NewRouter(store Store) *Router {
	surveys := services.NewSurveyService(store)
	return &Router{
		store:      store,
		surveys:    surveys,
		management: services.NewManagementService(store),
		responses:  services.NewResponseService(store, surveys),
		auth:       services.NewAuthService(store, middleware.SignToken),
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/register", rt.handleRegister)         // POST
	mux.HandleFunc("/api/auth/login", rt.handleLogin)               // POST
	mux.HandleFunc("/api/auth/participants", rt.handleParticipants) // POST
	mux.HandleFunc("/api/devices", rt.handleDevices)                // POST
	mux.HandleFunc("/api/surveys/overview", rt.handleOverview)      // GET
	mux.HandleFunc("/api/surveys", rt.handleSurveys)                // POST
	mux.HandleFunc("/api/surveys/", rt.handleSurveyScoped)          // GET /api/surveys/{nameId}[/...]
	mux.HandleFunc("/api/seed", rt.handleSeed)                      // POST
}

// Management exposes the versioning engine for wiring (seed, scheduler tests).
func (rt *Router) Management() *services.ManagementService { return rt.management }

func httpError(w http.ResponseWriter, err error) {
	if se, ok := services.AsServiceError(err); ok {
		status := http.StatusInternalServerError
		switch se.Code {
		case services.ErrorInvalid:
			status = http.StatusBadRequest
		case services.ErrorUnauthorized:
			status = http.StatusUnauthorized
		case services.ErrorForbidden:
			status = http.StatusForbidden
		case services.ErrorNotFound:
			status = http.StatusNotFound
		case services.ErrorConflict:
			status = http.StatusConflict
		}
		http.Error(w, se.Message, status)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return uid, true
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !middleware.IsAdmin(r.Context()) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

// POST /api/auth/register — create an administrator account.
func (rt *Router) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := rt.auth.Register(req.Email, req.Password)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, result)
}

// POST /api/auth/login
func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := rt.auth.Login(req.Email, req.Password)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, result)
}

// POST /api/auth/participants — issue an anonymous respondent identity.
func (rt *Router) handleParticipants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	result, err := rt.auth.RegisterParticipant()
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, result)
}

// POST /api/devices — register a push token for the authenticated user.
func (rt *Router) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	device, err := rt.auth.RegisterDevice(uid, req.Token)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, device)
}

// GET /api/surveys/overview — per-user status of every released survey.
func (rt *Router) handleOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	overview, err := rt.surveys.Overview(uid)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, overview)
}

// POST /api/surveys — create a new survey definition (version 1, draft).
func (rt *Router) handleSurveys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !requireAdmin(w, r) {
		return
	}
	var survey services.Survey
	if err := json.NewDecoder(r.Body).Decode(&survey); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	created, err := rt.management.CreateSurvey(&survey)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, created)
}

// /api/surveys/{nameId}
// /api/surveys/{nameId}/versions   POST: branch a new draft off the release
// /api/surveys/{nameId}/release    POST: release the current draft
// /api/surveys/{nameId}/questions  PUT:  edit one question of the draft
// /api/surveys/{nameId}/answers    POST: submit one answer
// /api/surveys/{nameId}/responses.csv  GET: export current instance responses
func (rt *Router) handleSurveyScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/surveys/")
	parts := strings.SplitN(rest, "/", 2)
	nameID := parts[0]
	if nameID == "" {
		http.NotFound(w, r)
		return
	}
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		rt.getSurvey(w, r, nameID)
	case action == "versions" && r.Method == http.MethodPost:
		rt.postVersion(w, r, nameID)
	case action == "release" && r.Method == http.MethodPost:
		rt.postRelease(w, r, nameID)
	case action == "questions" && r.Method == http.MethodPut:
		rt.putQuestion(w, r, nameID)
	case action == "answers" && r.Method == http.MethodPost:
		rt.postAnswer(w, r, nameID)
	case action == "responses.csv" && r.Method == http.MethodGet:
		rt.getResponsesCSV(w, r, nameID)
	default:
		http.NotFound(w, r)
	}
}

func (rt *Router) getSurvey(w http.ResponseWriter, r *http.Request, nameID string) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	survey, err := rt.surveys.GetReleasedSurvey(nameID)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, survey)
}

func (rt *Router) postVersion(w http.ResponseWriter, r *http.Request, nameID string) {
	if !requireAdmin(w, r) {
		return
	}
	draft, err := rt.management.CreateNewVersion(nameID)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, draft)
}

func (rt *Router) postRelease(w http.ResponseWriter, r *http.Request, nameID string) {
	if !requireAdmin(w, r) {
		return
	}
	released, err := rt.management.Release(nameID)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, released)
}

func (rt *Router) putQuestion(w http.ResponseWriter, r *http.Request, nameID string) {
	if !requireAdmin(w, r) {
		return
	}
	var patch services.QuestionPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	question, err := rt.management.UpdateQuestion(nameID, &patch)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, question)
}

func (rt *Router) postAnswer(w http.ResponseWriter, r *http.Request, nameID string) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var sub services.AnswerSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := rt.responses.Submit(uid, nameID, &sub); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (rt *Router) getResponsesCSV(w http.ResponseWriter, r *http.Request, nameID string) {
	if !requireAdmin(w, r) {
		return
	}
	b, err := rt.responses.ExportResponsesCSV(nameID)
	if err != nil {
		httpError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=responses.csv")
	_, _ = w.Write(b)
}

// POST /api/seed — create the example surveys. Dev convenience.
func (rt *Router) handleSeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := SeedExampleData(rt.management); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "surveys": []string{"BASIC", "REGULAR"}})
}
