//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func baseURL() string {
	if v := os.Getenv("SURVEYD_TEST_BASE_URL"); strings.TrimSpace(v) != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:8080"
}

// Full journey against a running server: an admin defines and releases a survey,
// a participant registers a device, answers everything and ends up COMPLETE, and
// the admin exports the responses.
func TestSurveyJourneyIntegration(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	base := baseURL()

	adminEmail := fmt.Sprintf("integration_%d@example.com", time.Now().UnixNano())
	nameID := fmt.Sprintf("JOURNEY_%d", time.Now().UnixNano())

	var admin struct {
		Token  string `json:"token"`
		UserID string `json:"user_id"`
	}
	doPost(t, client, base+"/api/auth/register", "", map[string]string{
		"email":    adminEmail,
		"password": "Secret123!",
	}, &admin)
	if admin.Token == "" {
		t.Fatalf("unexpected register response: %+v", admin)
	}

	var created struct {
		ID        string `json:"id"`
		Questions []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"questions"`
	}
	doPost(t, client, base+"/api/surveys", admin.Token, map[string]any{
		"name_id": nameID,
		"title":   "Integration journey",
		"questions": []map[string]any{
			{"type": "BOOL", "text": "Feeling well today?"},
			{"type": "RANGE", "text": "Energy level", "min_value": 0, "max_value": 10},
		},
	}, &created)
	if created.ID == "" || len(created.Questions) != 2 {
		t.Fatalf("unexpected create response: %+v", created)
	}

	doPost(t, client, base+"/api/surveys/"+nameID+"/release", admin.Token, nil, nil)

	var participant struct {
		Token  string `json:"token"`
		UserID string `json:"user_id"`
	}
	doPost(t, client, base+"/api/auth/participants", "", nil, &participant)
	if participant.Token == "" {
		t.Fatalf("participant registration did not return token")
	}

	doPost(t, client, base+"/api/devices", participant.Token, map[string]string{
		"token": fmt.Sprintf("device_%d", time.Now().UnixNano()),
	}, nil)

	doPost(t, client, base+"/api/surveys/"+nameID+"/answers", participant.Token, map[string]any{
		"question_id": created.Questions[0].ID,
		"bool_answer": true,
	}, nil)
	doPost(t, client, base+"/api/surveys/"+nameID+"/answers", participant.Token, map[string]any{
		"question_id":  created.Questions[1].ID,
		"range_answer": 7,
	}, nil)

	var overview []struct {
		NameID string `json:"name_id"`
		Status string `json:"status"`
	}
	doGet(t, client, base+"/api/surveys/overview", participant.Token, &overview)
	status := ""
	for _, ov := range overview {
		if ov.NameID == nameID {
			status = ov.Status
		}
	}
	if status != "COMPLETE" {
		t.Fatalf("expected COMPLETE status for %s, overview=%+v", nameID, overview)
	}

	req, err := http.NewRequest(http.MethodGet, base+"/api/surveys/"+nameID+"/responses.csv", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+admin.Token)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("export request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("export status %d body %s", resp.StatusCode, string(body))
	}
	csvData, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read export data: %v", err)
	}
	if !strings.Contains(string(csvData), participant.UserID) {
		t.Fatalf("export csv did not contain participant id; csv=%s", csvData)
	}
}

func doPost(t *testing.T, client *http.Client, url, token string, body any, out any) {
	t.Helper()
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(b)
	}
	req, err := http.NewRequest(http.MethodPost, url, payload)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("POST %s status %d body %s", url, resp.StatusCode, string(body))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response of %s: %v", url, err)
		}
	}
}

func doGet(t *testing.T, client *http.Client, url, token string, out any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s status %d body %s", url, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response of %s: %v", url, err)
	}
}
