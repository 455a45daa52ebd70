// Package main runs end-to-end checks of the drafting flow against a running
// API (and worker, when the intake queue is SQS).
//
// Scenarios cover:
//   - Plain-text inquiry drafted and ranked
//   - Negative sentiment forcing an empathetic tone
//   - Requested tone honoured on neutral mail
//   - Offline queue export and re-import through the operator API
//
// Usage:
//
//	ADMIN_JWT_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go [scenario-name]
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	maxWaitSecs  = 90
	pollInterval = 2 * time.Second
)

var (
	apiBase       string
	operatorToken string
	runID         = time.Now().Unix()
)

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed int
	failed int
	name   string
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
	} else {
		fmt.Printf("    FAIL: %s\n", name)
		t.failed++
	}
}

func (t *T) fatalf(format string, args ...interface{}) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
}

func mintOperatorToken(secret string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "e2e",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
	if aud := os.Getenv("ADMIN_JWT_AUDIENCE"); aud != "" {
		claims.Audience = jwt.ClaimStrings{aud}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func do(method, path, contentType string, body []byte, auth bool) (int, []byte, error) {
	req, err := http.NewRequest(method, apiBase+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+operatorToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return resp.StatusCode, out, err
}

func sendMessage(msg map[string]interface{}, tone string) (string, error) {
	body, _ := json.Marshal(msg)
	path := "/v1/messages"
	if tone != "" {
		path += "?tone=" + tone
	}
	code, out, err := do(http.MethodPost, path, "application/json", body, false)
	if err != nil {
		return "", err
	}
	if code != http.StatusAccepted {
		return "", fmt.Errorf("ingest returned %d: %s", code, string(out))
	}
	var resp struct {
		Accepted bool   `json:"accepted"`
		JobID    string `json:"job_id"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return "", err
	}
	if !resp.Accepted {
		return "", fmt.Errorf("message not accepted: %s", string(out))
	}
	return resp.JobID, nil
}

// waitForStage polls the job status until it reaches drafted or queued.
func waitForStage(messageID string) (string, error) {
	deadline := time.Now().Add(maxWaitSecs * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(pollInterval)
		code, out, err := do(http.MethodGet, "/v1/messages/"+messageID+"/status", "", nil, false)
		if err != nil || code != http.StatusOK {
			continue
		}
		var status struct {
			Stage string `json:"stage"`
		}
		if json.Unmarshal(out, &status) != nil {
			continue
		}
		if status.Stage == "drafted" || status.Stage == "queued" {
			return status.Stage, nil
		}
	}
	return "", fmt.Errorf("timed out waiting for %s after %ds", messageID, maxWaitSecs)
}

func findDraft(messageID string) (map[string]interface{}, error) {
	code, out, err := do(http.MethodGet, "/v1/drafts?limit=500", "", nil, false)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("drafts returned %d", code)
	}
	var resp struct {
		Drafts []map[string]interface{} `json:"drafts"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, err
	}
	for _, d := range resp.Drafts {
		if d["message_id"] == messageID {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no draft for %s", messageID)
}

func newMessage(thread, subject, body string) map[string]interface{} {
	return map[string]interface{}{
		"thread_id":   fmt.Sprintf("e2e-%d-%s", runID, thread),
		"sender":      "customer@example.com",
		"sender_name": "Jordan Customer",
		"subject":     subject,
		"body":        body,
	}
}

func draftFor(t *T, msg map[string]interface{}, tone string) map[string]interface{} {
	id, err := sendMessage(msg, tone)
	if err != nil {
		t.fatalf("send: %v", err)
		return nil
	}
	stage, err := waitForStage(id)
	if err != nil {
		t.fatalf("status: %v", err)
		return nil
	}
	t.check("message reached drafted stage", stage == "drafted")
	if stage != "drafted" {
		return nil
	}
	draft, err := findDraft(id)
	if err != nil {
		t.fatalf("draft lookup: %v", err)
		return nil
	}
	return draft
}

func inUnit(v interface{}) bool {
	f, ok := v.(float64)
	return ok && f >= 0 && f <= 1
}

func scenarioPlainInquiry(t *T) {
	draft := draftFor(t, newMessage("plain", "Invoice question", "Hi, my March invoice shows a duplicate charge. Can you refund one of them?"), "")
	if draft == nil {
		return
	}
	reply, _ := draft["reply"].(string)
	t.check("reply is not empty", reply != "")
	t.check("confidence within [0,1]", inUnit(draft["confidence"]))
	t.check("trust score within [0,1]", inUnit(draft["trust_score"]))
}

func scenarioNegativeSentiment(t *T) {
	draft := draftFor(t, newMessage("angry", "Still broken", "This is the third time I am writing. Your product is broken and I am furious. Nobody has helped me."), "formal")
	if draft == nil {
		return
	}
	t.check("sentiment detected as negative", draft["sentiment"] == "negative")
	t.check("tone forced to empathetic", draft["tone"] == "empathetic")
	t.check("override recorded", draft["tone_overridden"] == true)
}

func scenarioRequestedTone(t *T) {
	draft := draftFor(t, newMessage("tone", "Opening hours", "What are your support hours on weekends?"), "concise")
	if draft == nil {
		return
	}
	t.check("requested tone recorded", draft["requested_tone"] == "concise")
}

func scenarioQueueRoundTrip(t *T) {
	code, exported, err := do(http.MethodPost, "/v1/queue/export", "", nil, true)
	if err != nil {
		t.fatalf("export: %v", err)
		return
	}
	t.check("export succeeds", code == http.StatusOK)
	if len(bytes.TrimSpace(exported)) == 0 {
		fmt.Println("    offline queue empty; skipping import")
		return
	}
	code, out, err := do(http.MethodPost, "/v1/queue/import", "application/x-ndjson", exported, true)
	if err != nil {
		t.fatalf("import: %v", err)
		return
	}
	var report struct {
		Imported int `json:"imported"`
		Rejected int `json:"rejected"`
	}
	_ = json.Unmarshal(out, &report)
	t.check("import succeeds", code == http.StatusOK)
	t.check("every exported item re-imported", report.Rejected == 0 && report.Imported > 0)
}

func main() {
	apiBase = os.Getenv("API_BASE_URL")
	secret := os.Getenv("ADMIN_JWT_SECRET")
	if apiBase == "" || secret == "" {
		fmt.Fprintln(os.Stderr, "ERROR: API_BASE_URL and ADMIN_JWT_SECRET required")
		os.Exit(1)
	}
	token, err := mintOperatorToken(secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: sign token: %v\n", err)
		os.Exit(1)
	}
	operatorToken = token

	scenarios := []scenario{
		{"plain-inquiry", scenarioPlainInquiry},
		{"negative-sentiment", scenarioNegativeSentiment},
		{"requested-tone", scenarioRequestedTone},
		{"queue-round-trip", scenarioQueueRoundTrip},
	}

	filter := ""
	if len(os.Args) > 1 {
		filter = os.Args[1]
	}

	totalPassed := 0
	totalFailed := 0
	for _, s := range scenarios {
		if filter != "" && s.Name != filter {
			continue
		}
		fmt.Printf("\n========================================\n")
		fmt.Printf("SCENARIO: %s\n", s.Name)
		fmt.Printf("========================================\n")

		t := &T{name: s.Name}
		s.Fn(t)
		totalPassed += t.passed
		totalFailed += t.failed
	}

	fmt.Printf("\nTotal: %d passed, %d failed\n", totalPassed, totalFailed)
	if totalFailed > 0 {
		os.Exit(1)
	}
}
