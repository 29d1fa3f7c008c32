package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chatServer(t *testing.T, answer string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" || len(req.Messages) != 2 {
			t.Errorf("unexpected request: %+v", req)
		}
		if !strings.Contains(req.Messages[1].Content, "cardiovascular, lifestyle") {
			t.Errorf("prompt must list categories: %s", req.Messages[1].Content)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": answer},
			}},
		})
	}))
}

func TestClassifier_Classify(t *testing.T) {
	server := chatServer(t, `{"category":"cardiovascular","subcategory":"hypertension","risk_level":"Moderate","confidence":0.85}`)
	defer server.Close()

	c := NewClassifier(&ClassifierConfig{APIKey: "k", BaseURL: server.URL, Model: "gpt-4o-mini"})
	g, err := c.Classify(context.Background(), "bp 145/92", []string{"cardiovascular", "lifestyle"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if g.Category != "cardiovascular" || g.Subcategory != "hypertension" || g.RiskLevel != "Moderate" {
		t.Errorf("unexpected guess: %+v", g)
	}
	if g.Confidence != 0.85 {
		t.Errorf("Confidence = %f", g.Confidence)
	}
}

func TestClassifier_CodeFence(t *testing.T) {
	server := chatServer(t, "```json\n{\"category\":\"lifestyle\",\"risk_level\":\"unclear\",\"confidence\":0.6}\n```")
	defer server.Close()

	c := NewClassifier(&ClassifierConfig{APIKey: "k", BaseURL: server.URL, Model: "gpt-4o-mini"})
	g, err := c.Classify(context.Background(), "smoker", []string{"cardiovascular", "lifestyle"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if g.Category != "lifestyle" {
		t.Errorf("Category = %q", g.Category)
	}
	if g.RiskLevel != "" {
		t.Errorf("unknown risk level must be dropped, got %q", g.RiskLevel)
	}
}

func TestClassifier_InvalidJSON(t *testing.T) {
	server := chatServer(t, "I think it is cardiovascular")
	defer server.Close()

	c := NewClassifier(&ClassifierConfig{APIKey: "k", BaseURL: server.URL, Model: "gpt-4o-mini"})
	if _, err := c.Classify(context.Background(), "bp", []string{"cardiovascular", "lifestyle"}); err == nil {
		t.Fatal("expected decode error")
	}
}
