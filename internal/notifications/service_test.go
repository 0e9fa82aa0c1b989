package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"stagewright/internal/config"
	"stagewright/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventLedgerWriteFailed, notifications.Payload{"projectID": "PRJ-1"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "transition applied",
			event: notifications.EventTransitionApplied,
			payload: notifications.Payload{
				"projectID": "PRJ-1",
				"from":      "review",
				"to":        "quote",
				"actor":     "dana",
			},
			expectTitle:   "Stagewright - Stage Changed",
			expectMessage: "PRJ-1 moved review → quote by dana",
			expectTags:    "stagewright,transition,quote",
		},
		{
			name:  "first stage",
			event: notifications.EventTransitionApplied,
			payload: notifications.Payload{
				"projectID": "PRJ-9",
				"to":        "inquiry",
				"reason":    "new lead",
			},
			expectTitle:   "Stagewright - Stage Changed",
			expectMessage: "PRJ-9 moved (none) → inquiry\nReason: new lead",
			expectTags:    "stagewright,transition,inquiry",
		},
		{
			name:  "bypass",
			event: notifications.EventValidationBypassed,
			payload: notifications.Payload{
				"projectID":    "PRJ-1",
				"from":         "review",
				"to":           "completion",
				"actor":        "mgr",
				"bypassReason": "customer waived inspection",
			},
			expectTitle:    "Stagewright - Validation Bypassed",
			expectMessage:  "PRJ-1 moved review → completion by mgr without validation\nReason: customer waived inspection",
			expectTags:     "stagewright,bypass,audit",
			expectPriority: "high",
		},
		{
			name:  "ledger failure",
			event: notifications.EventLedgerWriteFailed,
			payload: notifications.Payload{
				"projectID": "PRJ-1",
				"from":      "quote",
				"to":        "confirmation",
				"error":     "disk full",
			},
			expectTitle:    "Stagewright - History Write Failed",
			expectMessage:  "PRJ-1 moved quote → confirmation but the history entry was not written: disk full",
			expectTags:     "stagewright,ledger,alert",
			expectPriority: "urgent",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Errorf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5
			cfg.Notifications.Transitions = true

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceIgnoresDisabledEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for suppressed event: %s", r.Header.Get("Title"))
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Transitions = false
	cfg.Notifications.Bypasses = false

	svc := notifications.NewService(&cfg)
	for _, event := range []notifications.Event{
		notifications.EventTransitionApplied,
		notifications.EventValidationBypassed,
		notifications.Event("unknown"),
	} {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"projectID": "ignored"}); err != nil {
			t.Fatalf("expected no error for suppressed event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceReportsHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic locked", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
