package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRegisterAppliesDefaults(t *testing.T) {
	repo := &mockWebhookRepo{}
	svc := NewService(repo)

	sub := &Subscription{
		Provider:     "epic",
		ConnectionID: uuid.New(),
		URL:          "https://consumer.example.org/hook",
		Events:       []string{"resource.stored"},
	}
	if err := svc.Register(context.Background(), sub); err != nil {
		t.Fatal(err)
	}
	if sub.Secret == "" {
		t.Fatal("an empty secret must be replaced with a generated one")
	}
	if sub.Backoff != BackoffExponential {
		t.Fatalf("backoff = %s, want exponential default", sub.Backoff)
	}
	if sub.MaxAttempts != defaultMaxAttempts || sub.RetryDelay != defaultRetryDelay || sub.Timeout != defaultTimeout {
		t.Fatal("retry policy defaults not applied")
	}
	if !sub.Active {
		t.Fatal("new subscriptions start active")
	}
}

func TestRegisterValidation(t *testing.T) {
	repo := &mockWebhookRepo{}
	svc := NewService(repo)
	connID := uuid.New()

	cases := []struct {
		name string
		sub  Subscription
	}{
		{"missing url", Subscription{Provider: "epic", ConnectionID: connID, Events: []string{"resource.stored"}}},
		{"bad scheme", Subscription{Provider: "epic", ConnectionID: connID, URL: "ftp://x", Events: []string{"resource.stored"}}},
		{"missing provider", Subscription{ConnectionID: connID, URL: "https://x", Events: []string{"resource.stored"}}},
		{"missing connection", Subscription{Provider: "epic", URL: "https://x", Events: []string{"resource.stored"}}},
		{"no events", Subscription{Provider: "epic", ConnectionID: connID, URL: "https://x"}},
		{"bad backoff", Subscription{Provider: "epic", ConnectionID: connID, URL: "https://x", Events: []string{"a"}, Backoff: "linear"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := tc.sub
			if err := svc.Register(context.Background(), &sub); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
	if len(repo.subs) != 0 {
		t.Fatalf("subscriptions persisted = %d, want 0", len(repo.subs))
	}
}

func TestRetryDelayRoundTripMillis(t *testing.T) {
	if got := msToDuration(1500); got != 1500*time.Millisecond {
		t.Fatalf("msToDuration(1500) = %s", got)
	}
}
