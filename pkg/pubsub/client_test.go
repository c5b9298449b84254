package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/vcledger/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project string
		name    string
		want    string
	}{
		{"proj", "vc-settlement-events", "projects/proj/topics/vc-settlement-events"},
		{"proj", " projects/other/topics/ledger ", "projects/other/topics/ledger"},
		{"", "ledger", ""},
		{"proj", "  ", ""},
	}
	for _, tc := range cases {
		if got := topicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("topicResourceName(%q, %q) = %q, want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestSubscriptionResourceName(t *testing.T) {
	if got := subscriptionResourceName("proj", "vc-analytics-sub"); got != "projects/proj/subscriptions/vc-analytics-sub" {
		t.Fatalf("unexpected subscription name %q", got)
	}
	if got := subscriptionResourceName("proj", "projects/x/subscriptions/y"); got != "projects/x/subscriptions/y" {
		t.Fatalf("full resource name should pass through, got %q", got)
	}
	if got := subscriptionResourceName("", "sub"); got != "" {
		t.Fatalf("expected empty name without project, got %q", got)
	}
}

func TestTopicNamesSkipsBlank(t *testing.T) {
	names := topicNames(config.PubSubConfig{SettlementTopic: "settlement", LedgerTopic: " "})
	if len(names) != 1 || names[0] != "settlement" {
		t.Fatalf("unexpected topic names %v", names)
	}
}

func TestNilClientPublisher(t *testing.T) {
	var c *Client
	if c.Publisher("x") != nil {
		t.Fatal("nil client should not return a publisher")
	}
	if c.AnalyticsSubscription() != nil {
		t.Fatal("nil client should not return a subscriber")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("nil client ping should fail")
	}
}
