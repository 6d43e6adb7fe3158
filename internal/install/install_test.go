package install

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/qualys/remediator/internal/config"
	"github.com/qualys/remediator/internal/session"
)

func TestConfiguredImplementations(t *testing.T) {
	i := &Installer{cfg: &config.Config{
		Rules: config.RuleSettings{
			"rule-a": {"implementation": "loggroup-encryption"},
			"rule-b": {"implementation": "bucket-public-access"},
			"rule-c": {"implementation": "loggroup-encryption"},
			"rule-d": {"preview": true},
		},
	}}

	got := i.configuredImplementations()
	want := []string{"bucket-public-access", "loggroup-encryption"}
	if len(got) != len(want) {
		t.Fatalf("implementations = %v, want %v", got, want)
	}
	for j := range want {
		if got[j] != want[j] {
			t.Errorf("implementations = %v, want %v in sorted order", got, want)
		}
	}
}

func TestQueuePolicy(t *testing.T) {
	i := &Installer{
		cfg: &config.Config{
			Dispatcher: config.DispatcherConfig{Region: "eu-west-1"},
		},
		profile: &session.Profile{},
	}

	raw := i.queuePolicy("remediator-queue")
	var policy map[string]any
	if err := json.Unmarshal([]byte(raw), &policy); err != nil {
		t.Fatalf("policy is not valid JSON: %v", err)
	}
	if !strings.Contains(raw, "events.amazonaws.com") {
		t.Error("policy does not grant EventBridge delivery")
	}
	if !strings.Contains(raw, "remediator-queue") {
		t.Error("policy does not name the queue")
	}
}

func TestComplianceEventPattern(t *testing.T) {
	var pattern map[string][]string
	if err := json.Unmarshal([]byte(complianceEventPattern), &pattern); err != nil {
		t.Fatalf("event pattern is not valid JSON: %v", err)
	}
	if len(pattern["source"]) != 1 || pattern["source"][0] != "aws.config" {
		t.Errorf("pattern source = %v", pattern["source"])
	}
}
