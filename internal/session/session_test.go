package session

import (
	"context"
	"testing"

	"github.com/qualys/remediator/internal/target"
)

func TestAssumeRole_LocalReturnsReceiver(t *testing.T) {
	base := &Profile{}
	got, err := base.AssumeRole(context.Background(), "123456789012", target.LocalRoleName, "eu-west-1")
	if err != nil {
		t.Fatalf("AssumeRole: %v", err)
	}
	if got != base {
		t.Error("local role must reuse the base profile, not derive a new one")
	}
}

func TestWithPreview(t *testing.T) {
	base := &Profile{}
	preview := base.WithPreview()

	if base.Preview() {
		t.Error("base profile flipped to preview mode")
	}
	if !preview.Preview() {
		t.Error("derived profile is not in preview mode")
	}
}

func TestRecordAndDrain(t *testing.T) {
	p := (&Profile{}).WithPreview()
	p.Record("logs", "AssociateKmsKey", map[string]any{"logGroupName": "g1"})
	p.Record("logs", "TagResource", nil)

	calls := p.Drain()
	if len(calls) != 2 {
		t.Fatalf("drained %d calls, want 2", len(calls))
	}
	if calls[0].Service != "logs" || calls[0].Operation != "AssociateKmsKey" {
		t.Errorf("first call = %+v", calls[0])
	}
	if calls[0].Params["logGroupName"] != "g1" {
		t.Errorf("first call params = %v", calls[0].Params)
	}

	if again := p.Drain(); len(again) != 0 {
		t.Errorf("second drain returned %d calls, want 0", len(again))
	}
}
