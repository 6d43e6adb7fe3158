package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/qualys/remediator/internal/dispatch"
	"github.com/qualys/remediator/internal/session"
	"github.com/qualys/remediator/internal/target"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validEvent() dispatch.Event {
	return dispatch.Event{
		ConformancePack: "secops",
		RuleName:        "cloudwatch-log-group-encrypted",
		Action:          "remediate",
		Target: dispatch.Target{
			AccountID:    "123456789012",
			Region:       "eu-west-1",
			RoleName:     target.LocalRoleName,
			ResourceType: "AWS::Logs::LogGroup",
			ResourceID:   "my-log-group",
		},
		ManualTagName: "DoNotAutoRemediate",
		ResourceTags:  map[string]string{"AutoDeployed": "True"},
	}
}

func newHandler(fn Func) *Handler {
	registry := NewRegistry()
	if fn != nil {
		registry.Register("cloudwatch-log-group-encrypted", "remediate", "AWS::Logs::LogGroup", fn)
	}
	return New(registry, &session.Profile{}, discardLogger())
}

func TestRegister_DuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("second registration of the same key did not panic")
		}
	}()

	registry := NewRegistry()
	fn := func(ctx context.Context, p *session.Profile, task *Task) error { return nil }
	registry.Register("rule", "remediate", "AWS::S3::Bucket", fn)
	registry.Register("rule", "remediate", "AWS::S3::Bucket", fn)
}

func TestHandle_Success(t *testing.T) {
	var got *Task
	h := newHandler(func(ctx context.Context, p *session.Profile, task *Task) error {
		got = task
		return nil
	})

	resp, err := h.Handle(context.Background(), validEvent())
	if err != nil {
		t.Fatalf("Handle returned an error: %v", err)
	}
	if resp.Major != dispatch.MajorSuccess || resp.Minor != dispatch.MinorOk {
		t.Errorf("response = %s.%s, want Success.Ok", resp.Major, resp.Minor)
	}
	if got == nil {
		t.Fatal("handler function was not called")
	}
	if got.ResourceID != "my-log-group" || got.AccountID != "123456789012" {
		t.Errorf("task = %+v", got)
	}
}

func TestHandle_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantMajor string
		wantMinor string
	}{
		{"configuration", Configurationf("no kms key configured"), dispatch.MajorFailure, dispatch.MinorConfiguration},
		{"timeout", &TimeoutError{Waiting: "stack completion"}, dispatch.MajorTimeout, dispatch.MinorRemoteAPI},
		{"remote", &RemoteServiceError{Operation: "kms:DescribeKey", Err: errors.New("throttled")}, dispatch.MajorFailure, dispatch.MinorRemoteAPI},
		{"software", &SoftwareError{Invariant: "two log groups with one name"}, dispatch.MajorFailure, dispatch.MinorSoftware},
		{"unclassified", errors.New("something else"), dispatch.MajorFailure, dispatch.MinorGeneral},
		{"wrapped configuration", &RemoteServiceError{Operation: "op", Err: Configurationf("inner")}, dispatch.MajorFailure, dispatch.MinorConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandler(func(ctx context.Context, p *session.Profile, task *Task) error {
				return tt.err
			})
			resp, _ := h.Handle(context.Background(), validEvent())
			if resp.Major != tt.wantMajor || resp.Minor != tt.wantMinor {
				t.Errorf("response = %s.%s, want %s.%s", resp.Major, resp.Minor, tt.wantMajor, tt.wantMinor)
			}
			if resp.Message == "" {
				t.Error("failure response has no message")
			}
		})
	}
}

func TestHandle_PanicBecomesSoftwareFailure(t *testing.T) {
	h := newHandler(func(ctx context.Context, p *session.Profile, task *Task) error {
		panic("nil pointer somewhere")
	})

	resp, err := h.Handle(context.Background(), validEvent())
	if err != nil {
		t.Fatalf("Handle returned an error: %v", err)
	}
	if resp.Major != dispatch.MajorFailure || resp.Minor != dispatch.MinorSoftware {
		t.Errorf("response = %s.%s, want Failure.Software", resp.Major, resp.Minor)
	}
	if !strings.Contains(resp.Message, "nil pointer somewhere") {
		t.Errorf("message %q does not carry the panic value", resp.Message)
	}
}

func TestHandle_MalformedEvent(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*dispatch.Event)
	}{
		{"no action", func(ev *dispatch.Event) { ev.Action = "" }},
		{"no rule", func(ev *dispatch.Event) { ev.RuleName = "" }},
		{"no account", func(ev *dispatch.Event) { ev.Target.AccountID = "" }},
		{"no role", func(ev *dispatch.Event) { ev.Target.RoleName = "" }},
		{"no resource id", func(ev *dispatch.Event) { ev.Target.ResourceID = "" }},
		{"no manual tag name", func(ev *dispatch.Event) { ev.ManualTagName = "" }},
		{"no resource tags", func(ev *dispatch.Event) { ev.ResourceTags = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := newHandler(func(ctx context.Context, p *session.Profile, task *Task) error {
				called = true
				return nil
			})

			ev := validEvent()
			tt.mutate(&ev)
			resp, _ := h.Handle(context.Background(), ev)
			if resp.Major != dispatch.MajorFailure || resp.Minor != dispatch.MinorConfiguration {
				t.Errorf("response = %s.%s, want Failure.Configuration", resp.Major, resp.Minor)
			}
			if called {
				t.Error("handler function ran on a malformed event")
			}
		})
	}
}

func TestHandle_UnregisteredRule(t *testing.T) {
	h := newHandler(nil)

	resp, _ := h.Handle(context.Background(), validEvent())
	if resp.Major != dispatch.MajorFailure || resp.Minor != dispatch.MinorConfiguration {
		t.Errorf("response = %s.%s, want Failure.Configuration", resp.Major, resp.Minor)
	}
}

func TestHandle_PreviewDrainsRecordedCalls(t *testing.T) {
	h := newHandler(func(ctx context.Context, p *session.Profile, task *Task) error {
		if !p.Preview() {
			t.Error("preview event ran on a non-preview profile")
		}
		p.Record("logs", "AssociateKmsKey", map[string]any{"logGroupName": task.ResourceID})
		return nil
	})

	ev := validEvent()
	ev.Preview = true
	resp, _ := h.Handle(context.Background(), ev)
	if resp.Major != dispatch.MajorSuccess {
		t.Fatalf("response = %s.%s: %s", resp.Major, resp.Minor, resp.Message)
	}
	if len(resp.Preview) == 0 {
		t.Fatal("preview response carries no recorded calls")
	}
	if !strings.Contains(string(resp.Preview), "AssociateKmsKey") {
		t.Errorf("preview record %s does not mention the suppressed call", resp.Preview)
	}
}

func TestHandle_NonPreviewHasNoPreviewRecord(t *testing.T) {
	h := newHandler(func(ctx context.Context, p *session.Profile, task *Task) error {
		if p.Preview() {
			t.Error("profile is in preview mode without the event asking for it")
		}
		return nil
	})

	resp, _ := h.Handle(context.Background(), validEvent())
	if len(resp.Preview) != 0 {
		t.Errorf("non-preview response carries a preview record: %s", resp.Preview)
	}
}

func TestErrorMessages(t *testing.T) {
	inner := errors.New("connection reset")
	remote := &RemoteServiceError{Operation: "s3:PutPublicAccessBlock", Err: inner}
	if !errors.Is(remote, inner) {
		t.Error("RemoteServiceError does not unwrap to its cause")
	}
	if !strings.Contains(remote.Error(), "s3:PutPublicAccessBlock") {
		t.Errorf("message %q does not name the operation", remote.Error())
	}
	if msg := Configurationf("rule %s has no %s", "r", "key").Error(); !strings.Contains(msg, "rule r has no key") {
		t.Errorf("message %q", msg)
	}
}
