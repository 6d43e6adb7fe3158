package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/qualys/remediator/internal/handler"
	"github.com/qualys/remediator/internal/session"
)

func TestRegisterAll(t *testing.T) {
	// A duplicate or conflicting wiring panics; registering into a fresh
	// registry must not.
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("RegisterAll panicked: %v", r)
		}
	}()
	RegisterAll(handler.NewRegistry())
}

func TestExempt(t *testing.T) {
	tests := []struct {
		name string
		tags map[string]string
		want bool
	}{
		{"tag set", map[string]string{"DoNotAutoRemediate": "true"}, true},
		{"tag set to any value", map[string]string{"DoNotAutoRemediate": "because"}, true},
		{"tag empty", map[string]string{"DoNotAutoRemediate": ""}, false},
		{"tag absent", map[string]string{"Team": "blue"}, false},
		{"no tags", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exempt(tt.tags, "DoNotAutoRemediate"); got != tt.want {
				t.Errorf("exempt(%v) = %v, want %v", tt.tags, got, tt.want)
			}
		})
	}
}

func TestTrimWildcard(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"arn:aws:logs:eu-west-1:123456789012:log-group:g1:*", "arn:aws:logs:eu-west-1:123456789012:log-group:g1"},
		{"arn:aws:logs:eu-west-1:123456789012:log-group:g1", "arn:aws:logs:eu-west-1:123456789012:log-group:g1"},
		{":*", ":*"},
	}
	for _, tt := range tests {
		if got := trimWildcard(tt.in); got != tt.want {
			t.Errorf("trimWildcard(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFullyBlocked(t *testing.T) {
	all := &s3types.PublicAccessBlockConfiguration{
		BlockPublicAcls:       aws.Bool(true),
		IgnorePublicAcls:      aws.Bool(true),
		BlockPublicPolicy:     aws.Bool(true),
		RestrictPublicBuckets: aws.Bool(true),
	}
	if !fullyBlocked(all) {
		t.Error("all four blocks set should count as fully blocked")
	}

	partial := &s3types.PublicAccessBlockConfiguration{
		BlockPublicAcls:  aws.Bool(true),
		IgnorePublicAcls: aws.Bool(true),
	}
	if fullyBlocked(partial) {
		t.Error("partial block config should not count as fully blocked")
	}
	if fullyBlocked(nil) {
		t.Error("missing config should not count as fully blocked")
	}
}

type codedError struct {
	code string
}

func (e *codedError) Error() string                 { return e.code }
func (e *codedError) ErrorCode() string             { return e.code }
func (e *codedError) ErrorMessage() string          { return e.code }
func (e *codedError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

func TestIsErrorCode(t *testing.T) {
	err := &codedError{code: "NoSuchBucket"}
	if !isErrorCode(err, "NoSuchBucket") {
		t.Error("matching API error code not recognized")
	}
	if isErrorCode(err, "NoSuchTagSet") {
		t.Error("mismatched code recognized")
	}
	if isErrorCode(errors.New("plain"), "NoSuchBucket") {
		t.Error("plain error recognized as API error")
	}
}

func TestRemediateLogGroupEncryption_RequiresKmsKey(t *testing.T) {
	task := &handler.Task{
		RuleName:         RuleLogGroupEncrypted,
		ResourceID:       "my-log-group",
		DeploymentMethod: map[string]any{},
	}

	err := RemediateLogGroupEncryption(context.Background(), &session.Profile{}, task)
	var confErr *handler.ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("err = %v, want a configuration error for the missing key ARN", err)
	}
}
