// Package rules holds the built-in remediation handlers. Each handler is
// idempotent: it inspects live state first and only issues mutating calls
// for the attributes actually out of compliance.
package rules

import (
	"github.com/qualys/remediator/internal/events"
	"github.com/qualys/remediator/internal/handler"
)

// Config rule names handled by this binary.
const (
	RuleLogGroupEncrypted         = "cloudwatch-log-group-encrypted"
	RuleBucketPublicAccessBlocked = "s3-bucket-level-public-access-prohibited"
)

// RegisterAll wires every built-in handler into the registry.
func RegisterAll(r *handler.Registry) {
	r.Register(RuleLogGroupEncrypted, events.ActionRemediate, "AWS::Logs::LogGroup", RemediateLogGroupEncryption)
	r.Register(RuleBucketPublicAccessBlocked, events.ActionRemediate, "AWS::S3::Bucket", RemediateBucketPublicAccess)
}

// exempt reports whether the resource carries the manual-exemption tag with
// any non-empty value.
func exempt(tags map[string]string, manualTagName string) bool {
	return tags[manualTagName] != ""
}
