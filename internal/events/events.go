package events

import "strings"

// Expected envelope values for an AWS Config compliance-change notification
// delivered through EventBridge.
const (
	DetailTypeComplianceChange = "Config Rules Compliance Change"
	SourceConfig               = "aws.config"
	MessageTypeCompliance      = "ComplianceChangeNotification"

	ComplianceNonCompliant = "NON_COMPLIANT"

	// ActionRemediate is the only action the dispatcher emits; handlers may
	// additionally register baseline handlers invoked out of band.
	ActionRemediate = "remediate"
	ActionBaseline  = "baseline"
)

// conformancePackMarker separates a rule's base name from the conformance
// pack suffix AWS Config appends to deployed pack rules.
const conformancePackMarker = "-conformance-pack-"

// Dispatch is the validated projection of one compliance-change notification.
// It is only constructed for NON_COMPLIANT evaluations with all required
// fields present.
type Dispatch struct {
	MessageID      string
	ComplianceType string
	QualifiedRule  string
	RuleName       string
	AccountID      string
	Region         string
	ResourceType   string
	ResourceID     string
	Action         string
}

// notification mirrors the JSON body of a queued compliance-change event.
type notification struct {
	DetailType string `json:"detail-type"`
	Source     string `json:"source"`
	Detail     struct {
		ResourceID     string `json:"resourceId"`
		ResourceType   string `json:"resourceType"`
		AccountID      string `json:"awsAccountId"`
		Region         string `json:"awsRegion"`
		ConfigRuleName string `json:"configRuleName"`
		MessageType    string `json:"messageType"`
		NewEvaluation  struct {
			ComplianceType string `json:"complianceType"`
		} `json:"newEvaluationResult"`
	} `json:"detail"`
}

// baseRuleName strips the conformance pack suffix from a qualified config
// rule name. Returns false when the marker is absent.
func baseRuleName(qualified string) (string, bool) {
	i := strings.Index(qualified, conformancePackMarker)
	if i < 0 {
		return "", false
	}
	return qualified[:i], true
}
