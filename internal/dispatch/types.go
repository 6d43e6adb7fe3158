package dispatch

import "encoding/json"

// Major outcome codes carried in handler responses.
const (
	MajorSuccess = "Success"
	MajorFailure = "Failure"
	MajorTimeout = "Timeout"
)

// Minor reason codes.
const (
	MinorOk            = "Ok"
	MinorConfiguration = "Configuration"
	MinorRemoteAPI     = "RemoteApi"
	MinorSoftware      = "Software"
	MinorGeneral       = "General"
)

// Target identifies the account, region, role and resource one handler
// invocation acts on.
type Target struct {
	AccountID    string `json:"awsAccountId"`
	AccountName  string `json:"awsAccountName"`
	AccountEmail string `json:"awsAccountEmail"`
	Region       string `json:"awsRegion"`
	RoleName     string `json:"roleName"`
	ResourceType string `json:"resourceType"`
	ResourceID   string `json:"resourceId"`
}

// Event is the request payload sent to a remediation handler.
type Event struct {
	Preview          bool              `json:"preview"`
	ConformancePack  string            `json:"conformancePackName"`
	RuleName         string            `json:"configRuleName"`
	Target           Target            `json:"target"`
	Action           string            `json:"action"`
	DeploymentMethod map[string]any    `json:"deploymentMethod"`
	ManualTagName    string            `json:"manualTagName"`
	ResourceTags     map[string]string `json:"autoResourceTags"`
	StackNamePattern string            `json:"stackNamePattern"`
}

// Invocation is one attempt to have a remote handler remediate one
// resource. It is owned by the dispatcher for the duration of a cycle and
// never mutated; a retry produces a new value with the attempt incremented.
type Invocation struct {
	FunctionName string
	Event        Event
	Attempt      int
}

// Next returns a copy of the invocation with the attempt counter advanced.
func (i Invocation) Next() Invocation {
	i.Attempt++
	return i
}

// Response is a handler's verdict. Major, minor and message are always
// populated after decoding so the dispatcher can classify any payload.
type Response struct {
	Action  string          `json:"action"`
	Major   string          `json:"major"`
	Minor   string          `json:"minor"`
	Message string          `json:"message"`
	Preview json.RawMessage `json:"preview,omitempty"`
}

// DecodeResponse parses a handler payload into a Response, defaulting the
// classification fields when the payload is missing or malformed so that a
// broken handler still yields a terminal failure rather than a decode error.
func DecodeResponse(payload []byte) Response {
	var r Response
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &r); err != nil {
			r = Response{}
		}
	}
	if r.Major == "" {
		r.Major = MajorFailure
	}
	if r.Minor == "" {
		r.Minor = MinorGeneral
	}
	if r.Message == "" {
		r.Message = "handler returned a malformed response"
	}
	return r
}
