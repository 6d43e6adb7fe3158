// Package handler is the framework every remediation rule handler runs on:
// a dispatch table keyed by rule, action and resource type, per-target role
// assumption, preview sessions, and the single boundary that converts
// errors into well-formed action responses.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/qualys/remediator/internal/dispatch"
	"github.com/qualys/remediator/internal/session"
)

// Task carries everything a rule function needs to fix one resource.
type Task struct {
	RuleName         string
	Action           string
	ResourceType     string
	ResourceID       string
	AccountID        string
	Region           string
	ConformancePack  string
	ManualTagName    string
	ResourceTags     map[string]string
	StackNamePattern string
	DeploymentMethod map[string]any
}

// Func is one registered remediation. A nil return means the resource is
// compliant (or was fixed); classified failures are reported through the
// error types in this package.
type Func func(ctx context.Context, profile *session.Profile, task *Task) error

// Key identifies one registered handling function.
type Key struct {
	Rule         string
	Action       string
	ResourceType string
}

// Registry maps keys to handling functions. Registration happens at process
// start; duplicates are a wiring bug and panic.
type Registry struct {
	handlers map[Key]Func
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Key]Func)}
}

// Register adds fn for the given rule, action and resource type. Panics on
// a duplicate key to catch wiring mistakes at startup.
func (r *Registry) Register(rule, action, resourceType string, fn Func) {
	key := Key{Rule: rule, Action: action, ResourceType: resourceType}
	if _, exists := r.handlers[key]; exists {
		panic(fmt.Sprintf("duplicate handler registration: %+v", key))
	}
	r.handlers[key] = fn
}

func (r *Registry) lookup(rule, action, resourceType string) (Func, bool) {
	fn, ok := r.handlers[Key{Rule: rule, Action: action, ResourceType: resourceType}]
	return fn, ok
}

// Handler executes incoming dispatch events against the registry. It always
// returns a well-formed response; no error crosses this boundary, so a
// transport-level retry by the dispatcher only ever signals real transport
// trouble.
type Handler struct {
	registry *Registry
	base     *session.Profile
	logger   *slog.Logger
}

func New(registry *Registry, base *session.Profile, logger *slog.Logger) *Handler {
	return &Handler{
		registry: registry,
		base:     base,
		logger:   logger,
	}
}

// Handle runs one dispatch event to a response. The returned error is
// always nil; it exists to satisfy the Lambda handler signature.
func (h *Handler) Handle(ctx context.Context, ev dispatch.Event) (dispatch.Response, error) {
	logger := h.logger.With(
		"config_rule", ev.RuleName,
		"action", ev.Action,
		"resource_id", ev.Target.ResourceID,
		"account_id", ev.Target.AccountID,
	)

	if err := validateEvent(ev); err != nil {
		logger.Error("rejecting malformed event", "error", err)
		return h.respond(ev, nil, err), nil
	}

	fn, ok := h.registry.lookup(ev.RuleName, ev.Action, ev.Target.ResourceType)
	if !ok {
		err := Configurationf("no handler registered for rule %s action %s resource type %s",
			ev.RuleName, ev.Action, ev.Target.ResourceType)
		logger.Error("handler lookup failed", "error", err)
		return h.respond(ev, nil, err), nil
	}

	profile, err := h.base.AssumeRole(ctx, ev.Target.AccountID, ev.Target.RoleName, ev.Target.Region)
	if err != nil {
		logger.Error("role assumption failed", "role", ev.Target.RoleName, "error", err)
		return h.respond(ev, nil, &RemoteServiceError{Operation: "sts:AssumeRole", Err: err}), nil
	}
	if ev.Preview {
		profile = profile.WithPreview()
	}

	task := &Task{
		RuleName:         ev.RuleName,
		Action:           ev.Action,
		ResourceType:     ev.Target.ResourceType,
		ResourceID:       ev.Target.ResourceID,
		AccountID:        ev.Target.AccountID,
		Region:           ev.Target.Region,
		ConformancePack:  ev.ConformancePack,
		ManualTagName:    ev.ManualTagName,
		ResourceTags:     ev.ResourceTags,
		StackNamePattern: ev.StackNamePattern,
		DeploymentMethod: ev.DeploymentMethod,
	}

	err = h.run(ctx, fn, profile, task)
	if err != nil {
		logger.Error("remediation task failed", "error", err)
	} else {
		logger.Info("remediation task complete", "preview", ev.Preview)
	}

	return h.respond(ev, profile, err), nil
}

// run invokes fn, converting a panic into a SoftwareError so that a buggy
// rule never escapes the response boundary.
func (h *Handler) run(ctx context.Context, fn Func, profile *session.Profile, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SoftwareError{Invariant: fmt.Sprintf("handler panicked: %v", r)}
		}
	}()
	return fn(ctx, profile, task)
}

// respond maps an error (or nil) to the response taxonomy and attaches the
// drained preview record when one exists.
func (h *Handler) respond(ev dispatch.Event, profile *session.Profile, err error) dispatch.Response {
	resp := dispatch.Response{Action: ev.Action}

	switch {
	case err == nil:
		resp.Major = dispatch.MajorSuccess
		resp.Minor = dispatch.MinorOk
		resp.Message = fmt.Sprintf("%s applied to %s", ev.RuleName, ev.Target.ResourceID)
	default:
		resp.Major, resp.Minor = classify(err)
		resp.Message = err.Error()
	}

	if profile != nil && profile.Preview() {
		if calls := profile.Drain(); len(calls) > 0 {
			if raw, err := json.Marshal(calls); err == nil {
				resp.Preview = raw
			}
		}
	}

	return resp
}

func classify(err error) (major, minor string) {
	var (
		confErr    *ConfigurationError
		timeoutErr *TimeoutError
		remoteErr  *RemoteServiceError
		swErr      *SoftwareError
	)
	switch {
	case errors.As(err, &confErr):
		return dispatch.MajorFailure, dispatch.MinorConfiguration
	case errors.As(err, &timeoutErr):
		return dispatch.MajorTimeout, dispatch.MinorRemoteAPI
	case errors.As(err, &remoteErr):
		return dispatch.MajorFailure, dispatch.MinorRemoteAPI
	case errors.As(err, &swErr):
		return dispatch.MajorFailure, dispatch.MinorSoftware
	default:
		return dispatch.MajorFailure, dispatch.MinorGeneral
	}
}

func validateEvent(ev dispatch.Event) error {
	missing := func(field string) error {
		return Configurationf("event field %s is required", field)
	}
	switch {
	case ev.Action == "":
		return missing("action")
	case ev.RuleName == "":
		return missing("configRuleName")
	case ev.Target.AccountID == "":
		return missing("target.awsAccountId")
	case ev.Target.Region == "":
		return missing("target.awsRegion")
	case ev.Target.RoleName == "":
		return missing("target.roleName")
	case ev.Target.ResourceType == "":
		return missing("target.resourceType")
	case ev.Target.ResourceID == "":
		return missing("target.resourceId")
	case ev.ManualTagName == "":
		return missing("manualTagName")
	case len(ev.ResourceTags) == 0:
		return missing("autoResourceTags")
	}
	return nil
}
