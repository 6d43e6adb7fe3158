package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qualys/remediator/internal/config"
	"github.com/qualys/remediator/internal/events"
	"github.com/qualys/remediator/internal/filter"
	"github.com/qualys/remediator/internal/target"
)

// Default values substituted when a rule leaves a setting unconfigured.
// Every substitution is logged as a warning; configuration gaps are
// recoverable but must stay visible.
const (
	DefaultManualTagName   = "DoNotAutoRemediate"
	defaultAutoDeployedTag = "AutoDeployed"
	defaultStackNameSuffix = "-AutoDeploy-{}"
)

// Builder turns parsed dispatches into fully-formed handler invocations,
// consulting the target resolver, the resource filter and the per-rule
// configuration.
type Builder struct {
	cfg      *config.Config
	resolver *target.Resolver
	filter   *filter.Filter
	logger   *slog.Logger
}

func NewBuilder(cfg *config.Config, resolver *target.Resolver, f *filter.Filter, logger *slog.Logger) *Builder {
	return &Builder{
		cfg:      cfg,
		resolver: resolver,
		filter:   f,
		logger:   logger,
	}
}

// BuildBatch builds invocations for a batch of dispatches, preserving
// delivery order. Dispatches that resolve to nothing are skipped.
func (b *Builder) BuildBatch(ctx context.Context, dispatches []events.Dispatch) ([]Invocation, error) {
	invocations := make([]Invocation, 0, len(dispatches))
	for _, d := range dispatches {
		inv, err := b.Build(ctx, d)
		if err != nil {
			return nil, err
		}
		if inv != nil {
			invocations = append(invocations, *inv)
		}
	}
	return invocations, nil
}

// Build assembles one invocation. It returns nil when the dispatch is out of
// scope: unresolvable target, no remediation implementation configured, or
// resource excluded by pattern. All three are logged and none is an error.
func (b *Builder) Build(ctx context.Context, d events.Dispatch) (*Invocation, error) {
	desc, err := b.resolver.Resolve(ctx, d.AccountID)
	if err != nil {
		return nil, err
	}
	if desc == nil {
		b.logger.Info("skipping dispatch for unresolvable target",
			"config_rule", d.RuleName,
			"account_id", d.AccountID,
			"resource_id", d.ResourceID)
		return nil, nil
	}

	rules := b.cfg.Rules
	if !rules.Configured(d.RuleName) {
		b.logger.Info("rule not configured for auto-remediation",
			"config_rule", d.RuleName,
			"resource_id", d.ResourceID)
		return nil, nil
	}

	impl := rules.LookupString(d.RuleName, config.KeyImplementation, "", d.Action, desc.AccountName)
	if impl == "" {
		b.logger.Info("no remediation defined for rule",
			"config_rule", d.RuleName,
			"resource_id", d.ResourceID)
		return nil, nil
	}

	if !b.filter.Accept(d.RuleName, d.Action, desc.AccountName, d.ResourceID) {
		b.logger.Info("resource exempt",
			"config_rule", d.RuleName,
			"account_id", d.AccountID,
			"resource_id", d.ResourceID)
		return nil, nil
	}

	ev := Event{
		ConformancePack: b.cfg.Dispatcher.ConformancePack,
		RuleName:        d.RuleName,
		Action:          d.Action,
		Target: Target{
			AccountID:    desc.AccountID,
			AccountName:  desc.AccountName,
			AccountEmail: desc.AccountEmail,
			Region:       d.Region,
			RoleName:     desc.RoleName,
			ResourceType: d.ResourceType,
			ResourceID:   d.ResourceID,
		},
	}

	lookup := func(key string) (any, bool) {
		v := rules.Lookup(d.RuleName, key, nil, d.Action, desc.AccountName)
		return v, v != nil
	}

	// Anything but an explicit boolean opt-out stays a dry run, including a
	// mistyped value like a quoted "true".
	switch v := rules.Lookup(d.RuleName, config.KeyPreview, nil, d.Action, desc.AccountName).(type) {
	case bool:
		ev.Preview = v
	default:
		ev.Preview = true
		b.warnDefault(d.RuleName, config.KeyPreview, "true")
	}

	if _, ok := lookup(config.KeyDeploymentMethod); ok {
		ev.DeploymentMethod = rules.LookupMap(d.RuleName, config.KeyDeploymentMethod, nil, d.Action, desc.AccountName)
	} else {
		ev.DeploymentMethod = map[string]any{}
		b.warnDefault(d.RuleName, config.KeyDeploymentMethod, "{}")
	}

	ev.ManualTagName = rules.LookupString(d.RuleName, config.KeyManualTagName, "", d.Action, desc.AccountName)
	if ev.ManualTagName == "" {
		ev.ManualTagName = DefaultManualTagName
		b.warnDefault(d.RuleName, config.KeyManualTagName, DefaultManualTagName)
	}

	ev.ResourceTags = rules.LookupStringMap(d.RuleName, config.KeyResourceTags, nil, d.Action, desc.AccountName)
	if ev.ResourceTags == nil {
		ev.ResourceTags = map[string]string{defaultAutoDeployedTag: "True"}
		b.warnDefault(d.RuleName, config.KeyResourceTags, defaultAutoDeployedTag+"=True")
	}

	ev.StackNamePattern = rules.LookupString(d.RuleName, config.KeyStackNamePattern, "", d.Action, desc.AccountName)
	if ev.StackNamePattern == "" {
		ev.StackNamePattern = b.cfg.Dispatcher.ConformancePack + defaultStackNameSuffix
		b.warnDefault(d.RuleName, config.KeyStackNamePattern, ev.StackNamePattern)
	}

	return &Invocation{
		FunctionName: fmt.Sprintf(b.cfg.Dispatcher.FunctionPattern, impl),
		Event:        ev,
		Attempt:      1,
	}, nil
}

func (b *Builder) warnDefault(rule, key, value string) {
	b.logger.Warn("rule setting not configured, using default",
		"config_rule", rule,
		"setting", key,
		"default", value)
}
