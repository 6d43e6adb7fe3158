// Package install declares the dispatcher's own AWS infrastructure: the
// event rule capturing compliance changes, the dispatch queue, the IAM
// roles, and the Lambda functions. Everything goes through the declarative
// resource clients, so install is safe to re-run and a preview session
// turns it into a dry run.
package install

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/qualys/remediator/internal/awsres"
	"github.com/qualys/remediator/internal/config"
	"github.com/qualys/remediator/internal/reconcile"
	"github.com/qualys/remediator/internal/session"
)

const complianceEventPattern = `{"source":["aws.config"],"detail-type":["Config Rules Compliance Change"]}`

const lambdaTrustPolicy = `{
  "Version": "2012-10-17",
  "Statement": [{
    "Effect": "Allow",
    "Principal": {"Service": "lambda.amazonaws.com"},
    "Action": "sts:AssumeRole"
  }]
}`

// Installer converges the remediator's infrastructure to the configured
// state.
type Installer struct {
	cfg     *config.Config
	profile *session.Profile
	logger  *slog.Logger

	queue    *awsres.Queue
	role     *awsres.Role
	rule     *awsres.EventRule
	function *awsres.Function
}

func New(cfg *config.Config, profile *session.Profile, logger *slog.Logger) *Installer {
	codeKey := cfg.Install.CodeKeyPrefix + "/remediator.zip"
	return &Installer{
		cfg:      cfg,
		profile:  profile,
		logger:   logger,
		queue:    awsres.NewQueue(profile, logger),
		role:     awsres.NewRole(profile, logger),
		rule:     awsres.NewEventRule(profile, logger),
		function: awsres.NewFunction(profile, cfg.Install.CodeBucket, codeKey, logger),
	}
}

// Install declares every piece of infrastructure, in dependency order.
func (i *Installer) Install(ctx context.Context) error {
	ic := i.cfg.Install

	dispatcherRoleARN, err := i.role.Declare(ctx, ic.DispatcherRole, reconcile.Attributes{
		awsres.RoleAttrAssumePolicy: lambdaTrustPolicy,
		awsres.RoleAttrDescription:  "Execution role for the remediator dispatcher",
	})
	if err != nil {
		return err
	}
	for _, policy := range []string{
		"arn:aws:iam::aws:policy/service-role/AWSLambdaSQSQueueExecutionRole",
		"arn:aws:iam::aws:policy/AWSLambda_FullAccess",
	} {
		if err := i.role.AttachManagedPolicy(ctx, ic.DispatcherRole, policy); err != nil {
			return err
		}
	}

	handlerRoleARN, err := i.role.Declare(ctx, ic.HandlerRole, reconcile.Attributes{
		awsres.RoleAttrAssumePolicy: lambdaTrustPolicy,
		awsres.RoleAttrDescription:  "Execution role for remediation handlers",
	})
	if err != nil {
		return err
	}

	queueARN, err := i.queue.Declare(ctx, ic.QueueName, reconcile.Attributes{
		"Attributes.VisibilityTimeout":      fmt.Sprint(ic.FunctionTimeout * 6),
		"Attributes.MessageRetentionPeriod": "86400",
		"Attributes.Policy":                 i.queuePolicy(ic.QueueName),
	})
	if err != nil {
		return err
	}

	ruleARN, err := i.rule.Declare(ctx, ic.EventRuleName, reconcile.Attributes{
		awsres.RuleAttrPattern:     complianceEventPattern,
		awsres.RuleAttrDescription: "Routes Config compliance changes to the remediator queue",
		awsres.RuleAttrState:       "ENABLED",
	})
	if err != nil {
		return err
	}
	if err := i.rule.Target(ctx, ic.EventRuleName, "remediator-queue", queueARN); err != nil {
		return fmt.Errorf("targeting queue from event rule: %w", err)
	}
	i.logger.Info("event routing declared", "rule_arn", ruleARN, "queue_arn", queueARN)

	if _, err := i.function.Declare(ctx, "remediator-dispatcher", reconcile.Attributes{
		awsres.FnAttrHandler: "dispatcher",
		awsres.FnAttrRuntime: "provided.al2023",
		awsres.FnAttrRole:    dispatcherRoleARN,
		awsres.FnAttrTimeout: int(ic.FunctionTimeout),
		awsres.FnAttrMemory:  256,
	}); err != nil {
		return err
	}

	for _, rule := range i.configuredImplementations() {
		name := fmt.Sprintf(i.cfg.Dispatcher.FunctionPattern, rule)
		if _, err := i.function.Declare(ctx, name, reconcile.Attributes{
			awsres.FnAttrHandler: "handler",
			awsres.FnAttrRuntime: "provided.al2023",
			awsres.FnAttrRole:    handlerRoleARN,
			awsres.FnAttrTimeout: int(ic.FunctionTimeout),
			awsres.FnAttrMemory:  256,
		}); err != nil {
			return err
		}
	}

	return nil
}

// Uninstall removes every installed piece, in reverse dependency order.
// Each removal tolerates an already-absent resource, so uninstall is as
// re-runnable as install.
func (i *Installer) Uninstall(ctx context.Context) error {
	ic := i.cfg.Install

	for _, rule := range i.configuredImplementations() {
		name := fmt.Sprintf(i.cfg.Dispatcher.FunctionPattern, rule)
		if err := i.function.Remove(ctx, name); err != nil {
			return fmt.Errorf("removing function %s: %w", name, err)
		}
	}
	if err := i.function.Remove(ctx, "remediator-dispatcher"); err != nil {
		return fmt.Errorf("removing dispatcher function: %w", err)
	}

	if err := i.rule.Remove(ctx, ic.EventRuleName, "remediator-queue"); err != nil {
		return fmt.Errorf("removing event rule: %w", err)
	}

	if err := i.queue.Remove(ctx, ic.QueueName); err != nil {
		return fmt.Errorf("removing queue: %w", err)
	}

	for _, role := range []string{ic.DispatcherRole, ic.HandlerRole} {
		if err := i.role.Remove(ctx, role); err != nil {
			return fmt.Errorf("removing role %s: %w", role, err)
		}
	}

	i.logger.Info("infrastructure removed")
	return nil
}

// Status reports which infrastructure pieces currently exist.
func (i *Installer) Status(ctx context.Context) (map[string]bool, error) {
	status := make(map[string]bool)

	for name, res := range map[string]reconcile.Resource{
		i.cfg.Install.QueueName:      i.queue,
		i.cfg.Install.DispatcherRole: i.role,
		i.cfg.Install.EventRuleName:  i.rule,
	} {
		attrs, _, err := res.Load(ctx, name)
		if err != nil {
			return nil, err
		}
		status[res.Kind()+":"+name] = attrs != nil
	}
	return status, nil
}

// queuePolicy allows EventBridge to deliver into the queue.
func (i *Installer) queuePolicy(queueName string) string {
	policy := map[string]any{
		"Version": "2012-10-17",
		"Statement": []map[string]any{{
			"Effect":    "Allow",
			"Principal": map[string]string{"Service": "events.amazonaws.com"},
			"Action":    "sqs:SendMessage",
			"Resource":  fmt.Sprintf("arn:aws:sqs:%s:%s:%s", i.cfg.Dispatcher.Region, i.profile.AccountID(), queueName),
		}},
	}
	raw, _ := json.Marshal(policy)
	return string(raw)
}

// configuredImplementations lists the distinct implementation names the rule
// table references, so install can declare one handler function per
// implementation.
func (i *Installer) configuredImplementations() []string {
	seen := make(map[string]bool)
	var impls []string
	for rule := range i.cfg.Rules {
		impl := i.cfg.Rules.LookupString(rule, config.KeyImplementation, "", "", "")
		if impl != "" && !seen[impl] {
			seen[impl] = true
			impls = append(impls, impl)
		}
	}
	sort.Strings(impls)
	return impls
}
