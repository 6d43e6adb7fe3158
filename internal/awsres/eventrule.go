package awsres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/qualys/remediator/internal/reconcile"
	"github.com/qualys/remediator/internal/session"
)

// Event rule attribute keys.
const (
	RuleAttrPattern     = "EventPattern"
	RuleAttrDescription = "Description"
	RuleAttrState       = "State"
)

// EventBridgeAPI is the subset of the EventBridge client the rule resource
// uses.
type EventBridgeAPI interface {
	DescribeRule(ctx context.Context, in *eventbridge.DescribeRuleInput, opts ...func(*eventbridge.Options)) (*eventbridge.DescribeRuleOutput, error)
	PutRule(ctx context.Context, in *eventbridge.PutRuleInput, opts ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error)
	PutTargets(ctx context.Context, in *eventbridge.PutTargetsInput, opts ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error)
	RemoveTargets(ctx context.Context, in *eventbridge.RemoveTargetsInput, opts ...func(*eventbridge.Options)) (*eventbridge.RemoveTargetsOutput, error)
	DeleteRule(ctx context.Context, in *eventbridge.DeleteRuleInput, opts ...func(*eventbridge.Options)) (*eventbridge.DeleteRuleOutput, error)
}

// EventRule declares EventBridge rules on the default bus.
type EventRule struct {
	client  EventBridgeAPI
	profile *session.Profile
	logger  *slog.Logger
}

func NewEventRule(profile *session.Profile, logger *slog.Logger) *EventRule {
	return &EventRule{
		client:  eventbridge.NewFromConfig(profile.Config()),
		profile: profile,
		logger:  logger,
	}
}

// Declare converges the named rule and returns its ARN.
func (e *EventRule) Declare(ctx context.Context, name string, required reconcile.Attributes) (string, error) {
	return reconcile.Declare(ctx, e, name, required, e.logger)
}

// Target routes the rule's matches to the given ARN. PutTargets upserts by
// target id, so repeated declarations are safe.
func (e *EventRule) Target(ctx context.Context, ruleName, targetID, targetARN string) error {
	if e.profile.Preview() {
		e.profile.Record("eventbridge", "PutTargets", map[string]any{
			"Rule":      ruleName,
			"TargetArn": targetARN,
		})
		return nil
	}
	_, err := e.client.PutTargets(ctx, &eventbridge.PutTargetsInput{
		Rule: aws.String(ruleName),
		Targets: []ebtypes.Target{{
			Id:  aws.String(targetID),
			Arn: aws.String(targetARN),
		}},
	})
	return err
}

func (e *EventRule) Kind() string { return "eventbridge-rule" }

func (e *EventRule) Load(ctx context.Context, name string) (reconcile.Attributes, string, error) {
	out, err := e.client.DescribeRule(ctx, &eventbridge.DescribeRuleInput{
		Name: aws.String(name),
	})
	if err != nil {
		var notFound *ebtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, "", nil
		}
		return nil, "", err
	}

	return reconcile.Attributes{
		RuleAttrPattern:     aws.ToString(out.EventPattern),
		RuleAttrDescription: aws.ToString(out.Description),
		RuleAttrState:       string(out.State),
	}, aws.ToString(out.Arn), nil
}

func (e *EventRule) Create(ctx context.Context, name string, attrs reconcile.Attributes) (string, error) {
	return e.put(ctx, name, attrs)
}

// Update reuses PutRule. The API replaces the whole rule and nulls any
// omitted field, so the delta is laid over a fresh read of live state
// before the call.
func (e *EventRule) Update(ctx context.Context, name string, delta reconcile.Attributes) error {
	live, _, err := e.Load(ctx, name)
	if err != nil {
		return err
	}
	_, err = e.put(ctx, name, reconcile.Merge(live, delta))
	return err
}

func (e *EventRule) put(ctx context.Context, name string, attrs reconcile.Attributes) (string, error) {
	if e.profile.Preview() {
		e.profile.Record("eventbridge", "PutRule", map[string]any{"Name": name})
		return "arn:aws:events:::rule/" + name, nil
	}

	in := &eventbridge.PutRuleInput{Name: aws.String(name)}
	if v := stringAttr(attrs, RuleAttrPattern); v != "" {
		in.EventPattern = aws.String(v)
	}
	if v := stringAttr(attrs, RuleAttrDescription); v != "" {
		in.Description = aws.String(v)
	}
	if v := stringAttr(attrs, RuleAttrState); v != "" {
		in.State = ebtypes.RuleState(v)
	}

	out, err := e.client.PutRule(ctx, in)
	if err != nil {
		return "", err
	}
	return aws.ToString(out.RuleArn), nil
}

// Remove drops the rule's targets and deletes the rule. A rule that does
// not exist is not an error.
func (e *EventRule) Remove(ctx context.Context, ruleName string, targetIDs ...string) error {
	if e.profile.Preview() {
		if len(targetIDs) > 0 {
			e.profile.Record("eventbridge", "RemoveTargets", map[string]any{
				"Rule": ruleName,
				"Ids":  targetIDs,
			})
		}
		e.profile.Record("eventbridge", "DeleteRule", map[string]any{"Name": ruleName})
		return nil
	}

	if len(targetIDs) > 0 {
		_, err := e.client.RemoveTargets(ctx, &eventbridge.RemoveTargetsInput{
			Rule: aws.String(ruleName),
			Ids:  targetIDs,
		})
		if err != nil {
			var notFound *ebtypes.ResourceNotFoundException
			if errors.As(err, &notFound) {
				return nil
			}
			return err
		}
	}

	_, err := e.client.DeleteRule(ctx, &eventbridge.DeleteRuleInput{Name: aws.String(ruleName)})
	if err != nil {
		var notFound *ebtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil
		}
	}
	return err
}

func (e *EventRule) Normalizers() map[string]reconcile.Normalizer {
	return map[string]reconcile.Normalizer{
		RuleAttrPattern: reconcile.JSONDocument,
	}
}
