package awsres

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/qualys/remediator/internal/reconcile"
	"github.com/qualys/remediator/internal/session"
)

type fakeEventBridge struct {
	exists      bool
	pattern     string
	description string
	state       ebtypes.RuleState

	put     *eventbridge.PutRuleInput
	targets *eventbridge.PutTargetsInput
}

func (f *fakeEventBridge) DescribeRule(ctx context.Context, in *eventbridge.DescribeRuleInput, opts ...func(*eventbridge.Options)) (*eventbridge.DescribeRuleOutput, error) {
	if !f.exists {
		return nil, &ebtypes.ResourceNotFoundException{}
	}
	return &eventbridge.DescribeRuleOutput{
		Arn:          aws.String("arn:aws:events:eu-west-1:123456789012:rule/" + aws.ToString(in.Name)),
		EventPattern: aws.String(f.pattern),
		Description:  aws.String(f.description),
		State:        f.state,
	}, nil
}

func (f *fakeEventBridge) PutRule(ctx context.Context, in *eventbridge.PutRuleInput, opts ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error) {
	f.put = in
	return &eventbridge.PutRuleOutput{
		RuleArn: aws.String("arn:aws:events:eu-west-1:123456789012:rule/" + aws.ToString(in.Name)),
	}, nil
}

func (f *fakeEventBridge) PutTargets(ctx context.Context, in *eventbridge.PutTargetsInput, opts ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error) {
	f.targets = in
	return &eventbridge.PutTargetsOutput{}, nil
}

func (f *fakeEventBridge) RemoveTargets(ctx context.Context, in *eventbridge.RemoveTargetsInput, opts ...func(*eventbridge.Options)) (*eventbridge.RemoveTargetsOutput, error) {
	return &eventbridge.RemoveTargetsOutput{}, nil
}

func (f *fakeEventBridge) DeleteRule(ctx context.Context, in *eventbridge.DeleteRuleInput, opts ...func(*eventbridge.Options)) (*eventbridge.DeleteRuleOutput, error) {
	f.exists = false
	return &eventbridge.DeleteRuleOutput{}, nil
}

func testEventRule(client EventBridgeAPI, profile *session.Profile) *EventRule {
	return &EventRule{
		client:  client,
		profile: profile,
		logger:  discardLogger(),
	}
}

func TestEventRuleDeclare_UpdateCarriesUnchangedFields(t *testing.T) {
	// PutRule nulls every omitted field, so a single-attribute drift must
	// still send the full rule.
	fake := &fakeEventBridge{
		exists:      true,
		pattern:     `{"source":["aws.config"]}`,
		description: "Routes compliance changes",
		state:       ebtypes.RuleStateDisabled,
	}
	r := testEventRule(fake, &session.Profile{})

	_, err := r.Declare(context.Background(), "compliance-rule", reconcile.Attributes{
		RuleAttrPattern:     `{"source":["aws.config"]}`,
		RuleAttrDescription: "Routes compliance changes",
		RuleAttrState:       "ENABLED",
	})
	if err != nil {
		t.Fatalf("Declare: %v", err)
	}
	if fake.put == nil {
		t.Fatal("drifted rule was not updated")
	}
	if got := aws.ToString(fake.put.EventPattern); got != `{"source":["aws.config"]}` {
		t.Errorf("update dropped the event pattern: %q", got)
	}
	if got := aws.ToString(fake.put.Description); got != "Routes compliance changes" {
		t.Errorf("update dropped the description: %q", got)
	}
	if fake.put.State != ebtypes.RuleStateEnabled {
		t.Errorf("state = %q, want ENABLED", fake.put.State)
	}
}

func TestEventRuleDeclare_ConvergedRuleUntouched(t *testing.T) {
	fake := &fakeEventBridge{
		exists:  true,
		pattern: `{"source": ["aws.config"]}`,
		state:   ebtypes.RuleStateEnabled,
	}
	r := testEventRule(fake, &session.Profile{})

	_, err := r.Declare(context.Background(), "compliance-rule", reconcile.Attributes{
		RuleAttrPattern: `{"source":["aws.config"]}`,
		RuleAttrState:   "ENABLED",
	})
	if err != nil {
		t.Fatalf("Declare: %v", err)
	}
	if fake.put != nil {
		t.Error("converged rule was mutated")
	}
}

func TestEventRuleDeclare_CreatesMissingRule(t *testing.T) {
	fake := &fakeEventBridge{exists: false}
	r := testEventRule(fake, &session.Profile{})

	arn, err := r.Declare(context.Background(), "compliance-rule", reconcile.Attributes{
		RuleAttrPattern: `{"source":["aws.config"]}`,
		RuleAttrState:   "ENABLED",
	})
	if err != nil {
		t.Fatalf("Declare: %v", err)
	}
	if fake.put == nil {
		t.Fatal("rule was not created")
	}
	if arn == "" {
		t.Error("Declare returned an empty ARN")
	}
}
