// Package session builds per-target AWS credential sessions and records
// would-be mutating calls when preview mode is on.
package session

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/qualys/remediator/internal/target"
)

// Call is one recorded mutating API call that preview mode suppressed.
type Call struct {
	Service   string         `json:"service"`
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params,omitempty"`
}

// Profile is a credential session bound to one account and region. Sessions
// are created fresh per invocation and never pooled; targets differ per
// dispatch.
type Profile struct {
	cfg       aws.Config
	accountID string
	preview   bool
	recorded  []Call
}

// Load builds the local profile from the default credential chain, the way
// the enclosing Lambda runs.
func Load(ctx context.Context, region string) (*Profile, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	stsClient := sts.NewFromConfig(cfg)
	identity, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("getting caller identity: %w", err)
	}

	return &Profile{
		cfg:       cfg,
		accountID: aws.ToString(identity.Account),
	}, nil
}

// AssumeRole derives a profile for the named role in the target account.
// The reserved role name LOCAL returns the receiver unchanged.
func (p *Profile) AssumeRole(ctx context.Context, accountID, roleName, region string) (*Profile, error) {
	if roleName == target.LocalRoleName {
		return p, nil
	}

	roleARN := fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, roleName)
	stsClient := sts.NewFromConfig(p.cfg)
	creds := stscreds.NewAssumeRoleProvider(stsClient, roleARN)

	cfg := p.cfg.Copy()
	cfg.Credentials = aws.NewCredentialsCache(creds)
	if region != "" {
		cfg.Region = region
	}

	return &Profile{
		cfg:       cfg,
		accountID: accountID,
	}, nil
}

// WithPreview returns a copy of the profile on which mutating calls must be
// recorded instead of issued.
func (p *Profile) WithPreview() *Profile {
	return &Profile{
		cfg:       p.cfg,
		accountID: p.accountID,
		preview:   true,
	}
}

// Config returns the underlying aws.Config for building service clients.
func (p *Profile) Config() aws.Config {
	return p.cfg
}

// AccountID returns the account the profile is bound to.
func (p *Profile) AccountID() string {
	return p.accountID
}

// Preview reports whether mutating calls must be suppressed.
func (p *Profile) Preview() bool {
	return p.preview
}

// Record notes a suppressed mutating call. Callers must check Preview
// before mutating and call Record instead of the API.
func (p *Profile) Record(service, operation string, params map[string]any) {
	p.recorded = append(p.recorded, Call{
		Service:   service,
		Operation: operation,
		Params:    params,
	})
}

// Drain returns and clears the accumulated preview record.
func (p *Profile) Drain() []Call {
	calls := p.recorded
	p.recorded = nil
	return calls
}
