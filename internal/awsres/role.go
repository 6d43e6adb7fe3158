package awsres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/qualys/remediator/internal/reconcile"
	"github.com/qualys/remediator/internal/session"
)

// Role attribute keys.
const (
	RoleAttrAssumePolicy = "AssumeRolePolicyDocument"
	RoleAttrDescription  = "Description"
	RoleAttrMaxSession   = "MaxSessionDurationSeconds"
)

// IAMAPI is the subset of the IAM client the role resource uses.
type IAMAPI interface {
	GetRole(ctx context.Context, in *iam.GetRoleInput, opts ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	CreateRole(ctx context.Context, in *iam.CreateRoleInput, opts ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	UpdateRole(ctx context.Context, in *iam.UpdateRoleInput, opts ...func(*iam.Options)) (*iam.UpdateRoleOutput, error)
	UpdateAssumeRolePolicy(ctx context.Context, in *iam.UpdateAssumeRolePolicyInput, opts ...func(*iam.Options)) (*iam.UpdateAssumeRolePolicyOutput, error)
	AttachRolePolicy(ctx context.Context, in *iam.AttachRolePolicyInput, opts ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	ListAttachedRolePolicies(ctx context.Context, in *iam.ListAttachedRolePoliciesInput, opts ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error)
	DetachRolePolicy(ctx context.Context, in *iam.DetachRolePolicyInput, opts ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error)
	DeleteRole(ctx context.Context, in *iam.DeleteRoleInput, opts ...func(*iam.Options)) (*iam.DeleteRoleOutput, error)
}

// Role declares IAM roles.
type Role struct {
	client  IAMAPI
	profile *session.Profile
	logger  *slog.Logger
}

func NewRole(profile *session.Profile, logger *slog.Logger) *Role {
	return &Role{
		client:  iam.NewFromConfig(profile.Config()),
		profile: profile,
		logger:  logger,
	}
}

// Declare converges the named role and returns its ARN.
func (r *Role) Declare(ctx context.Context, name string, required reconcile.Attributes) (string, error) {
	return reconcile.Declare(ctx, r, name, required, r.logger)
}

// AttachManagedPolicy attaches a managed policy to the role. Attachment is
// idempotent on the IAM side.
func (r *Role) AttachManagedPolicy(ctx context.Context, roleName, policyARN string) error {
	if r.profile.Preview() {
		r.profile.Record("iam", "AttachRolePolicy", map[string]any{
			"RoleName":  roleName,
			"PolicyArn": policyARN,
		})
		return nil
	}
	_, err := r.client.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String(roleName),
		PolicyArn: aws.String(policyARN),
	})
	if err != nil {
		return fmt.Errorf("attaching policy %s to role %s: %w", policyARN, roleName, err)
	}
	return nil
}

func (r *Role) Kind() string { return "iam-role" }

func (r *Role) Load(ctx context.Context, name string) (reconcile.Attributes, string, error) {
	out, err := r.client.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if err != nil {
		var notFound *iamtypes.NoSuchEntityException
		if errors.As(err, &notFound) {
			return nil, "", nil
		}
		return nil, "", err
	}

	role := out.Role
	attrs := reconcile.Attributes{
		RoleAttrDescription: aws.ToString(role.Description),
		RoleAttrMaxSession:  int(aws.ToInt32(role.MaxSessionDuration)),
	}
	// IAM returns the trust policy URL-encoded.
	if doc, err := url.QueryUnescape(aws.ToString(role.AssumeRolePolicyDocument)); err == nil {
		attrs[RoleAttrAssumePolicy] = doc
	}
	return attrs, aws.ToString(role.Arn), nil
}

func (r *Role) Create(ctx context.Context, name string, attrs reconcile.Attributes) (string, error) {
	if r.profile.Preview() {
		r.profile.Record("iam", "CreateRole", map[string]any{"RoleName": name})
		return fmt.Sprintf("arn:aws:iam::%s:role/%s", r.profile.AccountID(), name), nil
	}

	in := &iam.CreateRoleInput{
		RoleName:                 aws.String(name),
		AssumeRolePolicyDocument: aws.String(stringAttr(attrs, RoleAttrAssumePolicy)),
	}
	if desc := stringAttr(attrs, RoleAttrDescription); desc != "" {
		in.Description = aws.String(desc)
	}
	if secs, ok := attrs[RoleAttrMaxSession].(int); ok && secs > 0 {
		in.MaxSessionDuration = aws.Int32(int32(secs))
	}

	out, err := r.client.CreateRole(ctx, in)
	if err != nil {
		return "", err
	}
	return aws.ToString(out.Role.Arn), nil
}

func (r *Role) Update(ctx context.Context, name string, delta reconcile.Attributes) error {
	if r.profile.Preview() {
		r.profile.Record("iam", "UpdateRole", map[string]any{
			"RoleName": name,
			"Changes":  delta,
		})
		return nil
	}

	if doc, ok := delta[RoleAttrAssumePolicy]; ok {
		_, err := r.client.UpdateAssumeRolePolicy(ctx, &iam.UpdateAssumeRolePolicyInput{
			RoleName:       aws.String(name),
			PolicyDocument: aws.String(fmt.Sprint(doc)),
		})
		if err != nil {
			return fmt.Errorf("updating trust policy: %w", err)
		}
	}

	in := &iam.UpdateRoleInput{RoleName: aws.String(name)}
	changed := false
	if desc, ok := delta[RoleAttrDescription]; ok {
		in.Description = aws.String(fmt.Sprint(desc))
		changed = true
	}
	if secs, ok := delta[RoleAttrMaxSession].(int); ok {
		in.MaxSessionDuration = aws.Int32(int32(secs))
		changed = true
	}
	if !changed {
		return nil
	}
	_, err := r.client.UpdateRole(ctx, in)
	return err
}

// Remove detaches every managed policy and deletes the role. A role that
// does not exist is not an error.
func (r *Role) Remove(ctx context.Context, name string) error {
	attached, err := r.client.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: aws.String(name),
	})
	if err != nil {
		var notFound *iamtypes.NoSuchEntityException
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("listing policies on role %s: %w", name, err)
	}

	if r.profile.Preview() {
		for _, p := range attached.AttachedPolicies {
			r.profile.Record("iam", "DetachRolePolicy", map[string]any{
				"RoleName":  name,
				"PolicyArn": aws.ToString(p.PolicyArn),
			})
		}
		r.profile.Record("iam", "DeleteRole", map[string]any{"RoleName": name})
		return nil
	}

	for _, p := range attached.AttachedPolicies {
		_, err := r.client.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  aws.String(name),
			PolicyArn: p.PolicyArn,
		})
		if err != nil {
			return fmt.Errorf("detaching policy %s from role %s: %w", aws.ToString(p.PolicyArn), name, err)
		}
	}

	_, err = r.client.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(name)})
	return err
}

func (r *Role) Normalizers() map[string]reconcile.Normalizer {
	return map[string]reconcile.Normalizer{
		RoleAttrAssumePolicy: reconcile.JSONDocument,
	}
}

func stringAttr(attrs reconcile.Attributes, key string) string {
	if v, ok := attrs[key].(string); ok {
		return v
	}
	return ""
}
