package target

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
)

// OrganizationsAPI is the subset of the Organizations client the directory
// uses.
type OrganizationsAPI interface {
	DescribeAccount(ctx context.Context, in *organizations.DescribeAccountInput, opts ...func(*organizations.Options)) (*organizations.DescribeAccountOutput, error)
}

// OrgDirectory resolves accounts through AWS Organizations.
type OrgDirectory struct {
	client OrganizationsAPI
}

func NewOrgDirectory(client OrganizationsAPI) *OrgDirectory {
	return &OrgDirectory{client: client}
}

func (d *OrgDirectory) Account(ctx context.Context, accountID string) (*Account, error) {
	out, err := d.client.DescribeAccount(ctx, &organizations.DescribeAccountInput{
		AccountId: aws.String(accountID),
	})
	if err != nil {
		return nil, fmt.Errorf("describing account: %w", err)
	}

	return &Account{
		ID:     aws.ToString(out.Account.Id),
		Name:   aws.ToString(out.Account.Name),
		Email:  aws.ToString(out.Account.Email),
		Status: string(out.Account.Status),
	}, nil
}
