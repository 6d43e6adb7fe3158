// Package target resolves which account and IAM role a dispatch executes
// against, for both standalone and landing-zone deployments.
package target

import (
	"context"
	"fmt"
	"log/slog"
)

// LocalRoleName is the reserved role name meaning "do not assume a role,
// use the local credentials".
const LocalRoleName = "LOCAL"

// accountActive is the Organizations status of an account that may be
// targeted.
const accountActive = "ACTIVE"

// Descriptor is the resolved execution context for one dispatch.
type Descriptor struct {
	AccountID    string
	AccountName  string
	AccountEmail string
	RoleName     string
	Local        bool
}

// Account is one organization member as reported by the directory.
type Account struct {
	ID     string
	Name   string
	Email  string
	Status string
}

// Directory looks up organization accounts. Implemented by OrgDirectory in
// production and by fakes in tests.
type Directory interface {
	Account(ctx context.Context, accountID string) (*Account, error)
}

// LandingZone identifies the landing-zone flavor actually deployed and the
// remediation role it provisions in every member account.
type LandingZone struct {
	Name            string
	RemediationRole string
}

// Resolver maps a target account id to an execution descriptor. A nil
// descriptor with a nil error means the account is out of scope; the caller
// skips the dispatch without retrying.
type Resolver struct {
	localAccountID string
	zone           *LandingZone
	dir            Directory
	logger         *slog.Logger
}

// NewResolver builds a resolver. zone is nil in standalone mode; dir may be
// nil only when zone is nil.
func NewResolver(localAccountID string, zone *LandingZone, dir Directory, logger *slog.Logger) *Resolver {
	return &Resolver{
		localAccountID: localAccountID,
		zone:           zone,
		dir:            dir,
		logger:         logger,
	}
}

// Resolve determines the role to assume for accountID and whether the
// account is in scope.
func (r *Resolver) Resolve(ctx context.Context, accountID string) (*Descriptor, error) {
	if r.zone == nil {
		if accountID != r.localAccountID {
			r.logger.Info("skipping foreign account in standalone mode",
				"account_id", accountID,
				"local_account_id", r.localAccountID)
			return nil, nil
		}
		return &Descriptor{
			AccountID: accountID,
			RoleName:  LocalRoleName,
			Local:     true,
		}, nil
	}

	acct, err := r.dir.Account(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("looking up account %s: %w", accountID, err)
	}
	if acct.Status != accountActive {
		r.logger.Info("skipping inactive account",
			"account_id", accountID,
			"status", acct.Status)
		return nil, nil
	}

	return &Descriptor{
		AccountID:    accountID,
		AccountName:  acct.Name,
		AccountEmail: acct.Email,
		RoleName:     r.zone.RemediationRole,
		Local:        accountID == r.localAccountID,
	}, nil
}
