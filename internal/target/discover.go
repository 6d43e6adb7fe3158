package target

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/qualys/remediator/internal/config"
)

// RoleProber checks for the existence of an IAM role. Satisfied by
// *iam.Client.
type RoleProber interface {
	GetRole(ctx context.Context, in *iam.GetRoleInput, opts ...func(*iam.Options)) (*iam.GetRoleOutput, error)
}

// Discover determines which of the configured landing-zone flavors is
// actually deployed by probing for each flavor's marker role. The first
// flavor whose probe role exists wins. Returns nil when no flavor is
// deployed; the dispatcher then runs standalone.
//
// Discovery is called once per dispatch cycle and the result reused for the
// whole batch.
func Discover(ctx context.Context, prober RoleProber, lz *config.LandingZoneConfig, logger *slog.Logger) (*LandingZone, error) {
	if lz == nil {
		return nil, nil
	}

	for _, flavor := range lz.Flavors {
		_, err := prober.GetRole(ctx, &iam.GetRoleInput{
			RoleName: aws.String(flavor.ProbeRole),
		})
		if err != nil {
			var notFound *iamtypes.NoSuchEntityException
			if errors.As(err, &notFound) {
				continue
			}
			return nil, fmt.Errorf("probing for role %s: %w", flavor.ProbeRole, err)
		}

		logger.Info("landing zone detected",
			"flavor", flavor.Name,
			"remediation_role", flavor.RemediationRole)
		return &LandingZone{
			Name:            flavor.Name,
			RemediationRole: flavor.RemediationRole,
		}, nil
	}

	logger.Info("no landing zone detected, running standalone")
	return nil, nil
}
