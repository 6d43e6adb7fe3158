// The dispatcher Lambda consumes compliance-change notifications from the
// dispatch queue and drives remediation handlers to completion.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/organizations"

	"github.com/qualys/remediator/internal/config"
	"github.com/qualys/remediator/internal/dispatch"
	"github.com/qualys/remediator/internal/events"
	"github.com/qualys/remediator/internal/filter"
	"github.com/qualys/remediator/internal/metrics"
	"github.com/qualys/remediator/internal/session"
	"github.com/qualys/remediator/internal/target"
)

type app struct {
	cfg     *config.Config
	profile *session.Profile
	logger  *slog.Logger
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	profile, err := session.Load(context.Background(), cfg.Dispatcher.Region)
	if err != nil {
		log.Fatalf("Failed to load AWS session: %v", err)
	}
	if cfg.Dispatcher.AccountID == "" {
		cfg.Dispatcher.AccountID = profile.AccountID()
	}

	a := &app{cfg: cfg, profile: profile, logger: logger}
	lambda.Start(a.handle)
}

// handle runs one dispatch cycle per queue delivery. Landing-zone discovery
// happens once here and its result is shared by the whole batch.
func (a *app) handle(ctx context.Context, batch awsevents.SQSEvent) error {
	zone, err := target.Discover(ctx, iam.NewFromConfig(a.profile.Config()), a.cfg.LandingZone, a.logger)
	if err != nil {
		return err
	}

	var dir target.Directory
	if zone != nil {
		dir = target.NewOrgDirectory(organizations.NewFromConfig(a.profile.Config()))
	}
	resolver := target.NewResolver(a.cfg.Dispatcher.AccountID, zone, dir, a.logger)

	parser := events.NewParser(a.logger)
	builder := dispatch.NewBuilder(a.cfg, resolver, filter.New(a.cfg.Rules, a.logger), a.logger)
	invoker := dispatch.NewLambdaInvoker(lambdasvc.NewFromConfig(a.profile.Config()))
	sink := metrics.NewPublisher(
		cloudwatch.NewFromConfig(a.profile.Config()),
		a.cfg.Metrics.Namespace,
		a.cfg.Metrics.Dimensions,
		a.logger,
	)

	d := dispatch.NewDispatcher(parser, builder, invoker, sink, a.cfg.Dispatcher.RetryBackoff, a.logger)
	return d.Dispatch(ctx, batch)
}
