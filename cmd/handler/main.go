// The handler Lambda executes remediation tasks dispatched to it. All
// built-in rules are registered in one binary; the incoming event selects
// the handling function by rule, action and resource type.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/qualys/remediator/internal/handler"
	"github.com/qualys/remediator/internal/rules"
	"github.com/qualys/remediator/internal/session"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	profile, err := session.Load(context.Background(), os.Getenv("AWS_REGION"))
	if err != nil {
		log.Fatalf("Failed to load AWS session: %v", err)
	}

	registry := handler.NewRegistry()
	rules.RegisterAll(registry)

	h := handler.New(registry, profile, logger)
	lambda.Start(h.Handle)
}
