// Package awsres wraps AWS resource APIs behind the declarative reconcile
// contract: declare what a resource must look like and the wrapper creates
// it, patches the drifted attributes, or does nothing. All mutating calls
// honor preview sessions.
package awsres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/qualys/remediator/internal/reconcile"
	"github.com/qualys/remediator/internal/session"
)

const attrPrefix = "Attributes."

// SQSAPI is the subset of the SQS client the queue resource uses.
type SQSAPI interface {
	GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, opts ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, opts ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	CreateQueue(ctx context.Context, in *sqs.CreateQueueInput, opts ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	SetQueueAttributes(ctx context.Context, in *sqs.SetQueueAttributesInput, opts ...func(*sqs.Options)) (*sqs.SetQueueAttributesOutput, error)
	DeleteQueue(ctx context.Context, in *sqs.DeleteQueueInput, opts ...func(*sqs.Options)) (*sqs.DeleteQueueOutput, error)
}

// Queue declares SQS queues. Attribute keys use the dot-path form
// "Attributes.<Name>", e.g. "Attributes.VisibilityTimeout".
type Queue struct {
	client  SQSAPI
	profile *session.Profile
	logger  *slog.Logger

	urls map[string]string
}

func NewQueue(profile *session.Profile, logger *slog.Logger) *Queue {
	return &Queue{
		client:  sqs.NewFromConfig(profile.Config()),
		profile: profile,
		logger:  logger,
		urls:    make(map[string]string),
	}
}

// Declare converges the named queue to the required attributes and returns
// its ARN.
func (q *Queue) Declare(ctx context.Context, name string, required reconcile.Attributes) (string, error) {
	return reconcile.Declare(ctx, q, name, required, q.logger)
}

func (q *Queue) Kind() string { return "sqs-queue" }

func (q *Queue) Load(ctx context.Context, name string) (reconcile.Attributes, string, error) {
	urlOut, err := q.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(name),
	})
	if err != nil {
		var notFound *sqstypes.QueueDoesNotExist
		if errors.As(err, &notFound) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("resolving queue url: %w", err)
	}
	url := aws.ToString(urlOut.QueueUrl)
	q.urls[name] = url

	attrOut, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(url),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameAll},
	})
	if err != nil {
		return nil, "", fmt.Errorf("reading queue attributes: %w", err)
	}

	attrs := make(reconcile.Attributes, len(attrOut.Attributes))
	for k, v := range attrOut.Attributes {
		attrs[attrPrefix+k] = v
	}
	return attrs, attrOut.Attributes[string(sqstypes.QueueAttributeNameQueueArn)], nil
}

func (q *Queue) Create(ctx context.Context, name string, attrs reconcile.Attributes) (string, error) {
	if q.profile.Preview() {
		q.profile.Record("sqs", "CreateQueue", map[string]any{"QueueName": name})
		return "arn:aws:sqs:::" + name, nil
	}

	out, err := q.client.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  aws.String(name),
		Attributes: flattenAttributes(attrs),
	})
	if err != nil {
		return "", err
	}
	url := aws.ToString(out.QueueUrl)
	q.urls[name] = url

	arnOut, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       out.QueueUrl,
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return "", fmt.Errorf("reading new queue arn: %w", err)
	}
	return arnOut.Attributes[string(sqstypes.QueueAttributeNameQueueArn)], nil
}

func (q *Queue) Update(ctx context.Context, name string, delta reconcile.Attributes) error {
	if q.profile.Preview() {
		q.profile.Record("sqs", "SetQueueAttributes", map[string]any{
			"QueueName":  name,
			"Attributes": delta,
		})
		return nil
	}

	_, err := q.client.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
		QueueUrl:   aws.String(q.urls[name]),
		Attributes: flattenAttributes(delta),
	})
	return err
}

// Remove deletes the named queue. A queue that does not exist is not an
// error.
func (q *Queue) Remove(ctx context.Context, name string) error {
	urlOut, err := q.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(name),
	})
	if err != nil {
		var notFound *sqstypes.QueueDoesNotExist
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("resolving queue url: %w", err)
	}

	if q.profile.Preview() {
		q.profile.Record("sqs", "DeleteQueue", map[string]any{"QueueName": name})
		return nil
	}

	_, err = q.client.DeleteQueue(ctx, &sqs.DeleteQueueInput{QueueUrl: urlOut.QueueUrl})
	return err
}

func (q *Queue) Normalizers() map[string]reconcile.Normalizer {
	return map[string]reconcile.Normalizer{
		attrPrefix + "Policy":        reconcile.JSONDocument,
		attrPrefix + "RedrivePolicy": reconcile.JSONDocument,
	}
}

func flattenAttributes(attrs reconcile.Attributes) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		name := k
		if len(k) > len(attrPrefix) && k[:len(attrPrefix)] == attrPrefix {
			name = k[len(attrPrefix):]
		}
		out[name] = fmt.Sprint(v)
	}
	return out
}
