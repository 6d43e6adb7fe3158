package rules

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/qualys/remediator/internal/handler"
	"github.com/qualys/remediator/internal/session"
)

// RemediateLogGroupEncryption associates the configured KMS key with a log
// group reported unencrypted. The key ARN comes from the rule's deployment
// method configuration under "kmsKeyArn".
func RemediateLogGroupEncryption(ctx context.Context, profile *session.Profile, task *handler.Task) error {
	keyARN, _ := task.DeploymentMethod["kmsKeyArn"].(string)
	if keyARN == "" {
		return handler.Configurationf("deploymentMethod.kmsKeyArn is required for %s", task.RuleName)
	}

	logs := cloudwatchlogs.NewFromConfig(profile.Config())

	out, err := logs.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: aws.String(task.ResourceID),
	})
	if err != nil {
		return &handler.RemoteServiceError{Operation: "logs:DescribeLogGroups", Err: err}
	}

	var matches []int
	for i, lg := range out.LogGroups {
		if aws.ToString(lg.LogGroupName) == task.ResourceID {
			matches = append(matches, i)
		}
	}
	switch len(matches) {
	case 0:
		// The log group was deleted between evaluation and dispatch;
		// nothing to fix.
		return nil
	case 1:
	default:
		return &handler.SoftwareError{
			Invariant: fmt.Sprintf("log group name %q matched %d groups", task.ResourceID, len(matches)),
		}
	}
	group := out.LogGroups[matches[0]]

	if aws.ToString(group.KmsKeyId) != "" {
		return nil
	}

	tagOut, err := logs.ListTagsForResource(ctx, &cloudwatchlogs.ListTagsForResourceInput{
		ResourceArn: aws.String(trimWildcard(aws.ToString(group.Arn))),
	})
	if err == nil && exempt(tagOut.Tags, task.ManualTagName) {
		return nil
	}

	kmsClient := kms.NewFromConfig(profile.Config())
	if _, err := kmsClient.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(keyARN)}); err != nil {
		return &handler.RemoteServiceError{Operation: "kms:DescribeKey", Err: err}
	}

	if profile.Preview() {
		profile.Record("logs", "AssociateKmsKey", map[string]any{
			"LogGroupName": task.ResourceID,
			"KmsKeyId":     keyARN,
		})
		profile.Record("logs", "TagResource", map[string]any{
			"LogGroupName": task.ResourceID,
			"Tags":         task.ResourceTags,
		})
		return nil
	}

	_, err = logs.AssociateKmsKey(ctx, &cloudwatchlogs.AssociateKmsKeyInput{
		LogGroupName: aws.String(task.ResourceID),
		KmsKeyId:     aws.String(keyARN),
	})
	if err != nil {
		return &handler.RemoteServiceError{Operation: "logs:AssociateKmsKey", Err: err}
	}

	_, err = logs.TagResource(ctx, &cloudwatchlogs.TagResourceInput{
		ResourceArn: aws.String(trimWildcard(aws.ToString(group.Arn))),
		Tags:        task.ResourceTags,
	})
	if err != nil {
		return &handler.RemoteServiceError{Operation: "logs:TagResource", Err: err}
	}
	return nil
}

// trimWildcard strips the ":*" suffix DescribeLogGroups appends to ARNs;
// the tagging APIs reject it.
func trimWildcard(arn string) string {
	if len(arn) > 2 && arn[len(arn)-2:] == ":*" {
		return arn[:len(arn)-2]
	}
	return arn
}
