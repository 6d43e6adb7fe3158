package rules

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/qualys/remediator/internal/handler"
	"github.com/qualys/remediator/internal/session"
)

// RemediateBucketPublicAccess applies the full S3 public access block to a
// bucket reported as publicly accessible.
func RemediateBucketPublicAccess(ctx context.Context, profile *session.Profile, task *handler.Task) error {
	client := s3.NewFromConfig(profile.Config())
	bucket := task.ResourceID

	current, err := client.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{
		Bucket: aws.String(bucket),
	})
	if err != nil && !isErrorCode(err, "NoSuchPublicAccessBlockConfiguration") {
		if isErrorCode(err, "NoSuchBucket") {
			// Bucket deleted between evaluation and dispatch.
			return nil
		}
		return &handler.RemoteServiceError{Operation: "s3:GetPublicAccessBlock", Err: err}
	}

	if current != nil && fullyBlocked(current.PublicAccessBlockConfiguration) {
		return nil
	}

	tags, err := bucketTags(ctx, client, bucket)
	if err != nil {
		return err
	}
	if exempt(tags, task.ManualTagName) {
		return nil
	}

	if profile.Preview() {
		profile.Record("s3", "PutPublicAccessBlock", map[string]any{
			"Bucket":                bucket,
			"BlockPublicAcls":       true,
			"IgnorePublicAcls":      true,
			"BlockPublicPolicy":     true,
			"RestrictPublicBuckets": true,
		})
		return nil
	}

	_, err = client.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
		Bucket: aws.String(bucket),
		PublicAccessBlockConfiguration: &s3types.PublicAccessBlockConfiguration{
			BlockPublicAcls:       aws.Bool(true),
			IgnorePublicAcls:      aws.Bool(true),
			BlockPublicPolicy:     aws.Bool(true),
			RestrictPublicBuckets: aws.Bool(true),
		},
	})
	if err != nil {
		return &handler.RemoteServiceError{Operation: "s3:PutPublicAccessBlock", Err: err}
	}

	return tagBucket(ctx, client, bucket, tags, task.ResourceTags)
}

func fullyBlocked(cfg *s3types.PublicAccessBlockConfiguration) bool {
	return cfg != nil &&
		aws.ToBool(cfg.BlockPublicAcls) &&
		aws.ToBool(cfg.IgnorePublicAcls) &&
		aws.ToBool(cfg.BlockPublicPolicy) &&
		aws.ToBool(cfg.RestrictPublicBuckets)
}

func bucketTags(ctx context.Context, client *s3.Client, bucket string) (map[string]string, error) {
	out, err := client.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		if isErrorCode(err, "NoSuchTagSet") {
			return map[string]string{}, nil
		}
		return nil, &handler.RemoteServiceError{Operation: "s3:GetBucketTagging", Err: err}
	}

	tags := make(map[string]string, len(out.TagSet))
	for _, t := range out.TagSet {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return tags, nil
}

// tagBucket merges the auto-applied tags into the bucket's existing tag set;
// PutBucketTagging replaces the whole set, so existing tags must ride along.
func tagBucket(ctx context.Context, client *s3.Client, bucket string, existing, auto map[string]string) error {
	merged := make(map[string]string, len(existing)+len(auto))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range auto {
		merged[k] = v
	}

	tagSet := make([]s3types.Tag, 0, len(merged))
	for k, v := range merged {
		tagSet = append(tagSet, s3types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	_, err := client.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
		Bucket:  aws.String(bucket),
		Tagging: &s3types.Tagging{TagSet: tagSet},
	})
	if err != nil {
		return &handler.RemoteServiceError{Operation: "s3:PutBucketTagging", Err: err}
	}
	return nil
}

func isErrorCode(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
