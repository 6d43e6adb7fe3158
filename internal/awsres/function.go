package awsres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/qualys/remediator/internal/reconcile"
	"github.com/qualys/remediator/internal/session"
)

// Function attribute keys.
const (
	FnAttrHandler = "Handler"
	FnAttrRuntime = "Runtime"
	FnAttrRole    = "Role"
	FnAttrTimeout = "TimeoutSeconds"
	FnAttrMemory  = "MemorySizeMB"
)

// LambdaFnAPI is the subset of the Lambda client the function resource
// uses.
type LambdaFnAPI interface {
	GetFunctionConfiguration(ctx context.Context, in *lambda.GetFunctionConfigurationInput, opts ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error)
	CreateFunction(ctx context.Context, in *lambda.CreateFunctionInput, opts ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error)
	UpdateFunctionConfiguration(ctx context.Context, in *lambda.UpdateFunctionConfigurationInput, opts ...func(*lambda.Options)) (*lambda.UpdateFunctionConfigurationOutput, error)
	DeleteFunction(ctx context.Context, in *lambda.DeleteFunctionInput, opts ...func(*lambda.Options)) (*lambda.DeleteFunctionOutput, error)
}

// Function declares Lambda functions. The deployment package location is
// fixed at construction; only configuration attributes are reconciled.
type Function struct {
	client   LambdaFnAPI
	profile  *session.Profile
	logger   *slog.Logger
	s3Bucket string
	s3Key    string
}

func NewFunction(profile *session.Profile, s3Bucket, s3Key string, logger *slog.Logger) *Function {
	return &Function{
		client:   lambda.NewFromConfig(profile.Config()),
		profile:  profile,
		logger:   logger,
		s3Bucket: s3Bucket,
		s3Key:    s3Key,
	}
}

// Declare converges the named function's configuration and returns its ARN.
func (f *Function) Declare(ctx context.Context, name string, required reconcile.Attributes) (string, error) {
	return reconcile.Declare(ctx, f, name, required, f.logger)
}

func (f *Function) Kind() string { return "lambda-function" }

func (f *Function) Load(ctx context.Context, name string) (reconcile.Attributes, string, error) {
	out, err := f.client.GetFunctionConfiguration(ctx, &lambda.GetFunctionConfigurationInput{
		FunctionName: aws.String(name),
	})
	if err != nil {
		var notFound *lambdatypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, "", nil
		}
		return nil, "", err
	}

	return reconcile.Attributes{
		FnAttrHandler: aws.ToString(out.Handler),
		FnAttrRuntime: string(out.Runtime),
		FnAttrRole:    aws.ToString(out.Role),
		FnAttrTimeout: int(aws.ToInt32(out.Timeout)),
		FnAttrMemory:  int(aws.ToInt32(out.MemorySize)),
	}, aws.ToString(out.FunctionArn), nil
}

func (f *Function) Create(ctx context.Context, name string, attrs reconcile.Attributes) (string, error) {
	if f.profile.Preview() {
		f.profile.Record("lambda", "CreateFunction", map[string]any{"FunctionName": name})
		return "arn:aws:lambda:::function:" + name, nil
	}

	in := &lambda.CreateFunctionInput{
		FunctionName: aws.String(name),
		Handler:      aws.String(stringAttr(attrs, FnAttrHandler)),
		Runtime:      lambdatypes.Runtime(stringAttr(attrs, FnAttrRuntime)),
		Role:         aws.String(stringAttr(attrs, FnAttrRole)),
		Code: &lambdatypes.FunctionCode{
			S3Bucket: aws.String(f.s3Bucket),
			S3Key:    aws.String(f.s3Key),
		},
	}
	if secs, ok := attrs[FnAttrTimeout].(int); ok && secs > 0 {
		in.Timeout = aws.Int32(int32(secs))
	}
	if mb, ok := attrs[FnAttrMemory].(int); ok && mb > 0 {
		in.MemorySize = aws.Int32(int32(mb))
	}

	out, err := f.client.CreateFunction(ctx, in)
	if err != nil {
		return "", err
	}
	return aws.ToString(out.FunctionArn), nil
}

func (f *Function) Update(ctx context.Context, name string, delta reconcile.Attributes) error {
	if f.profile.Preview() {
		f.profile.Record("lambda", "UpdateFunctionConfiguration", map[string]any{
			"FunctionName": name,
			"Changes":      delta,
		})
		return nil
	}

	in := &lambda.UpdateFunctionConfigurationInput{FunctionName: aws.String(name)}
	if v, ok := delta[FnAttrHandler]; ok {
		in.Handler = aws.String(v.(string))
	}
	if v, ok := delta[FnAttrRuntime]; ok {
		in.Runtime = lambdatypes.Runtime(v.(string))
	}
	if v, ok := delta[FnAttrRole]; ok {
		in.Role = aws.String(v.(string))
	}
	if v, ok := delta[FnAttrTimeout].(int); ok {
		in.Timeout = aws.Int32(int32(v))
	}
	if v, ok := delta[FnAttrMemory].(int); ok {
		in.MemorySize = aws.Int32(int32(v))
	}

	_, err := f.client.UpdateFunctionConfiguration(ctx, in)
	return err
}

// Remove deletes the named function. A function that does not exist is not
// an error.
func (f *Function) Remove(ctx context.Context, name string) error {
	if f.profile.Preview() {
		f.profile.Record("lambda", "DeleteFunction", map[string]any{"FunctionName": name})
		return nil
	}

	_, err := f.client.DeleteFunction(ctx, &lambda.DeleteFunctionInput{
		FunctionName: aws.String(name),
	})
	if err != nil {
		var notFound *lambdatypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil
		}
	}
	return err
}

func (f *Function) Normalizers() map[string]reconcile.Normalizer {
	return nil
}
