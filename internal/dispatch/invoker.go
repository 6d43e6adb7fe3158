package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// InvokeResult is the transport envelope of one synchronous handler call.
type InvokeResult struct {
	StatusCode int32
	Payload    []byte
	// FunctionError is set when the handler crashed before producing a
	// response; the dispatcher treats it like a transport failure.
	FunctionError string
}

// Invoker performs one synchronous remote handler call. Implemented by
// LambdaInvoker in production and by fakes in tests.
type Invoker interface {
	Invoke(ctx context.Context, functionName string, payload []byte) (InvokeResult, error)
}

// LambdaAPI is the subset of the Lambda client the invoker uses.
type LambdaAPI interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, opts ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaInvoker calls remediation handlers as request/response Lambda
// invocations.
type LambdaInvoker struct {
	client LambdaAPI
}

func NewLambdaInvoker(client LambdaAPI) *LambdaInvoker {
	return &LambdaInvoker{client: client}
}

func (l *LambdaInvoker) Invoke(ctx context.Context, functionName string, payload []byte) (InvokeResult, error) {
	out, err := l.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(functionName),
		InvocationType: lambdatypes.InvocationTypeRequestResponse,
		Payload:        payload,
	})
	if err != nil {
		return InvokeResult{}, fmt.Errorf("invoking %s: %w", functionName, err)
	}

	return InvokeResult{
		StatusCode:    out.StatusCode,
		Payload:       out.Payload,
		FunctionError: aws.ToString(out.FunctionError),
	}, nil
}
