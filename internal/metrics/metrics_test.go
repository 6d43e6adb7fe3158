package metrics

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, f.err
}

func testPublisher(client CloudWatchAPI, dimensions []string) *Publisher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPublisher(client, "Remediator", dimensions, logger)
}

func TestCount_NamespaceAndMetricName(t *testing.T) {
	cw := &fakeCloudWatch{}
	p := testPublisher(cw, []string{"account"})

	err := p.Count(context.Background(), "remediate", "Success", "Ok", map[string]string{"account": "123456789012"})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if len(cw.inputs) != 1 {
		t.Fatalf("PutMetricData called %d times, want 1", len(cw.inputs))
	}

	in := cw.inputs[0]
	if got := aws.ToString(in.Namespace); got != "Remediator/Remediate" {
		t.Errorf("namespace = %q, want Remediator/Remediate", got)
	}
	if len(in.MetricData) != 1 {
		t.Fatalf("metric data = %d datums, want 1", len(in.MetricData))
	}
	d := in.MetricData[0]
	if got := aws.ToString(d.MetricName); got != "Success.Ok" {
		t.Errorf("metric name = %q, want Success.Ok", got)
	}
	if aws.ToFloat64(d.Value) != 1 {
		t.Errorf("value = %v, want 1", aws.ToFloat64(d.Value))
	}
}

func TestExpandDimensions(t *testing.T) {
	render := func(sets [][]cwtypes.Dimension) [][]string {
		out := make([][]string, 0, len(sets))
		for _, set := range sets {
			row := make([]string, 0, len(set))
			for _, d := range set {
				row = append(row, aws.ToString(d.Name)+"="+aws.ToString(d.Value))
			}
			out = append(out, row)
		}
		return out
	}

	tests := []struct {
		name  string
		paths []string
		dims  map[string]string
		want  [][]string
	}{
		{
			name:  "single values",
			paths: []string{"account", "region"},
			dims:  map[string]string{"account": "a1", "region": "eu-west-1"},
			want:  [][]string{{"account=a1", "region=eu-west-1"}},
		},
		{
			name:  "missing path skipped",
			paths: []string{"account", "team"},
			dims:  map[string]string{"account": "a1"},
			want:  [][]string{{"account=a1"}},
		},
		{
			name:  "multi-value splits into product",
			paths: []string{"account", "team"},
			dims:  map[string]string{"account": "a1", "team": "blue+red"},
			want: [][]string{
				{"account=a1", "team=blue"},
				{"account=a1", "team=red"},
			},
		},
		{
			name:  "two multi-value dimensions",
			paths: []string{"team", "env"},
			dims:  map[string]string{"team": "blue+red", "env": "prod+test"},
			want: [][]string{
				{"team=blue", "env=prod"},
				{"team=blue", "env=test"},
				{"team=red", "env=prod"},
				{"team=red", "env=test"},
			},
		},
		{
			name:  "no configured paths",
			paths: nil,
			dims:  map[string]string{"account": "a1"},
			want:  [][]string{{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := render(ExpandDimensions(tt.paths, tt.dims))
			if len(got) != len(tt.want) {
				t.Fatalf("sets = %v, want %v", got, tt.want)
			}
			for i := range got {
				if len(got[i]) != len(tt.want[i]) {
					t.Fatalf("set %d = %v, want %v", i, got[i], tt.want[i])
				}
				for j := range got[i] {
					if got[i][j] != tt.want[i][j] {
						t.Errorf("set %d = %v, want %v", i, got[i], tt.want[i])
					}
				}
			}
		})
	}
}

func TestCount_OneDatumPerDimensionSet(t *testing.T) {
	cw := &fakeCloudWatch{}
	p := testPublisher(cw, []string{"account", "team"})

	err := p.Count(context.Background(), "remediate", "Failure", "RemoteApi", map[string]string{
		"account": "123456789012",
		"team":    "blue+green+red",
	})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if got := len(cw.inputs[0].MetricData); got != 3 {
		t.Errorf("metric data = %d datums, want 3", got)
	}
}
