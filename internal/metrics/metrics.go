// Package metrics records remediation outcomes as CloudWatch counters.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// multiValueSeparator splits a dimension value carrying several values, e.g.
// a tag of "team-a+team-b" yields one dimension set per team.
const multiValueSeparator = "+"

// CloudWatchAPI is the subset of the CloudWatch client the publisher uses.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Publisher emits one counter per terminal invocation outcome. The metric
// namespace is derived from the action, the metric name from the outcome's
// major and minor codes, and one datum is published per expanded dimension
// set.
type Publisher struct {
	client     CloudWatchAPI
	namespace  string
	dimensions []string
	logger     *slog.Logger
}

func NewPublisher(client CloudWatchAPI, namespace string, dimensions []string, logger *slog.Logger) *Publisher {
	return &Publisher{
		client:     client,
		namespace:  namespace,
		dimensions: dimensions,
		logger:     logger,
	}
}

// Count publishes a value-1 counter named major.minor under the namespace
// derived from action. dims maps configured dimension paths to values; a
// value containing the multi-value separator is split and the Cartesian
// product of all splits is published.
func (p *Publisher) Count(ctx context.Context, action, major, minor string, dims map[string]string) error {
	name := major + "." + minor
	namespace := fmt.Sprintf("%s/%s", p.namespace, title(action))

	sets := ExpandDimensions(p.dimensions, dims)
	data := make([]cwtypes.MetricDatum, 0, len(sets))
	for _, set := range sets {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: set,
		})
	}

	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(namespace),
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("publishing metric %s: %w", name, err)
	}

	p.logger.Debug("metric published",
		"namespace", namespace,
		"metric", name,
		"dimension_sets", len(sets))
	return nil
}

// ExpandDimensions builds the Cartesian product of dimension values over the
// configured paths. Paths absent from dims are skipped; single-valued
// dimensions contribute exactly one value to every set.
func ExpandDimensions(paths []string, dims map[string]string) [][]cwtypes.Dimension {
	sets := [][]cwtypes.Dimension{{}}
	for _, path := range paths {
		value, ok := dims[path]
		if !ok || value == "" {
			continue
		}
		values := strings.Split(value, multiValueSeparator)
		sort.Strings(values)

		next := make([][]cwtypes.Dimension, 0, len(sets)*len(values))
		for _, set := range sets {
			for _, v := range values {
				grown := make([]cwtypes.Dimension, len(set), len(set)+1)
				copy(grown, set)
				grown = append(grown, cwtypes.Dimension{
					Name:  aws.String(path),
					Value: aws.String(v),
				})
				next = append(next, grown)
			}
		}
		sets = next
	}
	return sets
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
