package logger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
)

type fakePutter struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakePutter) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestLogMetricPublishesNumericValue(t *testing.T) {
	log := New()
	log.SetOutput(io.Discard)

	putter := &fakePutter{}
	log.cw = &cwPublisher{client: putter, namespace: "Test"}

	log.LogMetric("aggregator", "buckets_upserted", 3, "counter", Fields{"symbol": "BTCUSDT"})

	if len(putter.inputs) != 1 {
		t.Fatalf("got %d publishes, want 1", len(putter.inputs))
	}
	input := putter.inputs[0]
	if *input.Namespace != "Test" {
		t.Errorf("namespace = %s, want Test", *input.Namespace)
	}
	if len(input.MetricData) != 1 {
		t.Fatalf("got %d data points, want 1", len(input.MetricData))
	}
	datum := input.MetricData[0]
	if *datum.MetricName != "buckets_upserted" {
		t.Errorf("metric name = %s, want buckets_upserted", *datum.MetricName)
	}
	if *datum.Value != 3 {
		t.Errorf("value = %f, want 3", *datum.Value)
	}

	dims := make(map[string]string)
	for _, d := range datum.Dimensions {
		dims[*d.Name] = *d.Value
	}
	if dims["component"] != "aggregator" {
		t.Errorf("component dimension = %q, want aggregator", dims["component"])
	}
	if dims["symbol"] != "BTCUSDT" {
		t.Errorf("symbol dimension = %q, want BTCUSDT", dims["symbol"])
	}
	if _, ok := dims["metric"]; ok {
		t.Error("metric bookkeeping field must not become a dimension")
	}
}

func TestLogMetricSkipsNonNumericValue(t *testing.T) {
	log := New()
	log.SetOutput(io.Discard)

	putter := &fakePutter{}
	log.cw = &cwPublisher{client: putter, namespace: "Test"}

	log.LogMetric("aggregator", "state", "degraded", "gauge", nil)

	if len(putter.inputs) != 0 {
		t.Errorf("got %d publishes, want 0 for non-numeric value", len(putter.inputs))
	}
}

func TestLogMetricWithoutPublisher(t *testing.T) {
	log := New()
	log.SetOutput(io.Discard)

	// Must not panic and must not publish anywhere.
	log.LogMetric("aggregator", "buckets_upserted", 3, "counter", nil)
}

func TestLogMetricPublishFailureLogged(t *testing.T) {
	log := New()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.cw = &cwPublisher{client: &fakePutter{err: fmt.Errorf("throttled")}, namespace: "Test"}

	log.LogMetric("aggregator", "buckets_upserted", 3, "counter", nil)

	if !strings.Contains(buf.String(), "failed to publish metric to CloudWatch") {
		t.Errorf("publish failure was not logged, output: %s", buf.String())
	}
}
