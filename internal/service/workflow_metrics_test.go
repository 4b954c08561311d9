package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/pesio-ai/be-qms-documents/internal/errors"
	"github.com/pesio-ai/be-qms-documents/internal/tracing"
)

// decisionCounts collects qms.workflow.decisions keyed by action/outcome.
func decisionCounts(t *testing.T, reader sdkmetric.Reader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "qms.workflow.decisions" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "unexpected data type %T", m.Data)
			for _, dp := range sum.DataPoints {
				action, _ := dp.Attributes.Value(attribute.Key("action"))
				outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
				got[action.AsString()+"/"+outcome.AsString()] = dp.Value
			}
		}
	}
	return got
}

func TestEngineCountsDecisionsByOutcome(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	require.NoError(t, tracing.InitMetricsWithReader("qms-documents-test", "test", reader))

	f := newFixture(t, roleGate{})
	wf := f.workflow(t, "role_qa")
	doc, version := f.draft(t, "SOP-050", true)
	task := f.submit(t, doc, version, wf).NextTask

	_, err := f.engine.Approve(context.Background(), DecisionRequest{
		CompanyID: company,
		TaskID:    task.ID,
		ActorID:   holder("role_mgr"),
	})
	assertCode(t, err, errors.ErrCodeUnauthorized)
	f.approve(t, task)

	got := decisionCounts(t, reader)
	assert.Equal(t, int64(1), got["submit/ok"])
	assert.Equal(t, int64(1), got["approve/ok"])
	assert.Equal(t, int64(1), got["approve/UNAUTHORIZED"])
}
