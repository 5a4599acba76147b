//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nitrate-forecast/internal/adapter/kafka"
	"github.com/couchcryptid/nitrate-forecast/internal/align"
	"github.com/couchcryptid/nitrate-forecast/internal/config"
	"github.com/couchcryptid/nitrate-forecast/internal/domain"
	"github.com/couchcryptid/nitrate-forecast/internal/evaluate"
	"github.com/couchcryptid/nitrate-forecast/internal/gaps"
	"github.com/couchcryptid/nitrate-forecast/internal/model"
	"github.com/couchcryptid/nitrate-forecast/internal/observability"
	"github.com/couchcryptid/nitrate-forecast/internal/pipeline"
)

const (
	testSourceTopic = "test-observations"
	testSinkTopic   = "test-forecasts"
)

func testConfig(broker, group string) *config.Config {
	return &config.Config{
		KafkaBrokers:       []string{broker},
		KafkaSourceTopic:   testSourceTopic,
		KafkaSinkTopic:     testSinkTopic,
		KafkaGroupID:       fmt.Sprintf("%s-%d", group, time.Now().UnixNano()),
		KafkaIdleTimeout:   15 * time.Second,
		BatchSize:          100,
		BatchFlushInterval: 500 * time.Millisecond,
	}
}

// publishSeries writes one observation message per reading.
func publishSeries(ctx context.Context, t *testing.T, broker string, series []domain.RawSeries) int {
	t.Helper()
	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testSourceTopic, BatchSize: 500}
	t.Cleanup(func() { _ = producer.Close() })

	var msgs []kafkago.Message
	for _, s := range series {
		for _, o := range s.Observations {
			payload, err := json.Marshal(map[string]any{
				"series":    s.Name,
				"timestamp": o.Time,
				"value":     o.Value,
				"policy":    string(s.Policy),
			})
			require.NoError(t, err)
			msgs = append(msgs, kafkago.Message{Key: []byte(s.Name), Value: payload})
		}
	}
	require.NoError(t, producer.WriteMessages(ctx, msgs...))
	return len(msgs)
}

func readForecasts(ctx context.Context, t *testing.T, broker string, want int) []kafka.ForecastMessage {
	t.Helper()
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-sink-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	out := make([]kafka.ForecastMessage, 0, want)
	for len(out) < want {
		readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		msg, err := consumer.ReadMessage(readCtx)
		cancel()
		require.NoError(t, err, "read from sink topic")

		var fm kafka.ForecastMessage
		require.NoError(t, json.Unmarshal(msg.Value, &fm))
		out = append(out, fm)
	}
	return out
}

// TestKafkaReaderWriter round-trips observations and forecast rows through
// the adapters without the pipeline.
func TestKafkaReaderWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)
	cfg := testConfig(broker, "test-reader")

	n := publishSeries(ctx, t, broker, fixtureSeries())
	require.Equal(t, 960, n)

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	series, err := reader.LoadSeries(ctx)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "nitrate", series[0].Name)
	assert.Len(t, series[0].Observations, 480)
	assert.Equal(t, t0, series[0].Observations[0].Time)

	realized := 8.0
	rep := &domain.EvaluationReport{
		RunID:       "run-1",
		Target:      "nitrate",
		GeneratedAt: t0,
		Forecasts: []domain.WindowForecast{{
			Window: domain.ForecastWindow{Index: 0},
			Result: domain.ForecastResult{Points: []domain.ForecastPoint{{Time: t0, Predicted: 8.5, Lower: 8, Upper: 9, Realized: &realized}}},
		}},
	}
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })
	require.NoError(t, writer.WriteReport(ctx, rep))

	got := readForecasts(ctx, t, broker, 1)
	assert.Equal(t, "run-1", got[0].RunID)
	assert.InDelta(t, 8.5, got[0].Predicted, 1e-12)
	require.NotNil(t, got[0].AbsoluteError)
	assert.InDelta(t, 0.5, *got[0].AbsoluteError, 1e-12)
}

// TestPipelineEndToEnd runs a full forecast run from the observation topic to
// the forecast topic.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)
	cfg := testConfig(broker, "test-pipeline")

	publishSeries(ctx, t, broker, fixtureSeries())

	// A poison pill is committed and skipped.
	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testSourceTopic}
	t.Cleanup(func() { _ = producer.Close() })
	require.NoError(t, producer.WriteMessages(ctx, kafkago.Message{Key: []byte("bad"), Value: []byte("not-json{{{")}))

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	m, err := model.New(model.FamilySeasonalNaive, model.DefaultSettings)
	require.NoError(t, err)
	opts := pipeline.Options{
		Grid: align.Options{Step: time.Hour},
		Eval: evaluate.Options{
			Target:      "nitrate",
			Regressors:  []domain.Regressor{{Source: "rain", Lag: 12}},
			Orders:      model.Orders{Period: 24},
			Mode:        domain.ModeRolling,
			TrainWindow: 72,
			Horizon:     12,
			StepAdvance: 24,
			Gaps:        gaps.Policy{ShortMaxSteps: 3, LongMaxSteps: 168},
			Workers:     4,
		},
	}
	p := pipeline.New(reader, pipeline.Sinks{Reports: []pipeline.ReportSink{writer}}, m, opts,
		discardLogger(), observability.NewMetricsForTesting())

	rep, err := p.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 17, rep.Summary.WindowsScored)
	assert.InDelta(t, 0, rep.Summary.Overall.RMSE, 1e-9)

	got := readForecasts(ctx, t, broker, len(rep.Rows()))
	require.Len(t, got, 204)
	windows := map[int]int{}
	for _, fm := range got {
		assert.Equal(t, rep.RunID, fm.RunID)
		assert.Equal(t, "nitrate", fm.Target)
		windows[fm.WindowIndex]++
	}
	assert.Len(t, windows, 17)
	for idx, n := range windows {
		assert.Equal(t, 12, n, "window %d", idx)
	}
}
