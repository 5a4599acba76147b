//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
)

var t0 = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node KRaft broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("nitrate-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func daily(i int) float64 {
	return 8 + 2*math.Sin(2*math.Pi*float64(i)/24)
}

// fixtureSeries is 20 days of a daily nitrate cycle plus a rain series that
// leads it by 14 hours.
func fixtureSeries() []domain.RawSeries {
	const n = 480
	nitrate := domain.RawSeries{Name: "nitrate", Policy: domain.PolicyMean, Frequency: time.Hour}
	rain := domain.RawSeries{Name: "rain", Policy: domain.PolicyMean, Frequency: time.Hour}
	for i := range n {
		at := t0.Add(time.Duration(i) * time.Hour)
		nitrate.Observations = append(nitrate.Observations, domain.Observation{Time: at, Value: daily(i)})
		rain.Observations = append(rain.Observations, domain.Observation{Time: at, Value: daily(i+14) + 0.1*math.Cos(float64(i))})
	}
	return []domain.RawSeries{nitrate, rain}
}
