package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/nitrate-forecast/internal/config"
	"github.com/couchcryptid/nitrate-forecast/internal/domain"
)

// messageWriter is the subset of *kafkago.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// ForecastMessage is one published forecast row.
type ForecastMessage struct {
	RunID  string `json:"run_id"`
	Target string `json:"target"`
	domain.ReportRow
}

// Writer produces forecast rows to a Kafka topic.
// It implements pipeline.ReportSink.
type Writer struct {
	writer    messageWriter
	logger    *slog.Logger
	batchSize int
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: cfg.BatchFlushInterval,
	}
	return &Writer{writer: w, logger: logger, batchSize: cfg.BatchSize}
}

// WriteReport publishes every forecast row of rep, batchSize messages per
// WriteMessages call. Rows are keyed by window so a window's rows share a
// partition and keep their order.
func (w *Writer) WriteReport(ctx context.Context, rep *domain.EvaluationReport) error {
	rows := rep.Rows()
	if len(rows) == 0 {
		return nil
	}
	batch := max(w.batchSize, 1)
	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))
		msgs := make([]kafkago.Message, 0, end-start)
		for _, row := range rows[start:end] {
			msg, err := serializeToMessage(rep, row)
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("publish forecast rows: %w", err)
		}
	}
	w.logger.Info("forecast rows published", "rows", len(rows), "run_id", rep.RunID)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals one report row into a Kafka message.
func serializeToMessage(rep *domain.EvaluationReport, row domain.ReportRow) (kafkago.Message, error) {
	data, err := json.Marshal(ForecastMessage{RunID: rep.RunID, Target: rep.Target, ReportRow: row})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize forecast row: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(rep.RunID + "/" + strconv.Itoa(row.WindowIndex)),
		Value: data,
		Time:  row.Timestamp,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(rep.RunID)},
			{Key: "target", Value: []byte(rep.Target)},
			{Key: "generated_at", Value: []byte(rep.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}
