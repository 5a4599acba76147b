package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/nitrate-forecast/internal/config"
	"github.com/couchcryptid/nitrate-forecast/internal/domain"
)

// messageReader is the subset of *kafkago.Reader the source uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// ObservationMessage is the wire format of one historian reading. The value
// is kept raw so every historian shape goes through domain.NormalizeValue.
type ObservationMessage struct {
	Series    string          `json:"series"`
	Timestamp time.Time       `json:"timestamp"`
	Value     json.RawMessage `json:"value"`
	Unit      string          `json:"unit,omitempty"`
	Policy    string          `json:"policy,omitempty"`
	Role      string          `json:"role,omitempty"`
}

// Reader consumes observation messages from a Kafka topic.
// It implements pipeline.SeriesSource. Readings are kept across calls, so
// every run sees the retained history and not only the latest increment.
type Reader struct {
	reader      messageReader
	logger      *slog.Logger
	idleTimeout time.Duration
	batchSize   int
	acc         *seriesAccumulator
	start       time.Time
	history     time.Duration
}

// NewReader creates a Kafka consumer for the configured source topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaSourceTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  cfg.BatchFlushInterval,
	})
	return &Reader{
		reader:      r,
		logger:      logger,
		idleTimeout: cfg.KafkaIdleTimeout,
		batchSize:   cfg.BatchSize,
		acc:         newSeriesAccumulator(),
		start:       cfg.StudyStart,
		history:     cfg.KafkaHistory,
	}
}

// LoadSeries drains the topic until no message arrives for the idle timeout,
// adds the readings to the retained history and commits the consumed offsets.
// Malformed messages are logged, committed and skipped. History older than
// the study start, or than the history window before the newest reading, is
// dropped.
func (r *Reader) LoadSeries(ctx context.Context) ([]domain.RawSeries, error) {
	consumed := 0
	pending := make([]kafkago.Message, 0, max(r.batchSize, 1))

	backoff := 200 * time.Millisecond
	const maxBackoff = 5 * time.Second
	for {
		fetchCtx, cancel := context.WithTimeout(ctx, r.idleTimeout)
		msg, err := r.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			r.logger.Error("fetch message failed", "error", err)
			if !retry.SleepWithContext(ctx, backoff) {
				return nil, ctx.Err()
			}
			backoff = retry.NextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = 200 * time.Millisecond

		if err := r.acc.add(msg); err != nil {
			r.logger.Warn("decode observation failed, skipping message",
				"error", err,
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
		} else {
			consumed++
		}
		pending = append(pending, msg)
		if len(pending) >= r.batchSize {
			if err := r.commit(ctx, pending); err != nil {
				return nil, err
			}
			pending = pending[:0]
		}
	}
	if err := r.commit(ctx, pending); err != nil {
		return nil, err
	}

	dropped := r.acc.trim(r.start, r.history)
	series := r.acc.series()
	r.logger.Info("observations consumed",
		"series", len(series),
		"new", consumed,
		"retained", r.acc.len(),
		"dropped", dropped,
	)
	return series, nil
}

func (r *Reader) commit(ctx context.Context, msgs []kafkago.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := r.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	return nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

type seriesAccumulator struct {
	byName map[string]*domain.RawSeries
}

func newSeriesAccumulator() *seriesAccumulator {
	return &seriesAccumulator{byName: make(map[string]*domain.RawSeries)}
}

func (a *seriesAccumulator) add(msg kafkago.Message) error {
	m, err := decodeObservation(msg)
	if err != nil {
		return err
	}
	s, ok := a.byName[m.Series]
	if !ok {
		s = &domain.RawSeries{Name: m.Series}
		a.byName[m.Series] = s
	}
	if m.Unit != "" {
		s.Unit = m.Unit
	}
	if m.Policy != "" {
		if p, err := domain.ParseAggregationPolicy(m.Policy); err == nil {
			s.Policy = p
		}
	}
	if m.Role != "" {
		if role, err := domain.ParseRole(m.Role); err == nil {
			s.Role = role
		}
	}
	v, label, _ := domain.NormalizeValue(m.Value)
	s.Observations = append(s.Observations, domain.Observation{Time: m.Timestamp.UTC(), Value: v, Label: label})
	return nil
}

// trim drops readings before start and, when history is positive, readings
// older than history before the newest one. It returns the number dropped.
func (a *seriesAccumulator) trim(start time.Time, history time.Duration) int {
	floor := start
	if history > 0 {
		var newest time.Time
		for _, s := range a.byName {
			for _, o := range s.Observations {
				if o.Time.After(newest) {
					newest = o.Time
				}
			}
		}
		if h := newest.Add(-history); !newest.IsZero() && h.After(floor) {
			floor = h
		}
	}
	if floor.IsZero() {
		return 0
	}
	dropped := 0
	for name, s := range a.byName {
		kept := s.Observations[:0]
		for _, o := range s.Observations {
			if o.Time.Before(floor) {
				dropped++
				continue
			}
			kept = append(kept, o)
		}
		s.Observations = kept
		if len(kept) == 0 {
			delete(a.byName, name)
		}
	}
	return dropped
}

func (a *seriesAccumulator) len() int {
	n := 0
	for _, s := range a.byName {
		n += len(s.Observations)
	}
	return n
}

// series returns copies of the accumulated series in name order.
func (a *seriesAccumulator) series() []domain.RawSeries {
	out := make([]domain.RawSeries, 0, len(a.byName))
	for _, s := range a.byName {
		c := *s
		c.Observations = slices.Clone(s.Observations)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// decodeObservation parses a message. The series name falls back to the
// message key, and the timestamp to the message time.
func decodeObservation(msg kafkago.Message) (ObservationMessage, error) {
	var m ObservationMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		return ObservationMessage{}, fmt.Errorf("unmarshal observation: %w", err)
	}
	if m.Series == "" {
		m.Series = string(msg.Key)
	}
	if m.Series == "" {
		return ObservationMessage{}, errors.New("observation without series name")
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = msg.Time
	}
	if m.Timestamp.IsZero() {
		return ObservationMessage{}, errors.New("observation without timestamp")
	}
	return m, nil
}
