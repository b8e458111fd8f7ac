package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/segmentio/kafka-go"

	"go_trial/littlelemon/logging"
	"go_trial/littlelemon/middleware/logkafka"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 5 * time.Second
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// BulkFunc sends an NDJSON bulk body to the index.
type BulkFunc func(ctx context.Context, index string, body []byte) error

// LogShipper moves access log entries from a Kafka topic into an Elasticsearch
// index in batches. Offsets are committed only after the batch was indexed.
type LogShipper struct {
	reader       messageReader
	bulk         BulkFunc
	index        string
	batchSize    int
	batchTimeout time.Duration
	now          func() time.Time
	log          *slog.Logger
}

type ShipperConfig struct {
	Brokers      []string
	Topic        string
	GroupID      string
	ESAddresses  []string
	Index        string
	BatchSize    int
	BatchTimeout time.Duration
}

// NewLogShipper wires a consumer-group reader to an Elasticsearch client.
func NewLogShipper(cfg ShipperConfig, log *slog.Logger) (*LogShipper, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: cfg.ESAddresses})
	if err != nil {
		return nil, fmt.Errorf("error creating Elasticsearch client: %w", err)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})
	s := newLogShipper(reader, ESBulk(es), cfg.Index, log)
	if cfg.BatchSize > 0 {
		s.batchSize = cfg.BatchSize
	}
	if cfg.BatchTimeout > 0 {
		s.batchTimeout = cfg.BatchTimeout
	}
	return s, nil
}

func newLogShipper(reader messageReader, bulk BulkFunc, index string, log *slog.Logger) *LogShipper {
	if log == nil {
		log = logging.Discard()
	}
	return &LogShipper{
		reader:       reader,
		bulk:         bulk,
		index:        index,
		batchSize:    defaultBatchSize,
		batchTimeout: defaultBatchTimeout,
		now:          time.Now,
		log:          log,
	}
}

// ESBulk posts bodies with the Elasticsearch bulk API.
func ESBulk(es *elasticsearch.Client) BulkFunc {
	return func(ctx context.Context, index string, body []byte) error {
		res, err := es.Bulk(bytes.NewReader(body), es.Bulk.WithIndex(index), es.Bulk.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("bulk index: %w", err)
		}
		defer res.Body.Close()
		if res.IsError() {
			msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
			return fmt.Errorf("bulk index: %s: %s", res.Status(), msg)
		}
		return nil
	}
}

// Run ships until ctx is cancelled, flushing whenever a batch fills up or the
// batch timeout passes. The pending batch is flushed before Run returns.
func (s *LogShipper) Run(ctx context.Context) error {
	msgs := make(chan kafka.Message)
	fetchErr := make(chan error, 1)
	go func() {
		defer close(msgs)
		for {
			m, err := s.reader.FetchMessage(ctx)
			if err != nil {
				fetchErr <- err
				return
			}
			select {
			case msgs <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	s.log.Info("starting Kafka to Elasticsearch shipper", logging.Action("logship"), slog.String("index", s.index))
	ticker := time.NewTicker(s.batchTimeout)
	defer ticker.Stop()

	batch := make([]kafka.Message, 0, s.batchSize)
	for {
		// A full batch that failed to flush stops intake until the ticker retry succeeds.
		in, done := msgs, (<-chan struct{})(nil)
		if len(batch) >= s.batchSize {
			in, done = nil, ctx.Done()
		}
		select {
		case m, ok := <-in:
			if !ok {
				if len(batch) > 0 {
					_ = s.flush(context.WithoutCancel(ctx), batch)
				}
				select {
				case err := <-fetchErr:
					if ctx.Err() == nil && !errors.Is(err, io.EOF) {
						return fmt.Errorf("kafka read: %w", err)
					}
				default:
				}
				return nil
			}
			batch = append(batch, m)
			if len(batch) >= s.batchSize {
				if s.flush(ctx, batch) == nil {
					batch = batch[:0]
				}
				ticker.Reset(s.batchTimeout)
			}
		case <-done:
			_ = s.flush(context.WithoutCancel(ctx), batch)
			return nil
		case <-ticker.C:
			if len(batch) > 0 && s.flush(ctx, batch) == nil {
				batch = batch[:0]
			}
		}
	}
}

// flush indexes batch and commits its offsets. A failed bulk keeps the batch for
// the next attempt.
func (s *LogShipper) flush(ctx context.Context, batch []kafka.Message) error {
	body, n := s.bulkBody(batch)
	if n > 0 {
		if err := s.bulk(ctx, s.index, body); err != nil {
			s.log.Error("bulk index failed", logging.Action("logship"), slog.Int("batch", len(batch)), logging.Err(err))
			return err
		}
	}
	if err := s.reader.CommitMessages(ctx, batch...); err != nil {
		s.log.Error("commit offsets failed", logging.Action("logship"), logging.Err(err))
		return err
	}
	s.log.Debug("batch shipped", logging.Action("logship"), slog.Int("documents", n))
	return nil
}

// bulkBody renders the NDJSON body. Messages that are not log entries are skipped.
func (s *LogShipper) bulkBody(batch []kafka.Message) ([]byte, int) {
	var buf bytes.Buffer
	n := 0
	for _, m := range batch {
		var entry logkafka.LogEntry
		if err := json.Unmarshal(m.Value, &entry); err != nil {
			s.log.Warn("skipping undecodable log entry", logging.Action("logship"),
				slog.Int64("offset", m.Offset), logging.Err(err))
			continue
		}
		if entry.Timestamp == "" {
			entry.Timestamp = s.now().UTC().Format(time.RFC3339Nano)
		}
		doc, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		buf.WriteString("{\"index\":{}}\n")
		buf.Write(doc)
		buf.WriteByte('\n')
		n++
	}
	return buf.Bytes(), n
}

func (s *LogShipper) Close() error {
	return s.reader.Close()
}
