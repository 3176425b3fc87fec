package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"selective-alpha/internal/domain"
	"selective-alpha/internal/ml/quantile"
	"selective-alpha/internal/pipeline"

	"github.com/segmentio/kafka-go"
)

// ErrNoBrokers is returned by New when no broker address is configured.
var ErrNoBrokers = errors.New("kafka brokers are required")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var newWriter = func(brokers []string, topic string) messageWriter {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Gzip,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 100 * time.Millisecond,
	}
}

// Selection is the message handed to the downstream execution planner, one
// per selected instrument. Keyed by symbol so a symbol's history stays on
// one partition.
type Selection struct {
	RunID     string        `json:"run_id"`
	Symbol    string        `json:"symbol"`
	AsOf      time.Time     `json:"as_of"`
	Weight    float64       `json:"weight"`
	MetaProb  domain.Number `json:"meta_prob"`
	Median    domain.Number `json:"q50"`
	Tau       float64       `json:"tau"`
	Published time.Time     `json:"published_at"`
}

type Publisher struct {
	writer messageWriter
	topic  string
	now    func() time.Time
}

func New(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	return &Publisher{writer: newWriter(brokers, topic), topic: topic, now: time.Now}, nil
}

func (p *Publisher) Topic() string { return p.topic }

// Selections builds the messages for res without sending them.
func Selections(res *pipeline.Result, now time.Time) []Selection {
	weights := res.Weights.Map()
	out := make([]Selection, 0, len(res.Selected))
	for _, d := range res.Decisions {
		if !d.Selected {
			continue
		}
		median := domain.Number(math.NaN())
		for _, q := range d.Quantiles {
			if q.Level == quantile.Median {
				median = q.Value
				break
			}
		}
		out = append(out, Selection{
			RunID:     res.RunID,
			Symbol:    d.Symbol,
			AsOf:      d.AsOf,
			Weight:    weights[d.Symbol],
			MetaProb:  d.MetaProb,
			Median:    median,
			Tau:       res.Tau,
			Published: now,
		})
	}
	return out
}

// Publish writes one message per selected instrument and returns how many
// were sent. A run with no selections sends nothing.
func (p *Publisher) Publish(ctx context.Context, res *pipeline.Result) (int, error) {
	sel := Selections(res, p.now().UTC())
	if len(sel) == 0 {
		return 0, nil
	}
	msgs := make([]kafka.Message, 0, len(sel))
	for _, s := range sel {
		v, err := json.Marshal(s)
		if err != nil {
			return 0, fmt.Errorf("marshal selection %s: %w", s.Symbol, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(s.Symbol),
			Value: v,
			Time:  s.Published,
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, fmt.Errorf("publish selections: %w", err)
	}
	return len(msgs), nil
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
