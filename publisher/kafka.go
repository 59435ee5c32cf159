// Package publisher ships accepted canvas operations to Kafka for external
// consumers (activity feeds, audit). It is an integration lane: best
// effort, never on the submit path.
package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"boardsync/domain"
	"boardsync/domain/event"
	bserrors "boardsync/errors"
)

// OpRecord is the wire shape of one published operation.
type OpRecord struct {
	CanvasID   string        `json:"canvasId"`
	Sequence   uint64        `json:"sequence"`
	Origin     string        `json:"origin"`
	Type       domain.OpType `json:"type"`
	ShapeID    string        `json:"shapeId,omitempty"`
	AcceptedAt time.Time     `json:"acceptedAt"`
}

type Options struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// KafkaPublisher buffers records in a bounded local queue and ships them
// with a small worker pool and capped exponential backoff. The queue
// absorbs short broker stalls; when it is full the record is dropped, the
// durable history lives in the operation log and snapshots, not here.
type KafkaPublisher struct {
	log      *slog.Logger
	producer sarama.SyncProducer
	topic    string

	queue chan OpRecord
	opt   Options

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewKafkaPublisher(log *slog.Logger, producer sarama.SyncProducer, topic string, opt Options) *KafkaPublisher {
	if opt.Workers < 1 {
		opt.Workers = 1
	}
	p := &KafkaPublisher{
		log:      log,
		producer: producer,
		topic:    topic,
		queue:    make(chan OpRecord, opt.QueueSize),
		opt:      opt,
	}
	for i := 0; i < opt.Workers; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
	return p
}

// Consume implements contract.EventSink for the side-lane fanout.
func (p *KafkaPublisher) Consume(ctx context.Context, e event.CanvasEvent) error {
	accepted, ok := e.(event.OperationAccepted)
	if !ok {
		return nil
	}
	rec := OpRecord{
		CanvasID:   accepted.Op.CanvasID,
		Sequence:   accepted.Op.Sequence,
		Origin:     accepted.Op.Origin,
		Type:       accepted.Op.Type,
		ShapeID:    accepted.Op.ShapeID,
		AcceptedAt: accepted.AcceptedAt,
	}
	select {
	case p.queue <- rec:
		return nil
	case <-ctx.Done():
		return bserrors.ErrQueueFull
	}
}

func (p *KafkaPublisher) workerLoop() {
	defer p.wg.Done()
	for rec := range p.queue {
		p.sendWithRetry(rec)
	}
}

func (p *KafkaPublisher) sendWithRetry(rec OpRecord) {
	for attempt := 0; attempt <= p.opt.MaxRetry; attempt++ {
		err := p.sendOnce(rec)
		if err == nil {
			return
		}
		if attempt == p.opt.MaxRetry {
			p.log.Warn("Kafka send failed, dropping record",
				"canvas", rec.CanvasID, "sequence", rec.Sequence, "error", err)
			return
		}
		backoff := p.opt.BaseBackoff * time.Duration(1<<attempt)
		if backoff > p.opt.MaxBackoff {
			backoff = p.opt.MaxBackoff
		}
		time.Sleep(backoff)
	}
}

func (p *KafkaPublisher) sendOnce(rec OpRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	// Keyed by canvas id so one canvas's stream stays ordered within its
	// partition.
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(rec.CanvasID),
		Value: sarama.ByteEncoder(value),
	})
	return err
}

// Close drains the queue and stops the workers.
func (p *KafkaPublisher) Close() {
	p.closeOnce.Do(func() {
		close(p.queue)
		p.wg.Wait()
	})
}
