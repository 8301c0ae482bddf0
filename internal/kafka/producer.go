package kafka

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/segmentio/kafka-go"
)

// Producer decouples request handling from broker latency: Publish drops the
// message into a buffered inbox and a single goroutine does the writes.
type Producer struct {
	w       *kafka.Writer
	log     *zap.Logger
	inbox   chan kafka.Message
	once    sync.Once
	closeCh chan struct{}
}

func NewProducer(brokers []string, topic string, buf int, log *zap.Logger) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
		},
		log:     log,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

func (p *Producer) Start(ctx context.Context) {
	go p.run(ctx)
}

func (p *Producer) run(ctx context.Context) {
	defer close(p.closeCh)
	defer func() {
		if err := p.w.Close(); err != nil {
			p.log.Warn("kafka writer close", zap.Error(err))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case m, ok := <-p.inbox:
			if !ok {
				return
			}
			p.write(m)
		}
	}
}

// drain flushes whatever is already buffered without waiting for more.
func (p *Producer) drain() {
	for {
		select {
		case m, ok := <-p.inbox:
			if !ok {
				return
			}
			p.write(m)
		default:
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.log.Warn("kafka write", zap.ByteString("key", m.Key), zap.Error(err))
	}
}

// Publish enqueues without blocking the caller beyond the inbox buffer.
func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	p.inbox <- kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
}

// Close stops accepting messages; the run loop flushes what is left. Safe to
// call alongside context cancellation.
func (p *Producer) Close() { p.once.Do(func() { close(p.inbox) }) }

// WaitClosed blocks until the run loop exits.
func (p *Producer) WaitClosed() { <-p.closeCh }
