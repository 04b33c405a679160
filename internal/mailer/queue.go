package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type queuedMessage struct {
	msg     Message
	retries int
}

// Queue delivers messages in the background at a fixed rate.
type Queue struct {
	mailer   *Mailer
	ch       chan queuedMessage
	rate     time.Duration
	maxRetry int
	backoff  time.Duration
}

func NewQueue(m *Mailer, rate time.Duration, bufferSize, maxRetry int) *Queue {
	return &Queue{
		mailer:   m,
		ch:       make(chan queuedMessage, bufferSize),
		rate:     rate,
		maxRetry: maxRetry,
		backoff:  5 * time.Second,
	}
}

// Start processes queued messages at the configured rate until ctx is
// cancelled. On shutdown it drains any remaining messages before returning.
func (q *Queue) Start(ctx context.Context) {
	ticker := time.NewTicker(q.rate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.drain()
			return
		case <-ticker.C:
			select {
			case item := <-q.ch:
				q.attempt(ctx, item)
			default:
			}
		}
	}
}

// Enqueue adds a message to the queue. Complaint bodies must already be
// encrypted; see SendComplaint.
func (q *Queue) Enqueue(msg Message) error {
	select {
	case q.ch <- queuedMessage{msg: msg}:
		return nil
	default:
		return fmt.Errorf("mailer: queue full, message not queued")
	}
}

// attempt sends a message, scheduling a context-aware retry with backoff on
// failure.
func (q *Queue) attempt(ctx context.Context, item queuedMessage) {
	err := q.mailer.send(item.msg)
	if err == nil {
		return
	}

	if item.retries >= q.maxRetry {
		slog.Error("mailer: message dropped after max retries", "subject", item.msg.Subject, "err", err)
		return
	}

	item.retries++
	backoff := time.Duration(item.retries) * q.backoff
	slog.Warn("mailer: send failed, retrying with backoff", "subject", item.msg.Subject, "retry", item.retries, "backoff", backoff, "err", err)

	go func() {
		select {
		case <-time.After(backoff):
			select {
			case q.ch <- item:
			default:
				slog.Error("mailer: requeue failed, queue full, message dropped", "subject", item.msg.Subject)
			}
		case <-ctx.Done():
			slog.Warn("mailer: retry cancelled during shutdown", "subject", item.msg.Subject)
		}
	}()
}

// drain flushes remaining queued messages on shutdown, best-effort.
func (q *Queue) drain() {
	for {
		select {
		case item := <-q.ch:
			if err := q.mailer.send(item.msg); err != nil {
				slog.Error("mailer: drain send failed", "subject", item.msg.Subject, "err", err)
			}
		default:
			return
		}
	}
}

// SendComplaint encrypts the summary and evidence when a key is configured,
// then enqueues the message.
func (q *Queue) SendComplaint(subject, summary string, evidence []Attachment) error {
	msg, err := buildComplaintMessage(q.mailer.config(), subject, summary, evidence)
	if err != nil {
		return err
	}
	return q.Enqueue(msg)
}

func (q *Queue) Enabled() bool { return q.mailer.Enabled() }
