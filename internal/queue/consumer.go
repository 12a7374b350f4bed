package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/license-panel/internal/logs"
)

// Archive appends activity events to a plain text file, one line each.
type Archive struct {
	mu   sync.Mutex
	path string
}

func NewArchive(path string) *Archive {
	if path == "" {
		path = filepath.Join("logs", "activity.log")
	}
	return &Archive{path: path}
}

// Handle decodes one message body and appends it to the archive.
func (a *Archive) Handle(body []byte) error {
	var ev ActivityEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.MAC == "" || ev.Action == "" {
		return errors.New("event without mac or action")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	expires := "never"
	if ev.ExpiresAt != nil {
		expires = *ev.ExpiresAt
	}
	line := fmt.Sprintf("[%s] %s | log_id=%d | device_id=%d | mac=%s | host=%q | by=%s | active=%t | expires=%s\n",
		ev.OccurredAt, ev.Action, ev.LogID, ev.DeviceID, ev.MAC, ev.Hostname, ev.PerformedBy, ev.Active, expires)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// StartActivityConsumer connects to url, consumes the activity queue and
// hands each message to archive.  It reconnects with backoff until ctx is
// done, then returns ctx.Err().  A message that fails to archive is
// rejected without requeue so one bad payload cannot stall the queue.
func StartActivityConsumer(ctx context.Context, url string, archive *Archive) error {
	if url == "" {
		url = DefaultURL
	}
	log := logs.With("activity-consumer")

	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.WithError(err).Warnf("dial broker failed; retrying in %s", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, archive)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).Warn("consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, archive *Archive) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		logs.With("activity-consumer").WithError(err).Warn("set QoS failed")
	}
	if _, err := ch.QueueDeclare(ActivityQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(ActivityQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := archive.Handle(d.Body); err != nil {
				logs.With("activity-consumer").WithError(err).Warn("archive message failed")
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
