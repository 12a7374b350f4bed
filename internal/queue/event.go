// Package queue moves device activity events over RabbitMQ: the service
// publishes one event per committed change and a background consumer
// archives them to logs/activity.log.
package queue

// ActivityQueueName is the durable queue the events travel on.
const ActivityQueueName = "license.activity"

// ActivityEvent is published after a device change has been committed
// together with its log entry.  It carries enough for downstream
// consumers to archive or notify without querying the database.
type ActivityEvent struct {
	LogID       uint64  `json:"log_id"`
	DeviceID    uint64  `json:"device_id"`
	MAC         string  `json:"mac"`
	Hostname    string  `json:"hostname"`
	Action      string  `json:"action"`
	PerformedBy string  `json:"performed_by"`
	Active      bool    `json:"active"`
	ExpiresAt   *string `json:"expires_at,omitempty"`
	OccurredAt  string  `json:"occurred_at"`
}
