package observability

// Routing keys for the event streams this service publishes.
const (
	RoutingPresence      = "presence.users"
	RoutingWSConnections = "ws_events.connections"
	RoutingAudit         = "audit.presence"
)

// EventEnvelope is the wire shape for events on the topic exchange.
type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// BuildHeaders assembles AMQP headers carrying request correlation ids.
// Empty values are omitted so consumers can rely on header presence.
func BuildHeaders(requestID, traceID string) map[string]string {
	headers := make(map[string]string, 2)
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
