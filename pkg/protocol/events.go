package protocol

import (
	"encoding/json"
	"strings"
)

// EventKind identifies one of the standard session events.
type EventKind string

// The fixed event catalog. Event envelopes carrying other kinds are routed
// to subscribers of EventGenericMessage.
const (
	EventTransportStateChanged EventKind = "transport-state-changed"
	EventConnected             EventKind = "connected"
	EventDisconnected          EventKind = "disconnected"
	EventClientReady           EventKind = "client-ready"
	EventBotReady              EventKind = "bot-ready"
	EventConfig                EventKind = "config"
	EventBotDisconnected       EventKind = "bot-disconnected"
	EventGenericMessage        EventKind = "generic-message"
	EventError                 EventKind = "error"
	EventTrackStarted          EventKind = "track-started"
	EventTrackStopped          EventKind = "track-stopped"
	EventMetrics               EventKind = "metrics"
	EventUserStartedSpeaking   EventKind = "user-started-speaking"
	EventUserStoppedSpeaking   EventKind = "user-stopped-speaking"
	EventBotStartedSpeaking    EventKind = "bot-started-speaking"
	EventBotStoppedSpeaking    EventKind = "bot-stopped-speaking"
	EventUserTranscription     EventKind = "user-transcription"
	EventBotTranscription      EventKind = "bot-transcription"
)

// EventKinds lists the full catalog in a stable order.
func EventKinds() []EventKind {
	return []EventKind{
		EventTransportStateChanged,
		EventConnected,
		EventDisconnected,
		EventClientReady,
		EventBotReady,
		EventConfig,
		EventBotDisconnected,
		EventGenericMessage,
		EventError,
		EventTrackStarted,
		EventTrackStopped,
		EventMetrics,
		EventUserStartedSpeaking,
		EventUserStoppedSpeaking,
		EventBotStartedSpeaking,
		EventBotStoppedSpeaking,
		EventUserTranscription,
		EventBotTranscription,
	}
}

// KnownEventKind reports whether kind belongs to the standard catalog.
func KnownEventKind(kind EventKind) bool {
	switch kind {
	case EventTransportStateChanged, EventConnected, EventDisconnected,
		EventClientReady, EventBotReady, EventConfig, EventBotDisconnected,
		EventGenericMessage, EventError, EventTrackStarted, EventTrackStopped,
		EventMetrics, EventUserStartedSpeaking, EventUserStoppedSpeaking,
		EventBotStartedSpeaking, EventBotStoppedSpeaking,
		EventUserTranscription, EventBotTranscription:
		return true
	default:
		return false
	}
}

// EventPayload is the data of an event envelope.
type EventPayload struct {
	Kind EventKind       `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeEvent extracts the event payload from an event envelope.
func DecodeEvent(env Envelope) (EventPayload, error) {
	if env.Type != TypeEvent {
		return EventPayload{}, badFrame("envelope is not an event", "type")
	}
	var payload EventPayload
	if err := DecodeData(env, &payload); err != nil {
		return EventPayload{}, err
	}
	payload.Kind = EventKind(strings.TrimSpace(string(payload.Kind)))
	if payload.Kind == "" {
		return EventPayload{}, badFrame("event missing kind", "data.kind")
	}
	return payload, nil
}

// NewEventEnvelope builds an outbound event envelope.
func NewEventEnvelope(kind EventKind, data any) (Envelope, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, err
		}
		raw = encoded
	}
	return NewEnvelope(TypeEvent, "", EventPayload{Kind: kind, Data: raw})
}
