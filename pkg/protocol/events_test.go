package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventKinds_Catalog(t *testing.T) {
	kinds := EventKinds()
	assert.Len(t, kinds, 18)
	seen := make(map[EventKind]struct{}, len(kinds))
	for _, kind := range kinds {
		assert.True(t, KnownEventKind(kind), string(kind))
		_, dup := seen[kind]
		assert.False(t, dup, string(kind))
		seen[kind] = struct{}{}
	}
	assert.False(t, KnownEventKind("made-up"))
}

func TestDecodeEvent(t *testing.T) {
	env, err := NewEventEnvelope(EventUserTranscription, map[string]any{"text": "hello", "final": true})
	require.NoError(t, err)

	payload, err := DecodeEvent(env)
	require.NoError(t, err)
	assert.Equal(t, EventUserTranscription, payload.Kind)

	var doc struct {
		Text  string `json:"text"`
		Final bool   `json:"final"`
	}
	require.NoError(t, json.Unmarshal(payload.Data, &doc))
	assert.Equal(t, "hello", doc.Text)
	assert.True(t, doc.Final)
}

func TestDecodeEvent_Invalid(t *testing.T) {
	_, err := DecodeEvent(Envelope{Type: TypeGenericMessage})
	require.Error(t, err)

	_, err = DecodeEvent(Envelope{Type: TypeEvent})
	require.Error(t, err)

	_, err = DecodeEvent(Envelope{Type: TypeEvent, Data: json.RawMessage(`{"kind":"  "}`)})
	require.Error(t, err)
}
