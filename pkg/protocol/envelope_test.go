package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"event","data":{"kind":"metrics","data":{"ttfb":12}}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeEvent, env.Type)
	assert.Empty(t, env.ID)

	env, err = DecodeEnvelope([]byte(`{"type":"action-response","id":" 7 ","data":{"success":true}}`))
	require.NoError(t, err)
	assert.Equal(t, "7", env.ID)
}

func TestDecodeEnvelope_Invalid(t *testing.T) {
	cases := []struct {
		name  string
		frame string
	}{
		{"not json", `{`},
		{"missing type", `{"id":"1"}`},
		{"blank type", `{"type":"  "}`},
		{"correlated without id", `{"type":"action-response","data":{"success":true}}`},
		{"tool call without id", `{"type":"tool-call","data":{"id":"1","name":"t"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(tc.frame))
			require.Error(t, err)
			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Equal(t, "bad_frame", decodeErr.Code)
		})
	}
}

func TestDecodeEnvelope_UnknownTypeAccepted(t *testing.T) {
	// Newer protocol dialects must not kill the session.
	env, err := DecodeEnvelope([]byte(`{"type":"future-thing","data":{"x":1}}`))
	require.NoError(t, err)
	assert.Equal(t, "future-thing", env.Type)
	assert.False(t, KnownType(env.Type))
}

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope(TypeActionRequest, "3", ActionRequest{
		Service: "tts",
		Action:  "say",
		Arguments: []Argument{
			{Name: "text", Value: json.RawMessage(`"hi"`)},
		},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeActionRequest, decoded.Type)
	assert.Equal(t, "3", decoded.ID)

	var req ActionRequest
	require.NoError(t, DecodeData(decoded, &req))
	assert.Equal(t, "tts", req.Service)
	assert.Equal(t, "say", req.Action)
	require.Len(t, req.Arguments, 1)
	assert.Equal(t, "text", req.Arguments[0].Name)
	assert.JSONEq(t, `"hi"`, string(req.Arguments[0].Value))
}

func TestNewEnvelope_MissingType(t *testing.T) {
	_, err := NewEnvelope("  ", "", nil)
	require.Error(t, err)
}

func TestKnownType_Catalog(t *testing.T) {
	known := []string{
		TypeEvent, TypeConfigRequest, TypeConfigAck, TypeConfigNack,
		TypeActionRequest, TypeActionResponse, TypeActionError,
		TypePipelineRequest, TypePipelineAck, TypePipelineNack,
		TypeToolCall, TypeToolResult, TypeGenericMessage,
	}
	for _, typ := range known {
		assert.True(t, KnownType(typ), typ)
	}
	assert.False(t, KnownType("bogus"))
}

func TestPipelineRequestValidate(t *testing.T) {
	assert.Error(t, PipelineRequest{}.Validate())
	assert.Error(t, PipelineRequest{Stages: []string{"stt", "  "}}.Validate())
	assert.NoError(t, PipelineRequest{Stages: []string{"stt", "llm", "tts"}}.Validate())
}
