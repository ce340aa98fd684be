package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullableConvertsEmptyStringToNil(t *testing.T) {
	assert.Nil(t, nullable(""))
	assert.Equal(t, "lobby1", nullable("lobby1"))
}

func TestInboundMessageUnmarshalsTypeAndRawPayload(t *testing.T) {
	raw := []byte(`{"type":"move","payload":{"direction":"up"}}`)
	var msg inboundMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "move", msg.Type)

	var body struct {
		Direction string `json:"direction"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &body))
	assert.Equal(t, "up", body.Direction)
}

func TestInboundMessageRejectsMalformedJSON(t *testing.T) {
	var msg inboundMessage
	err := json.Unmarshal([]byte("not json"), &msg)
	assert.Error(t, err)
}
