package proto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeChatMessage(t *testing.T) {
	f, err := Decode([]byte(`{"type":"chat_message","sender":"alice","recipient":"bob","message":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeChatMessage, f.Type)
	assert.Equal(t, "alice", f.Sender)
	assert.Equal(t, "bob", f.Recipient)
	assert.Equal(t, "hi", f.Message)
}

func TestDecodeKeepsRawPayloads(t *testing.T) {
	raw := `{"type":"offer","sdp":{"type":"offer","sdp":"v=0\r\n","extra":[1,2,{"k":null}]}}`
	f, err := Decode([]byte(raw))
	require.NoError(t, err)

	out, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestDecodeRejects(t *testing.T) {
	for _, raw := range []string{``, `nope`, `[]`, `{}`, `{"type":""}`, `{"type":42}`} {
		_, err := Decode([]byte(raw))
		assert.Error(t, err, raw)
	}
}

func TestErrorFrameShape(t *testing.T) {
	out, err := json.Marshal(&Frame{Type: TypeError, Error: &Error{Code: "bad_request", Msg: "missing message"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","error":{"code":"bad_request","msg":"missing message"}}`, string(out))
}

func TestReadReceiptKeepsZeroCount(t *testing.T) {
	zero := int64(0)
	out, err := json.Marshal(&Frame{Type: TypeReadReceipt, Sender: "alice", Recipient: "bob", Count: &zero})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"read_receipt","sender":"alice","recipient":"bob","count":0}`, string(out))

	out, err = json.Marshal(&Frame{Type: TypeChatMessage, Message: "hi"})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "count")
}
