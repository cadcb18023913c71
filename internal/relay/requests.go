package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vovakirdan/flopchat-server/internal/core"
	"github.com/vovakirdan/flopchat-server/internal/proto"
)

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New()
	// payload rejects absent and JSON null relay payloads.
	_ = v.RegisterValidation("payload", func(fl validator.FieldLevel) bool {
		raw := bytes.TrimSpace(fl.Field().Bytes())
		return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
	})
	return v
}

type chatMessageRequest struct {
	Sender    string `validate:"required"`
	Recipient string `validate:"required"`
	Message   string `validate:"required"`
}

type conversationRequest struct {
	Sender    string `validate:"required"`
	Recipient string `validate:"required"`
}

type relayRequest struct {
	Payload json.RawMessage `validate:"payload"`
}

func chatMessageFrom(f *proto.Frame) chatMessageRequest {
	return chatMessageRequest{Sender: f.Sender, Recipient: f.Recipient, Message: f.Message}
}

func conversationFrom(f *proto.Frame) conversationRequest {
	return conversationRequest{Sender: f.Sender, Recipient: f.Recipient}
}

// validateRequest turns validator failures into a bad_request error naming
// the offending fields.
func validateRequest(frameType string, req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, strings.ToLower(fe.Field()))
		}
		return core.NewError(core.ErrCodeBadRequest,
			frameType+": missing or invalid "+strings.Join(fields, ", "), core.ErrBadRequest)
	}
	return core.NewError(core.ErrCodeBadRequest, frameType+": "+err.Error(), core.ErrBadRequest)
}
