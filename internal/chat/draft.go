package chat

import (
	"github.com/go-playground/validator/v10"
)

// draftValidator is shared; validator.Validate is safe for concurrent use.
var draftValidator = validator.New(validator.WithRequiredStructEnabled())

// Draft is a user's send intent. At least one of Text or Attachment must
// be present; ReplyToID optionally names the message being replied to,
// which is snapshotted from the local store at send time.
type Draft struct {
	Text       string      `validate:"required_without=Attachment"`
	Attachment *Attachment `validate:"omitempty,required_without=Text"`
	ReplyToID  MessageID
}

// Validate rejects empty drafts before any state is mutated.
func (d Draft) Validate() error {
	if err := draftValidator.Struct(d); err != nil {
		return WrapError(ErrCodeValidation, "draft requires text or an attachment", err)
	}
	if d.Attachment != nil && d.Attachment.URL == "" && d.Attachment.LocalPath == "" {
		return NewError(ErrCodeValidation, "attachment requires a URL or local path")
	}
	return nil
}
