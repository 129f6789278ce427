package entity

// SendStatus is the lifecycle state of an optimistic send
type SendStatus string

const (
	SendStatusSending SendStatus = "sending"
	SendStatusSent    SendStatus = "sent"
	SendStatusFailed  SendStatus = "failed"
)

// SendRequest is the original payload of a send, retained on the
// PendingSend so a failed send can be retried with identical content.
type SendRequest struct {
	Content     string       `json:"content,omitempty"`
	ReplyTo     string       `json:"reply_to,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// PendingSend is a locally created message awaiting server confirmation.
// It carries a temporary local id; the permanent id arrives with the
// confirmation (server echo or direct API response), at which point the
// pending entry is committed and destroyed. A definitive failure leaves
// it in status failed so the UI can offer retry or discard.
type PendingSend struct {
	LocalId        string      `json:"local_id"`
	ConversationId string      `json:"conversation_id"`
	SenderId       string      `json:"sender_id"`
	Request        SendRequest `json:"request"`
	Status         SendStatus  `json:"status"`
	CreatedAt      int64       `json:"created_at"`
}

// AsMessage returns the provisional message view of the pending send,
// used to show the optimistic entry at the tail of the message list.
func (p *PendingSend) AsMessage() *Message {
	return &Message{
		Id:             p.LocalId,
		ConversationId: p.ConversationId,
		ClientMsgId:    p.LocalId,
		SenderId:       p.SenderId,
		Content:        p.Request.Content,
		Attachments:    append([]Attachment(nil), p.Request.Attachments...),
		ReplyTo:        p.Request.ReplyTo,
		SentAt:         p.CreatedAt,
		LocalId:        p.LocalId,
		Status:         p.Status,
	}
}
