package whatsapp

// WebhookPayload is the subset of the Cloud API notification we read.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string            `json:"messaging_product"`
	Messages         []IncomingMessage `json:"messages"`
}

type IncomingMessage struct {
	From      string    `json:"from"`
	ID        string    `json:"id"`
	Timestamp string    `json:"timestamp"`
	Type      string    `json:"type"`
	Text      *TextPart `json:"text,omitempty"`
}

type TextPart struct {
	Body string `json:"body"`
}

// InboundText is one text message extracted from a webhook payload.
type InboundText struct {
	From      string
	MessageID string
	Body      string
}

// TextMessages flattens every text message in the payload, in delivery order.
// Non-text messages and non-message changes are skipped.
func (p *WebhookPayload) TextMessages() []InboundText {
	var out []InboundText
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text == nil || msg.From == "" {
					continue
				}
				out = append(out, InboundText{From: msg.From, MessageID: msg.ID, Body: msg.Text.Body})
			}
		}
	}
	return out
}

// SessionID is the call log key used for a WhatsApp conversation.
func SessionID(from string) string {
	return "whatsapp_" + from
}
