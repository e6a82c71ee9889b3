package types

// WebhookPayload is the subset of a WhatsApp Cloud API notification the
// coordinator reads.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Field string       `json:"field"`
	Value WebhookValue `json:"value"`
}

type WebhookValue struct {
	Messages []WebhookMessage `json:"messages"`
}

type WebhookMessage struct {
	ID          string              `json:"id"`
	From        string              `json:"from"`
	Type        string              `json:"type"`
	Interactive *InteractiveMessage `json:"interactive,omitempty"`
}

type InteractiveMessage struct {
	Type        string       `json:"type"`
	ButtonReply *ButtonReply `json:"button_reply,omitempty"`
}

type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Reply is one button press extracted from a payload.
type Reply struct {
	MessageID string
	ReplyID   string
}

// ButtonReplies flattens every interactive button reply in p.
func (p WebhookPayload) ButtonReplies() []Reply {
	var out []Reply
	for _, e := range p.Entry {
		for _, c := range e.Changes {
			for _, m := range c.Value.Messages {
				if m.Type != "interactive" || m.Interactive == nil || m.Interactive.ButtonReply == nil {
					continue
				}
				out = append(out, Reply{MessageID: m.ID, ReplyID: m.Interactive.ButtonReply.ID})
			}
		}
	}
	return out
}
