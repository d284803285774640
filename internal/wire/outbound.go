package wire

type SubscriptionFilters struct {
	SessionIDs []string `json:"session_ids,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

type SubscribeFrame struct {
	Type    FrameType           `json:"type"`
	Filters SubscriptionFilters `json:"filters"`
}

func NewSubscribe(filters SubscriptionFilters) SubscribeFrame {
	return SubscribeFrame{Type: FrameTypeSubscribe, Filters: filters}
}

type InjectMessageFrame struct {
	Type      FrameType `json:"type"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
}

func NewInjectMessage(sessionID, text string) InjectMessageFrame {
	return InjectMessageFrame{Type: FrameTypeInjectMessage, SessionID: sessionID, Text: text}
}
