package model

type MessageType string

const (
	MessageTypeUser      MessageType = "user"
	MessageTypeAgent     MessageType = "agent"
	MessageTypeSystem    MessageType = "system"
	MessageTypeStaff     MessageType = "staff"
	MessageTypeChatUser  MessageType = "chat_user"
	MessageTypeChatAgent MessageType = "chat_agent"
	MessageTypeChatStaff MessageType = "chat_staff"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeUser, MessageTypeAgent, MessageTypeSystem, MessageTypeStaff,
		MessageTypeChatUser, MessageTypeChatAgent, MessageTypeChatStaff:
		return true
	}
	return false
}

// IsAgent reports whether the message was produced by the automated agent,
// which is the only source of control tokens that carry an order payload.
func (t MessageType) IsAgent() bool {
	return t == MessageTypeAgent || t == MessageTypeChatAgent
}

type SessionStatus string

const (
	SessionStatusActive         SessionStatus = "active"
	SessionStatusStaffRequested SessionStatus = "staff_requested"
	SessionStatusStaffTaken     SessionStatus = "staff_taken"
	SessionStatusTransferred    SessionStatus = "transferred"
	SessionStatusCompleted      SessionStatus = "completed"
)

func (s SessionStatus) Valid() bool {
	_, ok := sessionTransitions[s]
	return ok
}

// sessionTransitions lists the allowed outgoing edges per status.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusActive: {
		SessionStatusStaffRequested,
		SessionStatusStaffTaken,
		SessionStatusTransferred,
		SessionStatusCompleted,
	},
	SessionStatusStaffRequested: {SessionStatusStaffTaken, SessionStatusCompleted},
	SessionStatusTransferred:    {SessionStatusStaffRequested, SessionStatusStaffTaken, SessionStatusCompleted},
	SessionStatusStaffTaken:     {SessionStatusCompleted},
	SessionStatusCompleted:      nil,
}

// CanTransition reports whether s may move to next. A transition to the
// current status is always allowed and treated as a no-op by callers.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// UnderStaffHandling reports whether automated replies must be suppressed.
func (s SessionStatus) UnderStaffHandling() bool {
	switch s {
	case SessionStatusStaffRequested, SessionStatusStaffTaken, SessionStatusTransferred:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderStatusNone        OrderStatus = "none"
	OrderStatusConfirmed   OrderStatus = "confirmed"
	OrderStatusCompleted   OrderStatus = "completed"
	OrderStatusTransferred OrderStatus = "transferred"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusNone:        {OrderStatusConfirmed, OrderStatusCompleted, OrderStatusTransferred},
	OrderStatusConfirmed:   {OrderStatusCompleted, OrderStatusTransferred},
	OrderStatusTransferred: {OrderStatusCompleted},
	OrderStatusCompleted:   nil,
}

// CanTransition reports whether the order may advance to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ControlToken is a marker the prompting layer embeds in agent text.
type ControlToken string

const (
	TokenCloseCallConfirmed ControlToken = "CLOSE_CALL_CONFIRMED"
	TokenTransferToHuman    ControlToken = "TRANSFER_TO_HUMAN"
	TokenOrderConfirmed     ControlToken = "ORDER_CONFIRMED"
)

// ControlTokens is the scan order used when recording keywords.
var ControlTokens = []ControlToken{
	TokenCloseCallConfirmed,
	TokenTransferToHuman,
	TokenOrderConfirmed,
}

type ChatSender string

const (
	SenderUser  ChatSender = "user"
	SenderAgent ChatSender = "agent"
	SenderStaff ChatSender = "staff"
)

// ChatMessageType maps a chat relay sender to its transcript tag.
func (s ChatSender) ChatMessageType() (MessageType, bool) {
	switch s {
	case SenderUser:
		return MessageTypeChatUser, true
	case SenderAgent:
		return MessageTypeChatAgent, true
	case SenderStaff:
		return MessageTypeChatStaff, true
	}
	return "", false
}
