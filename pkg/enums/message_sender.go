package enums

import "fmt"

// MessageSender identifies which side of an issue thread wrote a message.
type MessageSender string

const (
	MessageSenderCustomer MessageSender = "customer"
	MessageSenderAdmin    MessageSender = "admin"
	MessageSenderSystem   MessageSender = "system"
)

var validMessageSenders = []MessageSender{
	MessageSenderCustomer,
	MessageSenderAdmin,
	MessageSenderSystem,
}

// String implements fmt.Stringer.
func (m MessageSender) String() string {
	return string(m)
}

// IsValid reports whether the value is a known MessageSender.
func (m MessageSender) IsValid() bool {
	for _, candidate := range validMessageSenders {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseMessageSender converts raw input into a MessageSender.
func ParseMessageSender(value string) (MessageSender, error) {
	for _, candidate := range validMessageSenders {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid message sender %q", value)
}
