package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromMessage copies the headers of msg. A nil message yields empty metadata.
func FromMessage(msg *message.Message) Metadata {
	if msg == nil || len(msg.Metadata) == 0 {
		return Metadata{}
	}
	md := make(Metadata, len(msg.Metadata))
	for k, v := range msg.Metadata {
		md[k] = v
	}
	return md
}

// Stamp writes md onto msg. Headers already present on msg survive unless md
// sets the same key.
func Stamp(msg *message.Message, md Metadata) *message.Message {
	if msg.Metadata == nil {
		msg.Metadata = make(message.Metadata, len(md))
	}
	for k, v := range md {
		msg.Metadata.Set(k, v)
	}
	return msg
}
