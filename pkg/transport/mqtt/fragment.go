package mqtt

import "github.com/matt-g-everett/logger/pkg/ota"

// Fragment splits one MQTT message into transport deliveries of at most size
// bytes. The first carries the topic; continuations have an empty topic and
// share the message id. A size of zero or less disables fragmentation.
func Fragment(topic string, id int64, payload []byte, size int) []ota.Message {
	total := len(payload)
	if size <= 0 || total <= size {
		return []ota.Message{{Topic: topic, Payload: payload, Offset: 0, Length: total, Total: total, ID: id}}
	}

	msgs := make([]ota.Message, 0, (total+size-1)/size)
	for off := 0; off < total; off += size {
		end := min(off+size, total)
		msg := ota.Message{Payload: payload[off:end], Offset: off, Length: end - off, Total: total, ID: id}
		if off == 0 {
			msg.Topic = topic
		}
		msgs = append(msgs, msg)
	}
	return msgs
}
