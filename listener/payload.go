package listener

import (
	"bytes"
	"errors"

	"github.com/goccy/go-json"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
)

// Notification is the push message body.
type Notification struct {
	Keys []string `json:"keys"`
}

// DecodeNotification accepts {"keys":[...]} or a bare JSON array of keys.
func DecodeNotification(raw []byte) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, &chunk.MalformedNotificationError{Reason: "empty payload"}
	}

	if raw[0] == '[' {
		var keys []string
		if err := json.Unmarshal(raw, &keys); err != nil {
			return nil, &chunk.MalformedNotificationError{Reason: "decode key array", Payload: raw, Err: err}
		}
		return keys, nil
	}

	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, &chunk.MalformedNotificationError{Reason: "decode notification", Payload: raw, Err: err}
	}
	return n.Keys, nil
}

// OnPayload decodes a raw push message and queues its keys.
func (l *Listener) OnPayload(raw []byte) {
	keys, err := DecodeNotification(raw)
	if err != nil {
		var mne *chunk.MalformedNotificationError
		if errors.As(err, &mne) {
			l.drop(mne)
		}
		return
	}
	l.OnNotification(keys)
}
