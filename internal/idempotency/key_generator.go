package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Key kinds.
const (
	KindCallback = "callback"
	KindMessage  = "message"
)

// GenerateKey hashes parts into a fixed-length key scoped by kind, e.g. "callback:3f2a…".
// Parts are length-prefixed so ("ab", "c") and ("a", "bc") never collide.
func GenerateKey(kind string, parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(strconv.Itoa(len(part))))
		h.Write([]byte{':'})
		h.Write([]byte(part))
	}

	return kind + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}

// CallbackKey identifies a callback query by the id Telegram assigns to it.
func CallbackKey(callbackID string) string {
	return GenerateKey(KindCallback, callbackID)
}

// MessageKey identifies a message by chat and message id.
func MessageKey(chatID int64, messageID int) string {
	return GenerateKey(KindMessage, strconv.FormatInt(chatID, 10), strconv.Itoa(messageID))
}
