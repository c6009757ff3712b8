// Package channel contains the chat-surface adapters. Each adapter
// translates between one platform's wire format and bus messages:
// platform events become InboundMessages, and the adapter registers
// itself as its channel's single outbound delivery target.
package channel

import "strings"

// splitMessage chunks text to fit a platform's message length limit,
// preferring to cut on a newline when one falls in the second half of
// the chunk.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
