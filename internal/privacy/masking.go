package privacy

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"chatcore/internal/constants"
)

// MaskUserID masks a user identifier showing only the last few characters
// Example: "user123456" -> "******3456"
func MaskUserID(userID string) string {
	return maskString(userID, constants.DefaultIDVisibleChars)
}

// MaskConversationID masks a conversation identifier
func MaskConversationID(conversationID string) string {
	return maskString(conversationID, constants.DefaultIDVisibleChars)
}

// MaskMessageID masks a message id. Temporary ids keep their prefix so
// optimistic entries stay recognisable in logs.
// Example: "tmp_0b5e...c2d1" -> "tmp_****c2d1"
func MaskMessageID(messageID string) string {
	if messageID == "" {
		return ""
	}
	if prefix, rest, ok := strings.Cut(messageID, "_"); ok && prefix == "tmp" {
		return prefix + "_" + maskString(rest, constants.DefaultIDVisibleChars)
	}
	return maskString(messageID, constants.DefaultIDVisibleChars)
}

// MaskContent replaces message text with its length
// Example: "see you at 5" -> "[12 chars]"
func MaskContent(content string) string {
	if content == "" {
		return ""
	}
	return fmt.Sprintf("[%d chars]", utf8.RuneCountInString(content))
}

// MaskURL drops the query string and fragment, which carry signatures on signed URLs
// Example: "https://cdn/x.pdf?X-Amz-Signature=abc" -> "https://cdn/x.pdf?[redacted]"
func MaskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "[invalid url]"
	}
	redacted := u.RawQuery != "" || u.Fragment != ""
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	if redacted {
		return u.String() + "?[redacted]"
	}
	return u.String()
}

func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}
		switch k {
		case "user_id", "sender_id", "peer_id", "initiator_id":
			masked[k] = MaskUserID(s)
		case "conversation_id":
			masked[k] = MaskConversationID(s)
		case "message_id", "temp_id":
			masked[k] = MaskMessageID(s)
		case "content", "caption":
			masked[k] = MaskContent(s)
		case "url", "signed_url":
			masked[k] = MaskURL(s)
		case "token", "authorization":
			masked[k] = "[redacted]"
		default:
			masked[k] = v
		}
	}
	return masked
}
