package cache

import "fmt"

func EventDedupKey(eventID string) string {
	return fmt.Sprintf("webhook:event:%s", eventID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
