package reliability

// IsRetryableHTTPStatus classifies HTTP status codes whose failures are worth
// re-submitting by the user. The client never retries on its own; the flag is
// only surfaced on error events so the shell can phrase the notification.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
