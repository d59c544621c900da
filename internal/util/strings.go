package util

// TailBytes keeps at most max bytes of b, dropping from the front.
// The second result reports whether anything was dropped.
func TailBytes(b []byte, max int) ([]byte, bool) {
	if max <= 0 || len(b) <= max {
		return b, false
	}
	return b[len(b)-max:], true
}
