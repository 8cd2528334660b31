package httpclient

import (
	"errors"
	"fmt"
	"io"
)

// drainLimit caps how many leftover bytes DrainAndClose will discard.
// Remainders beyond this just drop the connection instead of reusing it.
const drainLimit = 64 << 10

// BodyTooLargeError reports that a response body exceeded the read limit.
type BodyTooLargeError struct {
	Limit int64
}

func (e BodyTooLargeError) Error() string {
	return fmt.Sprintf("response body exceeded %d byte limit", e.Limit)
}

// IsBodyTooLarge reports whether err indicates an oversized response body.
func IsBodyTooLarge(err error) bool {
	var tooLarge BodyTooLargeError
	return errors.As(err, &tooLarge)
}

// ReadBounded reads r to EOF, failing with BodyTooLargeError once more
// than limit bytes arrive. A limit <= 0 reads without bound.
func ReadBounded(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(&io.LimitedReader{R: r, N: limit + 1})
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, BodyTooLargeError{Limit: limit}
	}
	return data, nil
}

// DrainAndClose discards any unread body bytes so the underlying
// connection can be reused, then closes the body.
func DrainAndClose(body io.ReadCloser) {
	_, _ = io.CopyN(io.Discard, body, drainLimit)
	_ = body.Close()
}
