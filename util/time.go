package util

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Unix timestamp in (possibly fractional) seconds, as returned by the platform API. Decodes JSON numbers, and treats `null` and `false` as the zero time.
type EpochSeconds float64

func (e *EpochSeconds) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte("false")) {
		*e = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("failed to parse %q as epoch timestamp", b)
	}
	*e = EpochSeconds(f)
	return nil
}

// UTC time, truncated to whole seconds; zero value for a zero timestamp.
func (e EpochSeconds) Time() time.Time {
	if e == 0 {
		return time.Time{}
	}
	return time.Unix(int64(math.Floor(float64(e))), 0).UTC()
}
