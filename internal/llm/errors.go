package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrRateLimited     = errors.New("generative service rate limited")
	ErrQuotaExceeded   = errors.New("generative service quota exceeded")
	ErrTimeout         = errors.New("generative service timed out")
	ErrMalformedOutput = errors.New("malformed model output")
)

func wrapMalformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
}

// classify maps a provider failure onto the package taxonomy. status is the
// HTTP status reported by the SDK (0 when unknown), detail the provider's
// error code or message.
func classify(err error, status int, detail string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	if isQuota(status, detail) {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}

	switch status {
	case 429:
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case 408, 504:
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return err
}

func isQuota(status int, detail string) bool {
	if status == 402 {
		return true
	}

	lower := strings.ToLower(detail)
	return strings.Contains(lower, "quota") ||
		strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "credit balance") ||
		strings.Contains(lower, "billing")
}

// IsTransient reports whether err is worth retrying later from outside.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited)
}
