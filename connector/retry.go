// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package connector

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryWithBackoff retries an operation with exponential backoff.
// maxAttempts: maximum number of attempts (must be > 0)
// baseDelay: base delay between retries (doubles on each retry)
// Errors marked with Permanent are returned immediately, unwrapped.
// Returns the error from the last attempt if all attempts fail.
func RetryWithBackoff(ctx context.Context, operation func() error, maxAttempts int, baseDelay time.Duration) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		slog.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", maxAttempts, "error", lastErr)

		if attempt == maxAttempts {
			break
		}

		delay := baseDelay << (attempt - 1)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}
