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

import "errors"

var (
	// ErrUnsupportedScheme is returned for connector URLs that are neither http(s) nor file.
	ErrUnsupportedScheme = errors.New("unsupported connector URL scheme")

	// ErrUnavailable wraps every failure to pull from a connector.
	ErrUnavailable = errors.New("connector unavailable")

	// ErrInvalidResponse is returned when a connector response is not a document page.
	ErrInvalidResponse = errors.New("invalid connector response")

	// ErrResponseTooLarge is returned when a connector response exceeds the body limit.
	ErrResponseTooLarge = errors.New("connector response too large")

	// ErrInvalidMaxAttempts is returned when maxAttempts is not positive.
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")
)

// permanentError stops RetryWithBackoff from retrying.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
