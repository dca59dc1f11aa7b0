// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import "errors"

var (
	// ErrInvalidTransition is returned when a status change is not a legal
	// edge of the session state machine. It signals a broken invariant and
	// is never swallowed.
	ErrInvalidTransition = errors.New("invalid session status transition")

	// ErrNotResumable is returned when resumption is attempted on a session
	// whose status is not COMPLETED or TIMEOUT.
	ErrNotResumable = errors.New("session is not resumable")
)
