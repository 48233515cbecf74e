// Copyright 2026 The go-overkeep Authors
// SPDX-License-Identifier: Apache-2.0

package overkeep

import (
	"errors"
	"net/http"
)

// StatusFor translates a persistence-layer error into the HTTP status a REST
// boundary should answer with. Routing itself lives outside this package;
// exception-to-status mapping is the only REST concern kept here.
func StatusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return http.StatusUnprocessableEntity
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrIllegalState):
		return http.StatusConflict
	default:
		// ConfigurationError, PersistenceError and anything unclassified.
		return http.StatusInternalServerError
	}
}
