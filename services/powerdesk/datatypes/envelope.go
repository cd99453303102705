// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// Envelope wraps every JSON response.
type Envelope struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Success builds a successful envelope stamped now.
func Success(message string, data any) Envelope {
	return Envelope{Success: true, Message: message, Data: data, Timestamp: time.Now()}
}

// Failure builds a failed envelope with no data.
func Failure(message string) Envelope {
	return Envelope{Message: message, Timestamp: time.Now()}
}
