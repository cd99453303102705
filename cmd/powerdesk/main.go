// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command powerdesk runs the PowerDesk customer-support server and its
// maintenance tasks.
//
// # Usage
//
//	# Serve HTTP (reads .env, then the environment)
//	powerdesk serve
//
//	# Create tables only
//	powerdesk migrate
//
//	# Create tables and insert reference data
//	powerdesk seed
//
//	# Delete chat history older than 30 days
//	powerdesk purge-history --older-than 720h
//
// Every setting is an environment variable; see powerdesk.Config.
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
