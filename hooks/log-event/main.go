// Package main provides a simple motion-event hook that appends each event
// it receives to a log file next to the hook.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Payload represents the input from the hook executor.
type Payload struct {
	Event     string `json:"event"`
	EventID   string `json:"event_id"`
	Source    string `json:"source"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at,omitempty"`
	Frames    int    `json:"frames,omitempty"`
}

// Response represents the output to the hook executor.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

const logFile = "events.log"

func main() {
	var payload Payload
	if err := json.NewDecoder(os.Stdin).Decode(&payload); err != nil {
		writeResponse(Response{Error: fmt.Sprintf("failed to decode payload: %v", err)})
		return
	}

	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		writeResponse(Response{Error: fmt.Sprintf("failed to open log: %v", err)})
		return
	}
	defer f.Close()

	line := fmt.Sprintf("%s %s event=%s source=%s frames=%d\n",
		time.Now().Format(time.RFC3339), payload.Event, payload.EventID, payload.Source, payload.Frames)
	if _, err := f.WriteString(line); err != nil {
		writeResponse(Response{Error: fmt.Sprintf("failed to write log: %v", err)})
		return
	}

	writeResponse(Response{Success: true})
}

func writeResponse(resp Response) {
	json.NewEncoder(os.Stdout).Encode(resp)
}
