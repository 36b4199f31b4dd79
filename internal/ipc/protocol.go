// Package ipc implements the file-based request/response protocol between
// the scribed daemon and its clients (the hotkey listener, the launcher,
// tests).
//
// A client drops a JSON request file into the inbox directory; the daemon
// answers with a JSON response file named "<id>.json" in the outbox
// directory and keeps a status file current for external monitoring. Every
// file the daemon writes is published atomically (written to a temp file in
// the target directory, then renamed) so a polling reader never observes a
// partial document.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Request types. An absent type means transcribe, which keeps older
// listeners compatible.
const (
	TypeTranscribe = "transcribe"
	TypePing       = "ping"
	TypePong       = "pong"
)

// ErrMalformedRequest marks a request file that could not be parsed or
// validated. When no identifier could be recovered, no response is owed.
var ErrMalformedRequest = errors.New("ipc: malformed request")

// Request is an inbox file: one transcription (or ping) job.
type Request struct {
	// ID is an opaque unique token, typically time-derived, chosen by
	// the submitter. Responses are matched to requests by ID.
	ID string `json:"id"`

	// Type selects the operation: "transcribe" (default) or "ping".
	Type string `json:"type,omitempty"`

	// AudioFile is the absolute path of the PCM WAV file to transcribe.
	// Unused for pings.
	AudioFile string `json:"audio_file,omitempty"`

	// Timestamp is the submission time in Unix seconds.
	Timestamp float64 `json:"timestamp"`
}

// Response is an outbox file: the outcome of one request.
type Response struct {
	ID string `json:"id"`

	// Type is "pong" for ping responses and empty otherwise.
	Type string `json:"type,omitempty"`

	// Results holds the transcribed segments in order. Empty when the
	// audio was gated out, contained no speech, or the request failed.
	Results []string `json:"results"`

	// Timestamp is the completion time in Unix seconds.
	Timestamp float64 `json:"timestamp"`

	// Device is the compute device used ("cuda" or "cpu").
	Device string `json:"device"`

	// SessionActive reports whether the model is resident in memory
	// after this request (the warm-session flag).
	SessionActive bool `json:"session_active"`

	// ModelLoaded and Uptime are reported on pong responses.
	ModelLoaded bool    `json:"model_loaded,omitempty"`
	Uptime      float64 `json:"uptime,omitempty"`

	// Error describes the failure when the request could not be served.
	Error string `json:"error,omitempty"`
}

// Status is the daemon status file, overwritten in place after every state
// change. It is the single source of truth for external observers; a stale
// Timestamp means the daemon is dead.
type Status struct {
	Active         bool    `json:"active"`
	ModelLoaded    bool    `json:"model_loaded"`
	Device         string  `json:"device"`
	ModelSize      string  `json:"model_size"`
	Processing     bool    `json:"processing"`
	LastActivity   float64 `json:"last_activity"`
	SessionTimeout int     `json:"session_timeout"`
	Timestamp      float64 `json:"timestamp"`
	PID            int     `json:"pid"`
	Uptime         float64 `json:"uptime"`
}

// SessionMarker is written next to the status file at startup and removed
// at shutdown; launchers use it to detect a live session.
type SessionMarker struct {
	Started float64 `json:"started"`
	PID     int     `json:"pid"`
	Timeout int     `json:"timeout"`
}

// ReadRequest parses and validates the request file at path. A parse
// failure or a missing identifier returns an error wrapping
// [ErrMalformedRequest]; a request that has an identifier but fails
// validation returns the partially-populated request alongside the error so
// the caller can still address an error response.
func ReadRequest(path string) (Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Request{}, fmt.Errorf("ipc: read request %q: %w", path, err)
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %q: %v", ErrMalformedRequest, filepath.Base(path), err)
	}
	if req.ID == "" {
		return Request{}, fmt.Errorf("%w: %q: missing id", ErrMalformedRequest, filepath.Base(path))
	}
	if req.Type == "" {
		req.Type = TypeTranscribe
	}
	if req.Type == TypeTranscribe && req.AudioFile == "" {
		return req, fmt.Errorf("%w: request %s: missing audio_file", ErrMalformedRequest, req.ID)
	}
	return req, nil
}

// WriteJSONAtomic marshals v and publishes it at path atomically: the
// document is written to a temp file in the same directory and renamed over
// the destination, so concurrent readers see either the previous complete
// file or the new complete file, never a partial write.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ipc: marshal %q: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("ipc: create temp in %q: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("ipc: write temp %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("ipc: close temp %q: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("ipc: publish %q: %w", path, err)
	}
	return nil
}

// ReadJSONFile reads and unmarshals the JSON document at path into v.
func ReadJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ipc: read %q: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("ipc: parse %q: %w", path, err)
	}
	return nil
}

// ResponsePath returns the outbox path for a request identifier.
func ResponsePath(dir, id string) string {
	return filepath.Join(dir, id+".json")
}

// Now returns the current time in Unix seconds as used by all protocol
// timestamps.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
