package events

import "errors"

// ErrLogUnknownTask is returned when appending to a task the log has
// never opened.
var ErrLogUnknownTask = errors.New("task not registered with event log")

// ErrLogClosed is returned when appending after the terminal event.
var ErrLogClosed = errors.New("event log closed by terminal event")
