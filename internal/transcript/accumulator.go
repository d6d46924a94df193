// Package transcript builds the raw dictation buffer from finalized transcript fragments.
package transcript

import "strings"

// Append adds a finalized fragment to the raw-text buffer.
// Fragments are joined with a single space unless the buffer already ends a line.
func Append(buffer, fragment string) string {
	if buffer == "" {
		return fragment
	}
	if strings.HasSuffix(buffer, "\n") {
		return buffer + fragment
	}
	return buffer + " " + fragment
}

// Accumulator holds the raw-text buffer for one session.
// It is not safe for concurrent use; a session has exactly one writer.
type Accumulator struct {
	text      string
	fragments int
}

// Add appends fragment in arrival order.
func (a *Accumulator) Add(fragment string) {
	a.text = Append(a.text, fragment)
	a.fragments++
}

// Text returns the buffer contents.
func (a *Accumulator) Text() string {
	return a.text
}

// Fragments returns how many fragments have been appended.
func (a *Accumulator) Fragments() int {
	return a.fragments
}
