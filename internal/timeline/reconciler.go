package timeline

import "strings"

// Reconciler accumulates incrementally streamed assistant text into one
// logical message, independent of rendering cadence. At most one session is
// open at a time; Append and Complete are deliberate no-ops when no session
// is open, so duplicate or late chunks after an abort are harmless.
type Reconciler struct {
	target string
	buf    strings.Builder
	open   bool
}

// Start opens a session for the given message id. An already-open session
// for a different id is implicitly aborted first.
func (r *Reconciler) Start(id string) {
	if r.open && r.target == id {
		return
	}
	r.buf.Reset()
	r.target = id
	r.open = true
}

// Append adds a chunk to the open session.
func (r *Reconciler) Append(chunk string) {
	if !r.open {
		return
	}
	r.buf.WriteString(chunk)
}

// Buffer returns the text accumulated so far.
func (r *Reconciler) Buffer() string {
	return r.buf.String()
}

// Complete closes the session and returns the accumulated text. Returns ""
// when no session is open.
func (r *Reconciler) Complete() string {
	if !r.open {
		return ""
	}
	text := r.buf.String()
	r.reset()
	return text
}

// Abort discards the session, if any.
func (r *Reconciler) Abort() {
	r.reset()
}

// Open reports whether a session is in progress.
func (r *Reconciler) Open() bool { return r.open }

// Target returns the message id the open session writes to.
func (r *Reconciler) Target() string {
	if !r.open {
		return ""
	}
	return r.target
}

func (r *Reconciler) reset() {
	r.buf.Reset()
	r.target = ""
	r.open = false
}
