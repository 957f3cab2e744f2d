// Package notify delivers short-lived messages to whichever view is showing.
package notify

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"
)

// Notifier flashes text for duration.
type Notifier interface {
	Notify(text string, duration time.Duration)
}

// Func adapts a function to Notifier.
type Func func(text string, duration time.Duration)

// Notify implements Notifier.
func (f Func) Notify(text string, duration time.Duration) {
	f(text, duration)
}

// Discard drops every notification.
var Discard Notifier = Func(func(string, time.Duration) {})

// Message is a pending notification.
type Message struct {
	Text       string `json:"text"`
	DurationMs int64  `json:"durationMs"`
}

// Duration returns the display duration.
func (m Message) Duration() time.Duration {
	return time.Duration(m.DurationMs) * time.Millisecond
}

const flashCookie = "fc_flash"

// Flash carries one notification across a redirect in a short-lived cookie.
type Flash struct {
	w      http.ResponseWriter
	secure bool
}

// NewFlash returns a notifier bound to the response being written.
func NewFlash(w http.ResponseWriter, secure bool) *Flash {
	return &Flash{w: w, secure: secure}
}

// Notify stores the message for the next rendered page.
func (f *Flash) Notify(text string, duration time.Duration) {
	data, err := json.Marshal(Message{Text: text, DurationMs: duration.Milliseconds()})
	if err != nil {
		return
	}
	http.SetCookie(f.w, &http.Cookie{
		Name:     flashCookie,
		Value:    base64.RawURLEncoding.EncodeToString(data),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		Secure:   f.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Pop reads and clears the pending notification, if any.
func Pop(w http.ResponseWriter, r *http.Request) (Message, bool) {
	cookie, err := r.Cookie(flashCookie)
	if err != nil || cookie.Value == "" {
		return Message{}, false
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookie, Value: "", Path: "/", MaxAge: -1})

	data, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return Message{}, false
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Text == "" {
		return Message{}, false
	}
	return msg, true
}

// Recorder keeps notifications in memory. Useful for rendering a message
// on the same response instead of after a redirect.
type Recorder struct {
	Messages []Message
}

// Notify implements Notifier.
func (r *Recorder) Notify(text string, duration time.Duration) {
	r.Messages = append(r.Messages, Message{Text: text, DurationMs: duration.Milliseconds()})
}

// Last returns the most recent message.
func (r *Recorder) Last() (Message, bool) {
	if len(r.Messages) == 0 {
		return Message{}, false
	}
	return r.Messages[len(r.Messages)-1], true
}
