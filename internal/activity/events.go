// Package activity records learner telemetry and summarizes each learner's
// latest engagement status.
package activity

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

const (
	StatusEngaged         = "engaged"
	StatusAttentionDrift  = "attention_drift"
	StatusContentFriction = "content_friction"
	StatusUnknown         = "unknown"
)

const (
	ReasonNoInteraction = "no_interaction"
	ReasonTabHidden     = "tab_hidden"
	ReasonTabVisible    = "tab_visible"
	ReasonVideoPlay     = "video_play"
	ReasonVideoPause    = "video_pause"
)

var eventLabels = map[string]string{
	"idle.start":                  "Idle detected",
	"idle.end":                    "Attention resumed",
	"video.play":                  "Video started",
	"video.pause":                 "Video paused",
	"video.buffer.start":          "Video buffering",
	"video.buffer.end":            "Video resumed",
	"lesson.view":                 "Lesson viewed",
	"lesson.locked_click":         "Locked lesson clicked",
	"quiz.fail":                   "Quiz attempt failed",
	"quiz.pass":                   "Quiz passed",
	"quiz.retry":                  "Quiz retried",
	"quiz.progress":               "Quiz progress updated",
	"progress.snapshot":           "Progress snapshot",
	"persona.change":              "Persona updated",
	"notes.saved":                 "Notes saved",
	"cold_call.loaded":            "Cold-call prompt opened",
	"cold_call.submit":            "Cold-call response submitted",
	"cold_call.star":              "Cold-call star awarded",
	"cold_call.response_received": "Tutor responded to cold-call",
	"tutor.prompt":                "Tutor prompt sent",
	"tutor.response_received":     "Tutor response received",
}

var reasonLabels = map[string]string{
	ReasonNoInteraction: "No interaction detected",
	ReasonTabHidden:     "Browser tab hidden",
	ReasonTabVisible:    "Browser tab visible",
	ReasonVideoPlay:     "Video playing",
	ReasonVideoPause:    "Video paused",
}

var statusLabels = map[string]string{
	StatusEngaged:         "Engaged",
	StatusAttentionDrift:  "Attention drift",
	StatusContentFriction: "Content friction",
	StatusUnknown:         "Unknown",
}

// IsKnownEvent reports whether eventType is accepted by Record.
func IsKnownEvent(eventType string) bool {
	_, ok := eventLabels[eventType]
	return ok
}

// Derive maps an event to its engagement status and optional reason.
func Derive(eventType string, payload json.RawMessage) (status string, reason string) {
	switch eventType {
	case "idle.start":
		reason := payloadReason(payload)
		if reason != ReasonTabHidden && reason != ReasonNoInteraction {
			reason = ReasonNoInteraction
		}
		return StatusAttentionDrift, reason
	case "idle.end":
		reason := payloadReason(payload)
		if reason == "" {
			reason = ReasonTabVisible
		}
		return StatusEngaged, reason
	case "video.pause":
		return StatusAttentionDrift, ReasonVideoPause
	case "video.play":
		return StatusEngaged, ReasonVideoPlay
	case "video.buffer.start", "lesson.locked_click", "quiz.fail", "quiz.retry":
		return StatusContentFriction, ""
	case "progress.snapshot":
		return StatusUnknown, ""
	}
	// Every other known event is a sign of active interaction.
	if IsKnownEvent(eventType) {
		return StatusEngaged, ""
	}
	return StatusUnknown, ""
}

func payloadReason(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	return strings.TrimSpace(body.Reason)
}

// EventLabel returns a human label for an event type.
func EventLabel(eventType string) string {
	return friendlyLabel(eventType, eventLabels)
}

// ReasonLabel returns a human label for a status reason.
func ReasonLabel(reason string) string {
	if reason == "" {
		return ""
	}
	return friendlyLabel(reason, reasonLabels)
}

func StatusLabel(status string) string {
	if status == "" {
		status = StatusUnknown
	}
	return friendlyLabel(status, statusLabels)
}

var verbatimLabel = regexp.MustCompile(`[\s()]`)

func friendlyLabel(source string, dictionary map[string]string) string {
	if label, ok := dictionary[strings.ToLower(source)]; ok {
		return label
	}
	if verbatimLabel.MatchString(source) {
		return source
	}
	words := strings.FieldsFunc(source, func(r rune) bool { return r == '.' || r == '_' })
	for i, word := range words {
		first, size := utf8.DecodeRuneInString(word)
		words[i] = string(unicode.ToUpper(first)) + word[size:]
	}
	return strings.Join(words, " ")
}
