package ui

import (
	"fmt"
	"strconv"
)

// ANSI256 color codes.
const (
	colorAccent = 74  // blue
	colorMuted  = 245 // medium gray
	colorOK     = 114 // green
	colorWarn   = 214 // amber
	colorError  = 203 // red
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderOK returns s in green.
func RenderOK(s string) string { return paint(colorOK, s) }

// RenderWarn returns s in amber.
func RenderWarn(s string) string { return paint(colorWarn, s) }

// RenderError returns s in red.
func RenderError(s string) string { return paint(colorError, s) }

// badgeOverflow is the largest count a badge shows before "99+".
const badgeOverflow = 99

// UnreadBadge renders an unread counter, or "" when there is nothing unread.
func UnreadBadge(n int) string {
	if n <= 0 {
		return ""
	}
	label := strconv.Itoa(n)
	if n > badgeOverflow {
		label = strconv.Itoa(badgeOverflow) + "+"
	}
	return RenderError("(" + label + ")")
}

// RenderOnOff renders a boolean setting.
func RenderOnOff(on bool) string {
	if on {
		return RenderOK("on")
	}
	return RenderMuted("off")
}

// RenderTaskState colors a poller state name.
func RenderTaskState(state string) string {
	switch state {
	case "running":
		return RenderAccent(state)
	case "scheduled":
		return RenderOK(state)
	default:
		return RenderMuted(state)
	}
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

// Init disables color when ShouldUseColor says stdout cannot take it.
func Init() {
	if !ShouldUseColor() {
		ForceNoColor()
	}
}
