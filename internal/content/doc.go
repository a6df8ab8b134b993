// Package content classifies raw upstream response bodies before any
// parsing is attempted.
//
// A response is Valid (usable payload), Blocked (rate limit, consent wall,
// bot check — worth one session rotation and retry) or Malformed (junk —
// advance to the next stage). The classification order matters: empty and
// HTML bodies must be caught before a parser ever sees them.
package content
