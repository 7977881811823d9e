// Package services holds the relay's business logic: reference tokens, the
// identity registry, the publication pipeline, reply correlation and
// broadcast dispatch. This file centralizes service-level error values so
// callers can match on them with errors.Is.
//
// Translation into chat notices or HTTP status codes happens in the bot
// engine and the HTTP handlers.
package services

import "errors"

var (
	// ErrNotFound is returned when a token or identity does not resolve to
	// a stored record. Malformed tokens are reported the same way.
	ErrNotFound = errors.New("not found")

	// ErrEmptyBody is returned when a draft has no visible content.
	ErrEmptyBody = errors.New("message body is empty")

	// ErrBodyTooLong is returned when a draft exceeds the configured limit.
	ErrBodyTooLong = errors.New("message body too long")

	// ErrPublishFailed wraps any failure of the publication pipeline before
	// the message became durable.
	ErrPublishFailed = errors.New("publish failed")

	// ErrPublishUnrecorded accompanies ErrPublishFailed when the channel
	// post went out but the record could not be stored. Retrying would post
	// the text a second time.
	ErrPublishUnrecorded = errors.New("channel post sent but not recorded")
)
