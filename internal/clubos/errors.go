package clubos

import "errors"

// Sentinel errors for the submit path. The API layer maps these to HTTP
// statuses; anything that goes wrong after dispatch surfaces through job
// state, never as a submit error.
var (
	// ErrInvalidRequest means a request field failed validation before any
	// lookup or dispatch work happened.
	ErrInvalidRequest = errors.New("clubos: invalid request")

	// ErrNotFound covers unknown action names and unknown location/bay
	// mappings. The wrapping error names what was missing.
	ErrNotFound = errors.New("clubos: not found")

	// ErrUnauthorized means the requesting user's role is below the
	// action's minimum.
	ErrUnauthorized = errors.New("clubos: not authorized")

	// ErrConfirmationRequired means the action needs an explicit confirmed
	// flag and the request did not carry one. Nothing was dispatched.
	ErrConfirmationRequired = errors.New("clubos: confirmation required")

	// ErrCredential means the provider token exchange failed. Never carries
	// secret material.
	ErrCredential = errors.New("clubos: credential exchange failed")

	// ErrDispatch means the provider rejected or failed the dispatch call.
	ErrDispatch = errors.New("clubos: dispatch failed")

	// ErrDeviceBusy means the target device already has a live job.
	ErrDeviceBusy = errors.New("clubos: device busy")
)
