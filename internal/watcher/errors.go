package watcher

import "errors"

var (
	// ErrRegistration rejects a register call before any state mutation.
	ErrRegistration = errors.New("registration failed")

	// ErrUnknownWatcher marks operations referencing a missing id.
	ErrUnknownWatcher = errors.New("unknown watcher")

	// ErrAdapterFetch wraps upstream fetch failures caught per monitor.
	ErrAdapterFetch = errors.New("adapter fetch failed")

	// ErrDispatch marks a failed send; lastNotifiedAt stays unchanged so
	// the next sweep retries promptly.
	ErrDispatch = errors.New("dispatch failed")
)
