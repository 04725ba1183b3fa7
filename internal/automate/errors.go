package automate

import "errors"

var (
	// ErrRunInProgress is returned when a run is requested while one
	// is already active. The caller backs off; nothing is queued.
	ErrRunInProgress = errors.New("automation already in progress")

	// ErrEditContextUnavailable means the edit view could not be
	// opened within its timeout. Run-fatal.
	ErrEditContextUnavailable = errors.New("edit context unavailable")

	// ErrNavigationDuringAutomation means the page identity changed
	// mid-run. Run-fatal, checked before every step.
	ErrNavigationDuringAutomation = errors.New("navigation detected during automation")

	// ErrRunCancelled means the user cancelled the run.
	ErrRunCancelled = errors.New("automation cancelled")
)
