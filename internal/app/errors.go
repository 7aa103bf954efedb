package app

import "fmt"

// Application-level errors
var ErrTransientFetch = fmt.Errorf("booking source fetch failed")
var ErrStorage = fmt.Errorf("storage unavailable")
var ErrConfirmationFailed = fmt.Errorf("booking source rejected the confirmation")
var ErrAdminNotAuthorized = fmt.Errorf("performing user is not authorized as an admin")

// storageError marks err as fatal for the current tick.
func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

func fetchError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransientFetch, err)
}
