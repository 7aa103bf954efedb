package database

import "fmt"

// Custom errors returned by the repositories
var ErrKnownRecordNotFound = fmt.Errorf("known record not found")
var ErrPendingConfirmationNotFound = fmt.Errorf("pending confirmation not found")
var ErrLinkNotFound = fmt.Errorf("customer link not found")
