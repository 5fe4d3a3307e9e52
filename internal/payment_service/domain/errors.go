package domain

import "errors"

var (
	ErrInvalidPackage      = errors.New("invalid or inactive package")
	ErrSessionNotFound     = errors.New("payment session not found")
	ErrDuplicateSession    = errors.New("payment session already exists")
	ErrInvalidTransition   = errors.New("invalid payment session transition")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrGatewayRejected     = errors.New("payment gateway rejected the order")
	ErrVerificationPending = errors.New("payment verification pending")
	ErrAmountMismatch      = errors.New("authorised amount does not match session")
	ErrInvalidSignature    = errors.New("invalid callback signature")
	ErrLedgerEntryNotFound = errors.New("ledger entry not found")
	ErrPackageNotFound     = errors.New("package not found")
)
