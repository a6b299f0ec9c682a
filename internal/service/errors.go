package service

import "errors"

// Reservation engine outcomes. All of these are expected, user-facing
// conditions; anything else bubbling out of Reserve is an internal error
// after best-effort rollback.
var (
	ErrSaleWindowClosed    = errors.New("sale window is not open")
	ErrItemNotInSale       = errors.New("item is not part of this sale")
	ErrAlreadyParticipated = errors.New("user already has a reservation for this sale")
	ErrOutOfStock          = errors.New("item is out of stock")
	ErrPaymentInitFailed   = errors.New("payment initiation failed")
)

// Session authority outcomes. AuthenticationFailed is terminal for the
// request; SessionInvalid additionally means the refresh path failed and
// the client must log in again.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrSessionInvalid       = errors.New("session invalid")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountSuspended     = errors.New("account suspended")
)
