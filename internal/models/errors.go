package models

import "errors"

// Failure taxonomy shared across the storage, matching and API layers.
// Storage and engine code wraps these with fmt.Errorf("...: %w", err);
// the API layer maps them to response statuses with errors.Is.
var (
	ErrProductNotFound     = errors.New("product does not exist")
	ErrProductSizeNotFound = errors.New("product size does not exist")
	ErrUserNotFound        = errors.New("user does not exist")
	ErrAskNotFound         = errors.New("no matchable ask")
	ErrBidNotFound         = errors.New("no matchable bid")
	ErrMissingField        = errors.New("required field missing")
	ErrInvalidValue        = errors.New("field value out of allowed set")
)
