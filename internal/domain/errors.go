package domain

import "errors"

// Review workflow rejections. Each leaves the group untouched.
var (
	ErrInvalidAction       = errors.New("invalid action")
	ErrKeepIDRequired      = errors.New("keep id required for delete_duplicate")
	ErrNotMember           = errors.New("keep id is not a member of the group")
	ErrAlreadyReviewed     = errors.New("already reviewed")
	ErrGroupNotFound       = errors.New("review group not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidTransaction  = errors.New("invalid transaction")
)
