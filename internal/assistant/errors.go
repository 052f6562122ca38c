package assistant

import "errors"

var (
	ErrNoSelection  = errors.New("no scan selected")
	ErrEmptyMessage = errors.New("message content is empty")
	ErrBusy         = errors.New("previous request still in progress")
	ErrUnknownTab   = errors.New("unknown tab")
	ErrRejectedFile = errors.New("scan file rejected")
)
