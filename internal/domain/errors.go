package domain

import "errors"

var (
	ErrMessageNotFound    = errors.New("message not found")
	ErrChannelNotFound    = errors.New("channel not found")
	ErrHistoryUnsupported = errors.New("channel history not supported by this platform")
)
