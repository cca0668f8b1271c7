package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidTick         = errors.New("invalid tick")
	ErrWatermarkRegression = errors.New("watermark regression")
	ErrLockHeld            = errors.New("lock already held")
	ErrFeedDisconnect      = errors.New("feed disconnected")
)
