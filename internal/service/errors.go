package service

import "errors"

var (
	ErrCodeNotFound             = errors.New("serial code not found")
	ErrQuotaExhausted           = errors.New("serial code usage exhausted")
	ErrDispatchFailed           = errors.New("outbound call dispatch failed")
	ErrProviderMisconfigured    = errors.New("voice provider credentials missing")
	ErrResourceResolutionFailed = errors.New("audio resource could not be resolved")
)
