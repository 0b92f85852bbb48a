package camera

import (
	"errors"
	"fmt"
)

// FailureReason 摄像头无法打开的原因
type FailureReason string

const (
	ReasonPermission FailureReason = "permission"
	ReasonBusy       FailureReason = "busy"
	ReasonNoDevice   FailureReason = "no_device"
	ReasonHardware   FailureReason = "hardware"
)

const accessMessage = "Could not access camera. Please ensure you have granted permission and that your camera is not in use by another application."

var (
	ErrNotOpen         = errors.New("camera is not open")
	ErrZoomUnsupported = errors.New("zoom is not supported by the active camera")
)

// PermissionOrHardwareError 无法获取设备句柄时返回
type PermissionOrHardwareError struct {
	Reason FailureReason
	Err    error
}

func (e *PermissionOrHardwareError) Error() string {
	if e.Err == nil {
		return accessMessage
	}
	return fmt.Sprintf("%s (%s: %v)", accessMessage, e.Reason, e.Err)
}

func (e *PermissionOrHardwareError) Unwrap() error { return e.Err }

func newAccessError(err error) *PermissionOrHardwareError {
	reason := ReasonHardware
	switch {
	case errors.Is(err, ErrPermissionDenied):
		reason = ReasonPermission
	case errors.Is(err, ErrDeviceBusy):
		reason = ReasonBusy
	case errors.Is(err, ErrNoDevice):
		reason = ReasonNoDevice
	}
	return &PermissionOrHardwareError{Reason: reason, Err: err}
}
