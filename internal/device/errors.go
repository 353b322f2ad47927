package device

import (
	"errors"
	"fmt"
	"strings"
)

// Code is the string tag surfaced to bridge callers.
type Code string

const (
	CodeBluetoothOff       Code = "BLUETOOTH_OFF"
	CodeDeviceNotFound     Code = "DEVICE_NOT_FOUND"
	CodeNoConnectedDevice  Code = "NO_CONNECTED_DEVICE"
	CodeConnectFailed      Code = "CONNECT_FAILED"
	CodeConnectInitFailed  Code = "CONNECT_INIT_FAILED"
	CodeConnectTimeout     Code = "CONNECT_TIMEOUT"
	CodeAlreadyConnected   Code = "ALREADY_CONNECTED"
	CodeRequestConflict    Code = "REQUEST_CONFLICT"
	CodeInvalidArguments   Code = "INVALID_ARGUMENTS"
	CodeScanFailed         Code = "SCAN_FAILED"
	CodeAuthFailed         Code = "AUTH_FAILED"
	CodeWifiScanFailed     Code = "WIFI_SCAN_FAILED"
	CodeProvisionFailed    Code = "PROVISION_FAILED"
	CodeNameChangeFailed   Code = "NAME_CHANGE_FAILED"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeDeviceDisconnected Code = "DEVICE_DISCONNECTED"
	CodeNotImplemented     Code = "NOT_IMPLEMENTED"
	CodeInternal           Code = "INTERNAL"
)

// Error is the structured error of the bridge. Two Errors match under errors.Is when
// their codes are equal, so wrapped and annotated errors still compare to the sentinels.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := strings.ToLower(strings.ReplaceAll(string(e.Code), "_", " "))
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare Error values by Code
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Predefined sentinel errors
var (
	ErrBluetoothOff       = &Error{Code: CodeBluetoothOff}
	ErrDeviceNotFound     = &Error{Code: CodeDeviceNotFound}
	ErrNotConnected       = &Error{Code: CodeNoConnectedDevice}
	ErrConnectFailed      = &Error{Code: CodeConnectFailed}
	ErrConnectInitFailed  = &Error{Code: CodeConnectInitFailed}
	ErrConnectTimeout     = &Error{Code: CodeConnectTimeout}
	ErrAlreadyConnected   = &Error{Code: CodeAlreadyConnected}
	ErrRequestConflict    = &Error{Code: CodeRequestConflict}
	ErrInvalidArguments   = &Error{Code: CodeInvalidArguments}
	ErrScanFailed         = &Error{Code: CodeScanFailed}
	ErrAuthFailed         = &Error{Code: CodeAuthFailed}
	ErrWifiScanFailed     = &Error{Code: CodeWifiScanFailed}
	ErrProvisionFailed    = &Error{Code: CodeProvisionFailed}
	ErrNameChangeFailed   = &Error{Code: CodeNameChangeFailed}
	ErrPermissionDenied   = &Error{Code: CodePermissionDenied}
	ErrDeviceDisconnected = &Error{Code: CodeDeviceDisconnected}
	ErrNotImplemented     = &Error{Code: CodeNotImplemented}
)

// Wrap annotates cause with the given code. A nil cause yields a bare coded error.
func Wrap(code Code, msg string, cause error) error {
	return &Error{Code: code, Msg: msg, Err: cause}
}

// Errorf builds a coded error with a formatted message.
func Errorf(code Code, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf returns the outermost code in err's chain, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code anywhere in its chain
func IsCode(err error, code Code) bool {
	return errors.Is(err, &Error{Code: code})
}
