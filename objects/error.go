package objects

import (
	"errors"
	"fmt"

	"github.com/miekg/pkcs11"
)

// Error codes used by the operation runtime. Every failure is reported with
// one of these, so callers can branch on the kind of failure instead of on
// the message.
const (
	NotAllowed                 = pkcs11.CKR_KEY_FUNCTION_NOT_PERMITTED
	NotSupported               = pkcs11.CKR_FUNCTION_NOT_SUPPORTED
	InvalidArguments           = pkcs11.CKR_ARGUMENTS_BAD
	BufferTooSmall             = pkcs11.CKR_BUFFER_TOO_SMALL
	SecurityStatusNotSatisfied = pkcs11.CKR_USER_NOT_LOGGED_IN
	OutOfMemory                = pkcs11.CKR_HOST_MEMORY
	Internal                   = pkcs11.CKR_GENERAL_ERROR
	InvalidData                = pkcs11.CKR_DATA_INVALID
	DecryptionFailed           = pkcs11.CKR_ENCRYPTED_DATA_INVALID
	DeviceError                = pkcs11.CKR_DEVICE_ERROR
)

// Error is the error type returned by every layer of the middleware.
// Who names the failing operation, Code is the Cryptoki return value the
// failure maps to. Size carries the required length on BufferTooSmall.
type Error struct {
	Who         string
	Description string
	Code        pkcs11.Error
	Size        int
}

// NewError returns an error for the operation who.
func NewError(who, description string, code pkcs11.Error) *Error {
	return &Error{
		Who:         who,
		Description: description,
		Code:        code,
	}
}

// NewBufferError returns a BufferTooSmall error that carries the length the
// caller must provide.
func NewBufferError(who string, required int) *Error {
	return &Error{
		Who:         who,
		Description: fmt.Sprintf("buffer too small, %d bytes required", required),
		Code:        BufferTooSmall,
		Size:        required,
	}
}

func (err *Error) Error() string {
	return fmt.Sprintf("%s: %s", err.Who, err.Description)
}

// Is reports whether target is an *Error with the same code.
func (err *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == err.Code
}

// Code returns the Cryptoki return value for err. A nil error is CKR_OK and
// errors that do not come from this module are CKR_GENERAL_ERROR.
func Code(err error) pkcs11.Error {
	if err == nil {
		return pkcs11.CKR_OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var rv pkcs11.Error
	if errors.As(err, &rv) {
		return rv
	}
	return pkcs11.CKR_GENERAL_ERROR
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code pkcs11.Error) bool {
	return err != nil && Code(err) == code
}

// RequiredSize returns the length carried by a BufferTooSmall error, or 0.
func RequiredSize(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Code == BufferTooSmall {
		return e.Size
	}
	return 0
}
