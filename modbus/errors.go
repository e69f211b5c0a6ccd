package modbus

import (
	"errors"
	"fmt"
)

// Transport sentinels. Callers match these with errors.Is to tell a dead
// link apart from a slave that is simply not answering.
var (
	// ErrDisconnected indicates the serial port or socket is not open.
	ErrDisconnected = errors.New("modbus: transport disconnected")
	// ErrNoResponse indicates the request was sent but nothing came back
	// within the read timeout.
	ErrNoResponse = errors.New("modbus: no response from unit")
	// ErrBadFrame indicates a response that could not be framed: too
	// short, a CRC mismatch, or a truncated MBAP header.
	ErrBadFrame = errors.New("modbus: malformed frame")
)

// Error is a custom type for Modbus errors
type Error struct {
	msg  string
	code uint8
}

func (err *Error) Error() string {
	return err.msg
}

// Code is the Modbus code used to identify the type of modbus error
func (err *Error) Code() uint8 {
	return err.code
}

// asPDU returns the error in the form of a Modbus exception response PDU
// for the function that failed.
func (err *Error) asPDU(function uint8) pdu {
	p := pdu{}
	p.function = function | 0x80
	p.data = make([]uint8, 1)
	p.data[0] = err.code
	return p
}

// exceptionError converts an exception code received off the wire in to the
// matching *Error so clients surface the same taxonomy servers produce.
func exceptionError(function, code uint8) *Error {
	switch code {
	case 1:
		return IllegalFunctionErrorF("Exception response 01 for function %02x: illegal function", function)
	case 2:
		return IllegalAddressErrorF("Exception response 02 for function %02x: illegal data address", function)
	case 3:
		return IllegalValueErrorF("Exception response 03 for function %02x: illegal data value", function)
	case 6:
		return ServerBusyErrorF("Exception response 06 for function %02x: server busy", function)
	default:
		return &Error{fmt.Sprintf("Exception response %02x for function %02x", code, function), code}
	}
}

// IllegalFunctionErrorF represents an invalid function code - Modbus error code 1
func IllegalFunctionErrorF(format string, args ...interface{}) *Error {
	return &Error{fmt.Sprintf(format, args...), 1}
}

// IllegalAddressErrorF represents an invalid address - Modbus error code 2
func IllegalAddressErrorF(format string, args ...interface{}) *Error {
	return &Error{fmt.Sprintf(format, args...), 2}
}

// IllegalValueErrorF represents an illegal data value - Modbus error code 3
func IllegalValueErrorF(format string, args ...interface{}) *Error {
	return &Error{fmt.Sprintf(format, args...), 3}
}

// ServerFailureErrorF represents an error that is not represented by the above types  - Modbus error code 4
func ServerFailureErrorF(format string, args ...interface{}) *Error {
	return &Error{fmt.Sprintf(format, args...), 4}
}

// ServerBusyErrorF represents a condition in which the server is busy and cannot process the client request  - Modbus error code 6
func ServerBusyErrorF(format string, args ...interface{}) *Error {
	return &Error{fmt.Sprintf(format, args...), 6}
}
