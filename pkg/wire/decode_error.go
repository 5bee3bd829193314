package wire

// DecodeError reports malformed inbound bytes: an unknown discriminant, a
// truncated buffer, a length prefix exceeding the remaining buffer, or a
// Response whose declared data length exceeds FragmentSize. Per the error
// handling design, a DecodeError is never propagated as a system error —
// callers trace-log it and drop the datagram.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "wire: decode error: " + e.Reason
}
