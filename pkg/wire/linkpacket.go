package wire

// LinkPacket is the only thing carried on the wire: a narrow-waist packet
// plus the upstream reply address it should be answered along.
type LinkPacket struct {
	ReplyTo ReplyTo
	NW      NarrowWaist
}

// Encode renders p as its on-link byte representation.
func (p LinkPacket) Encode() []byte {
	buf := make([]byte, 0, MTU)
	buf = encodeReplyTo(buf, p.ReplyTo)
	buf = EncodeNarrowWaist(buf, p.NW)
	return buf
}

// Decode parses a LinkPacket from data. It returns a *DecodeError (never a
// panic) for any malformed input: unknown discriminant, truncated input,
// an over-long Response payload.
func Decode(data []byte) (LinkPacket, error) {
	replyTo, rest, err := decodeReplyTo(data)
	if err != nil {
		return LinkPacket{}, err
	}
	nw, rest, err := DecodeNarrowWaist(rest)
	if err != nil {
		return LinkPacket{}, err
	}
	if len(rest) != 0 {
		return LinkPacket{}, &DecodeError{Reason: "trailing bytes after LinkPacket"}
	}
	return LinkPacket{ReplyTo: replyTo, NW: nw}, nil
}
