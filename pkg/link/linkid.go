// Package link implements the bidirectional packet-delivery contract
// between nodes, over in-process channels (mpsc and a corrupting variant
// for testing) and over UDP/IP.
package link

import "github.com/sjmackenzie/copernica-go/pkg/wire"

// LinkId identifies one endpoint of a Link. A listening LinkId has no
// Remote; after a peer handshake, a Remote is recorded. Two LinkIds
// compare equal iff both endpoints match.
type LinkId struct {
	Local  wire.ReplyTo
	Remote *wire.ReplyTo
}

// Listen constructs a listening LinkId bound to local, with no remote
// peer recorded yet.
func Listen(local wire.ReplyTo) LinkId {
	return LinkId{Local: local}
}

// WithRemote returns a copy of id with remote recorded as its peer.
func (id LinkId) WithRemote(remote wire.ReplyTo) LinkId {
	id.Remote = &remote
	return id
}

// Equal reports whether id and other address the same two endpoints.
func (id LinkId) Equal(other LinkId) bool {
	if !id.Local.Equal(other.Local) {
		return false
	}
	if (id.Remote == nil) != (other.Remote == nil) {
		return false
	}
	if id.Remote == nil {
		return true
	}
	return id.Remote.Equal(*other.Remote)
}

func (id LinkId) String() string {
	if id.Remote == nil {
		return id.Local.String() + " -> <listening>"
	}
	return id.Local.String() + " -> " + id.Remote.String()
}
