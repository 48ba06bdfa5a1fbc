package busadapter

import (
	"github.com/godbus/dbus/v5"
)

// UnixUserAuthorizer resolves a sender's unique bus name to its connection
// UID via the bus daemon, comparing it against the configured root/core
// UIDs.
type UnixUserAuthorizer struct {
	conn    *dbus.Conn
	rootUID uint32
	coreUID uint32
}

// NewUnixUserAuthorizer returns an authorizer bound to conn and the given
// UIDs.
func NewUnixUserAuthorizer(conn *dbus.Conn, rootUID, coreUID uint32) *UnixUserAuthorizer {
	return &UnixUserAuthorizer{conn: conn, rootUID: rootUID, coreUID: coreUID}
}

func (a *UnixUserAuthorizer) senderUID(sender dbus.Sender) (uint32, bool) {
	obj := a.conn.BusObject()

	var uid uint32
	if err := obj.Call("org.freedesktop.DBus.GetConnectionUnixUser", 0, string(sender)).Store(&uid); err != nil {
		return 0, false
	}

	return uid, true
}

// IsOwner implements PeerAuthorizer.
func (a *UnixUserAuthorizer) IsOwner(sender dbus.Sender) bool {
	uid, ok := a.senderUID(sender)

	return ok && uid == a.rootUID
}

// IsUser implements PeerAuthorizer.
func (a *UnixUserAuthorizer) IsUser(sender dbus.Sender) bool {
	uid, ok := a.senderUID(sender)

	return ok && uid == a.coreUID
}
