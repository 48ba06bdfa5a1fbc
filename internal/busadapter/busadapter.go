// Package busadapter exposes the Update Service State Machine over D-Bus
// as object com.coreos.update1.Manager, using
// github.com/godbus/dbus/v5. Access policy (owner root may own/send; user
// core may invoke the three methods but is denied Introspectable and
// Properties) is enforced here at the adapter boundary, not inside the
// service core.
package busadapter

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/rs/zerolog"

	"github.com/coreos/update-engine/internal/service"
)

// BusName is the well-known D-Bus name the manager object is exported under.
const BusName = "com.coreos.update1"

// ObjectPath is the D-Bus object path of the Manager interface.
const ObjectPath = "/com/coreos/update1"

// InterfaceName is the D-Bus interface name.
const InterfaceName = "com.coreos.update1.Manager"

// Standard D-Bus interfaces the access policy gates per sender.
const (
	ifaceIntrospectable = "org.freedesktop.DBus.Introspectable"
	ifaceProperties     = "org.freedesktop.DBus.Properties"
)

// deniedInterfaces lists the interfaces the "core" user peer must never
// reach.
var deniedInterfaces = map[string]bool{
	ifaceIntrospectable: true,
	ifaceProperties:     true,
}

// accessDenied is the D-Bus error returned when the access policy denies a
// sender a method or interface.
func accessDenied(sender dbus.Sender, what string) *dbus.Error {
	return dbus.NewError("org.freedesktop.DBus.Error.AccessDenied",
		[]interface{}{fmt.Sprintf("sender %s denied %s", sender, what)})
}

// allowedMethods lists the three methods a "core" peer may invoke.
var allowedMethods = map[string]bool{
	"AttemptUpdate": true,
	"ResetStatus":   true,
	"GetStatus":     true,
}

// PeerAuthorizer decides whether a sender may invoke a given method or
// interface. Swapped out in tests; production wires it to the peer
// credential lookup (sender uid via the bus's GetConnectionUnixUser).
type PeerAuthorizer interface {
	// IsOwner reports whether sender is the root-owned management peer,
	// which may invoke anything.
	IsOwner(sender dbus.Sender) bool
	// IsUser reports whether sender is the "core" user peer, which may only
	// invoke AttemptUpdate/ResetStatus/GetStatus and nothing else.
	IsUser(sender dbus.Sender) bool
}

// Manager implements the com.coreos.update1.Manager D-Bus object, backed by
// a service.Service.
type Manager struct {
	svc  *service.Service
	auth PeerAuthorizer
	log  zerolog.Logger
}

// NewManager returns a Manager exporting svc over D-Bus.
func NewManager(svc *service.Service, auth PeerAuthorizer, log zerolog.Logger) *Manager {
	return &Manager{svc: svc, auth: auth, log: log.With().Str("component", "busadapter").Logger()}
}

// authorize enforces the owner/user/deny policy for method. Returns a
// *dbus.Error suitable for returning directly from an exported method.
func (m *Manager) authorize(sender dbus.Sender, method string) *dbus.Error {
	if m.auth.IsOwner(sender) {
		return nil
	}

	if m.auth.IsUser(sender) && allowedMethods[method] {
		return nil
	}

	return accessDenied(sender, method)
}

// AttemptUpdate implements the AttemptUpdate bus method.
func (m *Manager) AttemptUpdate(sender dbus.Sender) *dbus.Error {
	if err := m.authorize(sender, "AttemptUpdate"); err != nil {
		return err
	}

	m.svc.AttemptUpdate(context.Background())

	return nil
}

// ResetStatus implements the ResetStatus bus method.
func (m *Manager) ResetStatus(sender dbus.Sender) *dbus.Error {
	if err := m.authorize(sender, "ResetStatus"); err != nil {
		return err
	}

	m.svc.ResetStatus()

	return nil
}

// GetStatus implements the GetStatus bus method, returning the current
// status as a flat tuple for D-Bus marshalling.
func (m *Manager) GetStatus(sender dbus.Sender) (int64, float64, string, string, uint64, *dbus.Error) {
	if err := m.authorize(sender, "GetStatus"); err != nil {
		return 0, 0, "", "", 0, err
	}

	st := m.svc.GetStatus()

	return st.LastCheckedUnix, st.ProgressFrac, st.StateString(), st.NewVersion, st.NewSizeBytes, nil
}

// DenyIntrospection reports whether sender must be denied org.freedesktop.
// DBus.Introspectable/Properties, per the access policy: the owner is never
// denied; every other sender, the user peer included, always is.
func (m *Manager) DenyIntrospection(sender dbus.Sender, iface string) bool {
	if m.auth.IsOwner(sender) {
		return false
	}

	return deniedInterfaces[iface]
}

// Introspection serves org.freedesktop.DBus.Introspectable for the manager
// object, consulting the access policy per call. godbus only serves the
// interfaces an object explicitly exports, so both halves of the policy
// (the owner keeping access, the user peer being denied) must be enforced
// here rather than left to the bus policy file.
type Introspection struct {
	m   *Manager
	xml string
}

// NewIntrospection returns the gated Introspectable handler for m.
func NewIntrospection(m *Manager) Introspection {
	return Introspection{m: m, xml: introspectXML()}
}

// Introspect implements org.freedesktop.DBus.Introspectable.
func (i Introspection) Introspect(sender dbus.Sender) (string, *dbus.Error) {
	if i.m.DenyIntrospection(sender, ifaceIntrospectable) {
		return "", accessDenied(sender, ifaceIntrospectable)
	}

	return i.xml, nil
}

// Properties serves org.freedesktop.DBus.Properties for the manager object.
// The manager exposes no properties, so an authorized peer gets the
// interface's empty/unknown answers while a denied peer gets AccessDenied.
type Properties struct {
	m *Manager
}

// NewProperties returns the gated Properties handler for m.
func NewProperties(m *Manager) Properties {
	return Properties{m: m}
}

// Get implements org.freedesktop.DBus.Properties.Get.
func (p Properties) Get(sender dbus.Sender, _, property string) (dbus.Variant, *dbus.Error) {
	if p.m.DenyIntrospection(sender, ifaceProperties) {
		return dbus.Variant{}, accessDenied(sender, ifaceProperties)
	}

	return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty", []interface{}{property})
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll.
func (p Properties) GetAll(sender dbus.Sender, _ string) (map[string]dbus.Variant, *dbus.Error) {
	if p.m.DenyIntrospection(sender, ifaceProperties) {
		return nil, accessDenied(sender, ifaceProperties)
	}

	return map[string]dbus.Variant{}, nil
}

// Set implements org.freedesktop.DBus.Properties.Set.
func (p Properties) Set(sender dbus.Sender, _, property string, _ dbus.Variant) *dbus.Error {
	if p.m.DenyIntrospection(sender, ifaceProperties) {
		return accessDenied(sender, ifaceProperties)
	}

	return dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty", []interface{}{property})
}

// introspectXML describes the manager object: the Manager interface's three
// methods plus the standard Introspectable data.
func introspectXML() string {
	node := &introspect.Node{
		Name: ObjectPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: InterfaceName,
				Methods: []introspect.Method{
					{Name: "AttemptUpdate"},
					{Name: "ResetStatus"},
					{
						Name: "GetStatus",
						Args: []introspect.Arg{
							{Name: "last_checked_time", Type: "x", Direction: "out"},
							{Name: "progress", Type: "d", Direction: "out"},
							{Name: "current_operation", Type: "s", Direction: "out"},
							{Name: "new_version", Type: "s", Direction: "out"},
							{Name: "new_size", Type: "t", Direction: "out"},
						},
					},
				},
			},
		},
	}

	return string(introspect.NewIntrospectable(node))
}

// Export registers the Manager interface and the policy-gated
// Introspectable and Properties handlers on conn at ObjectPath, then
// requests BusName.
func Export(conn *dbus.Conn, m *Manager) error {
	if err := conn.Export(m, dbus.ObjectPath(ObjectPath), InterfaceName); err != nil {
		return fmt.Errorf("busadapter: export: %w", err)
	}

	if err := conn.Export(NewIntrospection(m), dbus.ObjectPath(ObjectPath), ifaceIntrospectable); err != nil {
		return fmt.Errorf("busadapter: export introspectable: %w", err)
	}

	if err := conn.Export(NewProperties(m), dbus.ObjectPath(ObjectPath), ifaceProperties); err != nil {
		return fmt.Errorf("busadapter: export properties: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("busadapter: request name: %w", err)
	}

	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("busadapter: name %s already owned", BusName)
	}

	return nil
}
