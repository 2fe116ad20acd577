package orchestrator

import (
	"context"
	"net/netip"
	"time"

	"uplink"
	"uplink/verify"
)

// InterfaceController performs primitive operations on the radio and its
// AP-mode virtual interface. In production this is netdev.Manager.
type InterfaceController interface {
	State(ctx context.Context, iface string) (uplink.RadioInterface, error)
	SetManaged(ctx context.Context, iface string) error
	SetAPMode(ctx context.Context, iface string) error
	CreateAPInterface(ctx context.Context, physical, virtual string) error
	DestroyAPInterface(ctx context.Context, virtual string) error
	AssignStaticAddress(ctx context.Context, iface string, cidr netip.Prefix) error
	FlushAddresses(ctx context.Context, iface string) error
	Scan(ctx context.Context, iface string) ([]uplink.Network, error)
}

// Supplicant owns the client-mode authentication process for an interface.
type Supplicant interface {
	Connect(ctx context.Context, iface string, cred uplink.UplinkCredential, timeout time.Duration) (uplink.AssociationResult, error)
	Disconnect(ctx context.Context, iface string) error
}

// AccessPoint owns the hostapd/dnsmasq pair and the NAT rules for the
// setup network.
type AccessPoint interface {
	Start(ctx context.Context, cfg uplink.APConfig) error
	Stop(ctx context.Context) error
	Healthy(ctx context.Context) bool
}

// DHCPClient obtains a lease on the station interface after association.
type DHCPClient interface {
	Acquire(ctx context.Context, iface string) error
}

// Verifier confirms that a transition actually took: link-layer
// association plus an assigned address, read from the kernel.
type Verifier interface {
	Verify(ctx context.Context, iface string) (uplink.ConnectivityReport, error)
	WaitVerified(ctx context.Context, iface, ssid string, policy verify.Policy) (uplink.ConnectivityReport, error)
}

// CredentialStore persists the last-known-good uplink credential and the
// transition journal. Only the orchestrator writes it.
type CredentialStore interface {
	SaveCredential(cred uplink.UplinkCredential) error
	LoadCredential() (uplink.UplinkCredential, bool, error)
	ClearCredentials() error
	AppendTransition(att uplink.TransitionAttempt) error
}

// Clock abstracts time for the retry backoff, so tests do not wait out
// real backoff windows.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}
