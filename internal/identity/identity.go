// Package identity provides broker identity value types.
//
// A broker identity is three dot-joined segments: app.proxy.broker. An
// App-Identity always owns its containing Proxy-Identity, and a Proxy-Identity
// always owns its containing Broker-Identity, mirroring the way beam.rs
// layers AppId over ProxyId over BrokerId.
package identity

import (
	"fmt"
	"strings"
)

// ErrInvalidIdentity is returned when a string has fewer dots than its
// identity kind needs or an empty segment.
type ErrInvalidIdentity struct {
	Raw string
}

func (e *ErrInvalidIdentity) Error() string {
	return fmt.Sprintf("invalid identity %q: expected \"app.proxy.broker\"", e.Raw)
}

// BrokerIdentity is the rightmost segment of a dot-joined identity.
type BrokerIdentity struct {
	broker string
}

// ProxyIdentity owns a BrokerIdentity plus its own segment.
type ProxyIdentity struct {
	proxy  string
	Broker BrokerIdentity
}

// AppIdentity owns a ProxyIdentity plus its own segment. It is the identity
// the worker claims as its own ("beam-app-id-long").
type AppIdentity struct {
	app   string
	Proxy ProxyIdentity
}

// ParseAppIdentity splits raw on the first two dots: app.proxy.broker.
// Everything after the second dot, further dots included, is the broker
// segment. Fewer than two dots or an empty segment is InvalidIdentity.
func ParseAppIdentity(raw string) (AppIdentity, error) {
	firstDot := strings.IndexByte(raw, '.')
	if firstDot < 0 {
		return AppIdentity{}, &ErrInvalidIdentity{Raw: raw}
	}
	app := raw[:firstDot]
	rest := raw[firstDot+1:]

	secondDot := strings.IndexByte(rest, '.')
	if secondDot < 0 {
		return AppIdentity{}, &ErrInvalidIdentity{Raw: raw}
	}
	proxy := rest[:secondDot]
	broker := rest[secondDot+1:]

	if app == "" || proxy == "" || broker == "" {
		return AppIdentity{}, &ErrInvalidIdentity{Raw: raw}
	}

	return AppIdentity{
		app: app,
		Proxy: ProxyIdentity{
			proxy:  proxy,
			Broker: BrokerIdentity{broker: broker},
		},
	}, nil
}

// ParseProxyIdentity parses a bare "proxy.broker" identity (used for
// destination identities that are not this worker's own app identity but may
// still need to be compared/formatted).
func ParseProxyIdentity(raw string) (ProxyIdentity, error) {
	dot := strings.IndexByte(raw, '.')
	if dot < 0 {
		return ProxyIdentity{}, &ErrInvalidIdentity{Raw: raw}
	}
	proxy := raw[:dot]
	broker := raw[dot+1:]
	if proxy == "" || broker == "" {
		return ProxyIdentity{}, &ErrInvalidIdentity{Raw: raw}
	}
	return ProxyIdentity{proxy: proxy, Broker: BrokerIdentity{broker: broker}}, nil
}

// String formats an AppIdentity back to "app.proxy.broker". Parse(Format(x))
// == x for every valid identity.
func (a AppIdentity) String() string {
	return a.app + "." + a.Proxy.proxy + "." + a.Proxy.Broker.broker
}

func (p ProxyIdentity) String() string {
	return p.proxy + "." + p.Broker.broker
}

func (b BrokerIdentity) String() string {
	return b.broker
}

// AppSegment returns the leftmost ("app") segment alone.
func (a AppIdentity) AppSegment() string { return a.app }

// Equal compares two AppIdentity values by their formatted string.
func (a AppIdentity) Equal(other AppIdentity) bool {
	return a.String() == other.String()
}

// MarshalText implements encoding.TextMarshaler so AppIdentity round-trips
// through JSON as a bare string.
func (a AppIdentity) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AppIdentity) UnmarshalText(text []byte) error {
	parsed, err := ParseAppIdentity(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler for ProxyIdentity.
func (p ProxyIdentity) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for ProxyIdentity.
func (p *ProxyIdentity) UnmarshalText(text []byte) error {
	parsed, err := ParseProxyIdentity(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
