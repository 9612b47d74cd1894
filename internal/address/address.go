// Package address implements the three-part JID-like address value used
// throughout the relay: local@domain/resource.
package address

import "strings"

// Address is an immutable local@domain/resource value. The zero value
// represents the empty address and is never produced by ParseAddress for
// non-empty input.
type Address struct {
	Local    string
	Domain   string
	Resource string
}

// ParseAddress splits s on the first '@' and the first '/' after it.
// No further validation is performed: non-ASCII localparts are permitted,
// and a missing '@' yields an address with an empty Domain whose Local is
// everything before the first '/'.
func ParseAddress(s string) Address {
	local := s
	domain := ""
	resource := ""

	if at := strings.IndexByte(s, '@'); at >= 0 {
		local = s[:at]
		rest := s[at+1:]
		if sl := strings.IndexByte(rest, '/'); sl >= 0 {
			domain = rest[:sl]
			resource = rest[sl+1:]
		} else {
			domain = rest
		}
	} else if sl := strings.IndexByte(s, '/'); sl >= 0 {
		// no '@': treat everything before '/' as the local part, mirroring
		// a plain domain-only JID with a resource.
		local = s[:sl]
		resource = s[sl+1:]
	}

	return Address{Local: local, Domain: domain, Resource: resource}
}

// Bare returns the local@domain form, dropping any resource.
func (a Address) Bare() string {
	return a.Local + "@" + a.Domain
}

// Full returns local@domain/resource, or local@domain when Resource is empty.
func (a Address) Full() string {
	if a.Resource == "" {
		return a.Bare()
	}
	return a.Bare() + "/" + a.Resource
}

// WithResource returns a copy of a with its resource replaced.
func (a Address) WithResource(resource string) Address {
	a.Resource = resource
	return a
}

// IsZero reports whether a is the empty address.
func (a Address) IsZero() bool {
	return a.Local == "" && a.Domain == "" && a.Resource == ""
}

// Equal compares the full form of two addresses, including resource.
func (a Address) Equal(other Address) bool {
	return a.Full() == other.Full()
}

// BareEqual compares only the local@domain form of two addresses.
func (a Address) BareEqual(other Address) bool {
	return a.Bare() == other.Bare()
}

// String implements fmt.Stringer as the full form, for log messages.
func (a Address) String() string {
	return a.Full()
}
