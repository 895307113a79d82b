package sas

import (
	"fmt"
	"strings"
	"time"
)

// Permissions is the set of operations a token grants.
type Permissions uint16

const (
	Read Permissions = 1 << iota
	Write
	Delete
	List
	Add
	Create
	Update
	Process
)

// Letters are listed in the order the storage service expects them in the
// signed string.
var permissionLetters = []struct {
	p Permissions
	c byte
}{
	{Read, 'r'},
	{Write, 'w'},
	{Delete, 'd'},
	{List, 'l'},
	{Add, 'a'},
	{Create, 'c'},
	{Update, 'u'},
	{Process, 'p'},
}

const allPermissions = Read | Write | Delete | List | Add | Create | Update | Process

func (p Permissions) Has(o Permissions) bool {
	return p&o == o
}

func (p Permissions) String() string {
	var sb strings.Builder
	for _, pl := range permissionLetters {
		if p&pl.p != 0 {
			sb.WriteByte(pl.c)
		}
	}
	return sb.String()
}

// ParsePermissions accepts permission letters in any order, e.g. "rwdlc".
func ParsePermissions(s string) (Permissions, error) {
	var out Permissions
	for i := 0; i < len(s); i++ {
		found := false
		for _, pl := range permissionLetters {
			if s[i] == pl.c {
				out |= pl.p
				found = true
				break
			}
		}
		if !found {
			return 0, &InvalidPolicyError{Field: "permissions", Reason: fmt.Sprintf("unknown permission %q", s[i])}
		}
	}
	return out, nil
}

// ResourceTypes is the set of resource levels a token applies to.
type ResourceTypes uint8

const (
	ServiceResource ResourceTypes = 1 << iota
	Container
	Object
)

var resourceLetters = []struct {
	r ResourceTypes
	c byte
}{
	{ServiceResource, 's'},
	{Container, 'c'},
	{Object, 'o'},
}

const allResourceTypes = ServiceResource | Container | Object

func (r ResourceTypes) Has(o ResourceTypes) bool {
	return r&o == o
}

func (r ResourceTypes) String() string {
	var sb strings.Builder
	for _, rl := range resourceLetters {
		if r&rl.r != 0 {
			sb.WriteByte(rl.c)
		}
	}
	return sb.String()
}

func ParseResourceTypes(s string) (ResourceTypes, error) {
	var out ResourceTypes
	for i := 0; i < len(s); i++ {
		found := false
		for _, rl := range resourceLetters {
			if s[i] == rl.c {
				out |= rl.r
				found = true
				break
			}
		}
		if !found {
			return 0, &InvalidPolicyError{Field: "resource_types", Reason: fmt.Sprintf("unknown resource type %q", s[i])}
		}
	}
	return out, nil
}

// Services is the set of storage services a token is valid against.
type Services uint8

const (
	Blob Services = 1 << iota
	File
	Queue
	Table
)

var serviceLetters = []struct {
	s Services
	c byte
}{
	{Blob, 'b'},
	{File, 'f'},
	{Queue, 'q'},
	{Table, 't'},
}

const allServices = Blob | File | Queue | Table

func (s Services) Has(o Services) bool {
	return s&o == o
}

func (s Services) String() string {
	var sb strings.Builder
	for _, sl := range serviceLetters {
		if s&sl.s != 0 {
			sb.WriteByte(sl.c)
		}
	}
	return sb.String()
}

func ParseServices(str string) (Services, error) {
	var out Services
	for i := 0; i < len(str); i++ {
		found := false
		for _, sl := range serviceLetters {
			if str[i] == sl.c {
				out |= sl.s
				found = true
				break
			}
		}
		if !found {
			return 0, &InvalidPolicyError{Field: "services", Reason: fmt.Sprintf("unknown service %q", str[i])}
		}
	}
	return out, nil
}

// Protocol restricts which schemes a token may be presented over. The zero
// value is not a valid protocol.
type Protocol int

const (
	HTTPSOnly Protocol = iota + 1
	HTTPSOrHTTP
)

func (p Protocol) String() string {
	switch p {
	case HTTPSOnly:
		return "https"
	case HTTPSOrHTTP:
		return "https,http"
	default:
		return ""
	}
}

func ParseProtocol(s string) (Protocol, error) {
	switch s {
	case "https":
		return HTTPSOnly, nil
	case "https,http", "http,https":
		return HTTPSOrHTTP, nil
	default:
		return 0, &InvalidPolicyError{Field: "protocol", Reason: fmt.Sprintf("unknown protocol %q", s)}
	}
}

// Policy describes what a delegation token allows and for how long.
type Policy struct {
	Permissions   Permissions
	ResourceTypes ResourceTypes
	Services      Services
	Protocol      Protocol

	// Start is optional. When zero, the token is valid as soon as the service
	// receives it, which sidesteps clock skew between issuer and service.
	Start  time.Time
	Expiry time.Time
}

// Validate checks the policy against the given issuance time.
func (p Policy) Validate(now time.Time) error {
	switch {
	case p.Permissions == 0:
		return &InvalidPolicyError{Field: "permissions", Reason: "no permissions granted"}
	case p.Permissions&^allPermissions != 0:
		return &InvalidPolicyError{Field: "permissions", Reason: "unknown permission bits set"}
	case p.ResourceTypes == 0:
		return &InvalidPolicyError{Field: "resource_types", Reason: "no resource types granted"}
	case p.ResourceTypes&^allResourceTypes != 0:
		return &InvalidPolicyError{Field: "resource_types", Reason: "unknown resource type bits set"}
	case p.Services == 0:
		return &InvalidPolicyError{Field: "services", Reason: "no services granted"}
	case p.Services&^allServices != 0:
		return &InvalidPolicyError{Field: "services", Reason: "unknown service bits set"}
	case p.Protocol.String() == "":
		return &InvalidPolicyError{Field: "protocol", Reason: "protocol must be https or https,http"}
	case p.Expiry.IsZero():
		return &InvalidPolicyError{Field: "expiry", Reason: "no expiry set"}
	}

	exp := p.Expiry.Truncate(time.Second)
	if !exp.After(now) {
		return &InvalidPolicyError{Field: "expiry", Reason: fmt.Sprintf("expiry %s is not after %s", formatTime(exp), formatTime(now))}
	}
	if !p.Start.IsZero() && !p.Start.Truncate(time.Second).Before(exp) {
		return &InvalidPolicyError{Field: "start", Reason: "start must be before expiry"}
	}
	return nil
}
