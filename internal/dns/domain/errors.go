package domain

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

var (
	// ErrBind matches every *BindError via errors.Is.
	ErrBind = errors.New("bind failed")
	// ErrDecode matches every *DecodeError via errors.Is.
	ErrDecode = errors.New("malformed dns message")
	// ErrEncode matches every *EncodeError via errors.Is.
	ErrEncode = errors.New("dns message encoding failed")
	// ErrResolve matches every *ResolveError via errors.Is.
	ErrResolve = errors.New("resolution failed")
)

// BindErrorKind classifies socket acquisition failures.
type BindErrorKind uint8

const (
	BindOther BindErrorKind = iota
	BindInvalidAddress
	BindAddressInUse
	BindPermissionDenied
)

func (k BindErrorKind) String() string {
	switch k {
	case BindInvalidAddress:
		return "invalid address"
	case BindAddressInUse:
		return "address in use"
	case BindPermissionDenied:
		return "permission denied"
	default:
		return "other"
	}
}

// BindError reports a failure to acquire a listening socket.
type BindError struct {
	Kind BindErrorKind
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bind %s: %s: %v", e.Addr, e.Kind, e.Err)
	}
	return fmt.Sprintf("bind %s: %s", e.Addr, e.Kind)
}

func (e *BindError) Unwrap() error { return e.Err }

func (e *BindError) Is(target error) bool { return target == ErrBind }

// ClassifyBindError maps a listen error from the net package onto a kind.
func ClassifyBindError(err error) BindErrorKind {
	switch {
	case errors.Is(err, syscall.EADDRINUSE):
		return BindAddressInUse
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return BindPermissionDenied
	case errors.Is(err, syscall.EADDRNOTAVAIL):
		return BindInvalidAddress
	}
	var addrErr *net.AddrError
	if errors.As(err, &addrErr) {
		return BindInvalidAddress
	}
	return BindOther
}

// DecodeErrorKind classifies malformed input rejected by the wire codec.
type DecodeErrorKind uint8

const (
	DecodeTruncated DecodeErrorKind = iota
	DecodeMalformedName
	DecodeCountMismatch
	DecodeUnsupportedClass
)

func (k DecodeErrorKind) String() string {
	switch k {
	case DecodeTruncated:
		return "truncated"
	case DecodeMalformedName:
		return "malformed name"
	case DecodeCountMismatch:
		return "count mismatch"
	case DecodeUnsupportedClass:
		return "unsupported class"
	default:
		return fmt.Sprintf("DecodeErrorKind(%d)", k)
	}
}

// DecodeError describes why and where a datagram could not be parsed.
type DecodeError struct {
	Kind   DecodeErrorKind
	Offset int
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("decode: %s at offset %d", e.Kind, e.Offset)
	}
	return fmt.Sprintf("decode: %s at offset %d: %s", e.Kind, e.Offset, e.Detail)
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// EncodeError reports a message that cannot be represented on the wire.
type EncodeError struct {
	Field  string
	Detail string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %s", e.Field, e.Detail)
}

func (e *EncodeError) Is(target error) bool { return target == ErrEncode }

// ResolveErrorKind classifies resolver failures.
type ResolveErrorKind uint8

const (
	ResolveUpstreamFailure ResolveErrorKind = iota
	ResolveNotFound
	ResolveTimeout
	ResolveRefused
)

func (k ResolveErrorKind) String() string {
	switch k {
	case ResolveNotFound:
		return "not found"
	case ResolveTimeout:
		return "timeout"
	case ResolveRefused:
		return "refused"
	default:
		return "upstream failure"
	}
}

// RCode maps the failure onto the response code sent to the client.
func (k ResolveErrorKind) RCode() RCode {
	switch k {
	case ResolveNotFound:
		return RCodeNXDomain
	case ResolveRefused:
		return RCodeRefused
	default:
		return RCodeServFail
	}
}

// ResolveError is returned by resolvers for failures that map onto an rcode.
type ResolveError struct {
	Kind ResolveErrorKind
	Err  error
}

// NewResolveError wraps err with the given kind.
func NewResolveError(kind ResolveErrorKind, err error) *ResolveError {
	return &ResolveError{Kind: kind, Err: err}
}

func (e *ResolveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve: %s: %v", e.Kind, e.Err)
	}
	return "resolve: " + e.Kind.String()
}

func (e *ResolveError) Unwrap() error { return e.Err }

func (e *ResolveError) Is(target error) bool { return target == ErrResolve }

// RCodeForError maps any resolver error to a response code. Errors that are
// not a *ResolveError become SERVFAIL.
func RCodeForError(err error) RCode {
	if err == nil {
		return RCodeNoError
	}
	var re *ResolveError
	if errors.As(err, &re) {
		return re.Kind.RCode()
	}
	return RCodeServFail
}
