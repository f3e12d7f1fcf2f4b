package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestResolveError_RCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want RCode
	}{
		{nil, RCodeNoError},
		{NewResolveError(ResolveNotFound, nil), RCodeNXDomain},
		{NewResolveError(ResolveRefused, nil), RCodeRefused},
		{NewResolveError(ResolveTimeout, context.DeadlineExceeded), RCodeServFail},
		{NewResolveError(ResolveUpstreamFailure, errors.New("boom")), RCodeServFail},
		{fmt.Errorf("wrapped: %w", NewResolveError(ResolveNotFound, nil)), RCodeNXDomain},
		{errors.New("plain"), RCodeServFail},
	}
	for _, tc := range cases {
		if got := RCodeForError(tc.err); got != tc.want {
			t.Errorf("RCodeForError(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestErrorSentinels(t *testing.T) {
	if !errors.Is(&DecodeError{Kind: DecodeTruncated}, ErrDecode) {
		t.Error("DecodeError should match ErrDecode")
	}
	if !errors.Is(&BindError{Kind: BindAddressInUse}, ErrBind) {
		t.Error("BindError should match ErrBind")
	}
	if !errors.Is(&EncodeError{Field: "name"}, ErrEncode) {
		t.Error("EncodeError should match ErrEncode")
	}
	re := NewResolveError(ResolveTimeout, context.DeadlineExceeded)
	if !errors.Is(re, ErrResolve) || !errors.Is(re, context.DeadlineExceeded) {
		t.Error("ResolveError should match ErrResolve and its cause")
	}
	de := &DecodeError{Kind: DecodeMalformedName, Offset: 12, Detail: "pointer loop"}
	if de.Error() != "decode: malformed name at offset 12: pointer loop" {
		t.Errorf("unexpected message %q", de.Error())
	}
}

func TestParseBindAddress(t *testing.T) {
	cases := []struct {
		in      string
		host    string
		port    int
		wantErr bool
	}{
		{"127.0.0.1:5353", "127.0.0.1", 5353, false},
		{":0", "", 0, false},
		{"[::1]:53", "::1", 53, false},
		{"localhost:8080", "localhost", 8080, false},
		{"127.0.0.1", "", 0, true},
		{"127.0.0.1:99999", "", 0, true},
		{"127.0.0.1:abc", "", 0, true},
		{"bad host!:53", "", 0, true},
		{"", "", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseBindAddress("udp", tc.in)
		if tc.wantErr {
			var be *BindError
			if !errors.As(err, &be) || be.Kind != BindInvalidAddress {
				t.Errorf("ParseBindAddress(%q) err = %v, want invalid address", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseBindAddress(%q) unexpected error: %v", tc.in, err)
			continue
		}
		if got.Host != tc.host || got.Port != tc.port || got.Network != "udp" {
			t.Errorf("ParseBindAddress(%q) = %+v", tc.in, got)
		}
	}
}

func TestClassifyBindError(t *testing.T) {
	wrap := func(errno syscall.Errno) error {
		return &net.OpError{Op: "listen", Net: "tcp", Err: os.NewSyscallError("bind", errno)}
	}
	cases := []struct {
		err  error
		want BindErrorKind
	}{
		{wrap(syscall.EADDRINUSE), BindAddressInUse},
		{wrap(syscall.EACCES), BindPermissionDenied},
		{wrap(syscall.EPERM), BindPermissionDenied},
		{wrap(syscall.EADDRNOTAVAIL), BindInvalidAddress},
		{&net.AddrError{Err: "missing port", Addr: "x"}, BindInvalidAddress},
		{errors.New("other"), BindOther},
	}
	for _, tc := range cases {
		if got := ClassifyBindError(tc.err); got != tc.want {
			t.Errorf("ClassifyBindError(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestClientAddrContext(t *testing.T) {
	ctx := context.Background()
	if ClientIP(ctx) != "" {
		t.Error("expected empty client ip")
	}
	ctx = WithClientAddr(ctx, &net.UDPAddr{IP: net.ParseIP("192.0.2.7"), Port: 4242})
	if ClientIP(ctx) != "192.0.2.7" {
		t.Errorf("ClientIP = %q", ClientIP(ctx))
	}
}

func TestBlockRulePattern(t *testing.T) {
	now := time.Now()
	r, err := NewBlockRule("X.Test.", BlockRuleSuffix, "ads", now)
	if err != nil {
		t.Fatalf("NewBlockRule: %v", err)
	}
	if r.Pattern() != "*.x.test" {
		t.Errorf("Pattern() = %q", r.Pattern())
	}
	r, _ = NewBlockRule("x.test", BlockRuleExact, "ads", now)
	if r.Pattern() != "x.test" {
		t.Errorf("Pattern() = %q", r.Pattern())
	}
}

func TestParseBlockMode(t *testing.T) {
	for _, s := range []string{"nx", "NULL", " redirect ", "refused"} {
		if _, err := ParseBlockMode(s); err != nil {
			t.Errorf("ParseBlockMode(%q) unexpected error: %v", s, err)
		}
	}
	if _, err := ParseBlockMode("sinkhole"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
