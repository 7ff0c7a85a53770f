package sysinfo

import (
	"context"
	"testing"
)

func TestNames(t *testing.T) {
	tests := []struct {
		in, want string
		fn       func(string) string
	}{
		{"darwin", "mac", osName},
		{"windows", "win", osName},
		{"Linux", "linux", osName},
		{"x86_64", "x86-64", archName},
		{"amd64", "x86-64", archName},
		{"i686", "x86-32", archName},
		{"aarch64", "arm64", archName},
		{"armv7l", "arm", archName},
		{"mips64", "mips", archName},
		{"riscv64", "riscv64", archName},
	}
	for _, tc := range tests {
		if got := tc.fn(tc.in); got != tc.want {
			t.Errorf("name(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestDetect(t *testing.T) {
	p := Detect(context.Background())
	if p.OS == "" || p.Arch == "" {
		t.Fatalf("Detect() = %+v; want both fields set", p)
	}
}
