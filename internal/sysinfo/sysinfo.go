// Package sysinfo reports the platform names used by %OS% and %Arch%.
package sysinfo

import (
	"context"
	"log/slog"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
)

// Platform is the operating system and CPU architecture, named the way
// browser extensions name them ("mac", "win", "linux", "x86-64", "arm64").
type Platform struct {
	OS   string
	Arch string
}

// Detect queries the host, falling back to the Go runtime values.
func Detect(ctx context.Context) Platform {
	goos, arch := runtime.GOOS, runtime.GOARCH
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		slog.Warn("sysinfo host query failed", "error", err)
	} else {
		if info.OS != "" {
			goos = info.OS
		}
		if info.KernelArch != "" {
			arch = info.KernelArch
		}
	}
	return Platform{OS: osName(goos), Arch: archName(arch)}
}

func osName(goos string) string {
	switch strings.ToLower(goos) {
	case "darwin":
		return "mac"
	case "windows":
		return "win"
	default:
		return strings.ToLower(goos)
	}
}

func archName(arch string) string {
	switch a := strings.ToLower(arch); {
	case a == "x86_64" || a == "amd64":
		return "x86-64"
	case a == "386" || a == "i386" || a == "i686" || a == "x86":
		return "x86-32"
	case a == "aarch64" || a == "arm64":
		return "arm64"
	case strings.HasPrefix(a, "arm"):
		return "arm"
	case strings.HasPrefix(a, "mips"):
		return "mips"
	default:
		return a
	}
}
