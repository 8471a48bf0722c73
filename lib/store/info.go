package store

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/shirou/gopsutil/v4/host"
)

// MachineDetails describes the host the session runs on
type MachineDetails struct {
	Name      string // Host name
	OSVersion string // e.g. "ubuntu 24.04 (linux 6.8.0)"
	CPUArch   string // e.g. "x86_64"
}

// GetNoSqlDbProductName returns the product name of the backend
func (s *Session) GetNoSqlDbProductName() string {
	return string(s.backend.Info().Product)
}

// BackendInfo returns the backend's self description
func (s *Session) BackendInfo() backend.Info {
	return s.backend.Info()
}

// GetDetailsAboutThisMachine reports host name, operating system and cpu
// architecture. Fields the host can not report fall back to the values known
// to the Go runtime.
func (s *Session) GetDetailsAboutThisMachine(ctx context.Context) (MachineDetails, error) {
	const op = "getDetailsAboutThisMachine"
	countOp(op)

	stat, err := host.InfoWithContext(ctx)
	if err != nil && stat == nil {
		return MachineDetails{}, newError(KindInternal, op, 0, err, "read host info")
	}

	details := MachineDetails{
		Name:    stat.Hostname,
		CPUArch: stat.KernelArch,
	}
	if details.Name == "" {
		details.Name, _ = os.Hostname()
	}
	if details.CPUArch == "" {
		details.CPUArch = runtime.GOARCH
	}

	platform := strings.TrimSpace(stat.Platform + " " + stat.PlatformVersion)
	osName := stat.OS
	if osName == "" {
		osName = runtime.GOOS
	}
	switch {
	case platform != "" && stat.KernelVersion != "":
		details.OSVersion = fmt.Sprintf("%s (%s %s)", platform, osName, stat.KernelVersion)
	case platform != "":
		details.OSVersion = platform
	case stat.KernelVersion != "":
		details.OSVersion = osName + " " + stat.KernelVersion
	default:
		details.OSVersion = osName
	}
	return details, nil
}

// RunDataStoreCommand would pass cmd to the backend product unchanged. No
// backend offers such a passthrough, the call always fails with
// KindUnsupportedOperation.
func (s *Session) RunDataStoreCommand(ctx context.Context, cmd string) (string, error) {
	const op = "runDataStoreCommand"
	countOp(op)
	return "", newError(KindUnsupportedOperation, op, 0, backend.ErrUnsupported,
		"%s does not accept native commands", s.backend.Info().Product)
}

// IsConnected reports whether the backend answers a cheap catalog query
func (s *Session) IsConnected(ctx context.Context) bool {
	_, err := s.backend.CountEntries(ctx, CatalogNamespace)
	if err != nil {
		log.Debugf("connectivity check failed: %v", err)
		return false
	}
	return true
}

// Reconnect dials a networked backend (backend.Reconnector) again and checks
// that it answers. Other backends are only checked. Failures are reported as
// KindInitialization.
func (s *Session) Reconnect(ctx context.Context) error {
	const op = "reconnect"
	countOp(op)

	if r, ok := s.backend.(backend.Reconnector); ok {
		if err := r.Reconnect(ctx); err != nil {
			return newError(KindInitialization, op, 0, err, "reconnect to %s", s.backend.Info().Product)
		}
	}
	if _, err := s.backend.CountEntries(ctx, CatalogNamespace); err != nil {
		return newError(KindInitialization, op, 0, err, "backend does not answer")
	}
	log.Infof("session %s reconnected", s.cfg.Identity.Session)
	return nil
}
