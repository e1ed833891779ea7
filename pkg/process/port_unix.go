//go:build linux

package process

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/magi-os/sessiond/pkg/errors"
)

const tcpListenState = "0A"

// FindListenerPID returns the PID of the process listening on the given
// TCP port, or 0 when the port is free. It walks /proc/net/tcp[6] for
// the socket inode and then the fd tables under /proc to find the
// owner, which works without elevated privileges for same-user
// processes.
func FindListenerPID(port int) (int, error) {
	if port <= 0 || port > 65535 {
		return 0, errors.NewValidationError(fmt.Sprintf("invalid port: %d", port), nil)
	}

	inode, err := findListenInode(port)
	if err != nil {
		return 0, err
	}
	if inode == "" {
		return 0, nil
	}

	return findInodeOwner(inode)
}

func findListenInode(port int) (string, error) {
	for _, table := range []string{"/proc/net/tcp", "/proc/net/tcp6"} {
		data, err := os.ReadFile(table)
		if err != nil {
			continue
		}
		lines := strings.Split(string(data), "\n")
		for _, line := range lines[1:] {
			fields := strings.Fields(line)
			if len(fields) < 10 || fields[3] != tcpListenState {
				continue
			}
			localPort, err := parseHexPort(fields[1])
			if err != nil || localPort != port {
				continue
			}
			return fields[9], nil
		}
	}
	return "", nil
}

func parseHexPort(localAddress string) (int, error) {
	parts := strings.Split(localAddress, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed local address: %q", localAddress)
	}
	raw, err := hex.DecodeString(parts[1])
	if err != nil || len(raw) != 2 {
		return 0, fmt.Errorf("malformed port: %q", parts[1])
	}
	return int(raw[0])<<8 | int(raw[1]), nil
}

func findInodeOwner(inode string) (int, error) {
	procEntries, err := os.ReadDir("/proc")
	if err != nil {
		return 0, errors.NewIOError("failed to read /proc", err)
	}

	target := "socket:[" + inode + "]"
	for _, entry := range procEntries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		fdDir := filepath.Join("/proc", entry.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue // not ours to inspect
		}
		for _, fd := range fds {
			link, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err == nil && link == target {
				return pid, nil
			}
		}
	}
	return 0, nil
}
