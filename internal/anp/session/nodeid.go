package session

import (
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// uuidNamespace scopes MAC-derived node IDs so they never collide with
// IDs minted by other applications hashing the same address.
var uuidNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// LoadOrCreateNodeUUID returns the node's persistent identity. On first
// run it derives a UUID from the primary interface's MAC address (or
// random when no usable interface exists) and persists it at path;
// subsequent runs read the stored value back.
func LoadOrCreateNodeUUID(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil {
		if id, perr := uuid.Parse(strings.TrimSpace(string(data))); perr == nil {
			return id.String(), nil
		}
		// Corrupt file: fall through and regenerate.
	}

	id := deriveNodeUUID()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", err
	}
	return id, nil
}

func deriveNodeUUID() string {
	if mac := primaryMAC(); mac != "" {
		return uuid.NewSHA1(uuidNamespace, []byte("aaeq-node:"+mac)).String()
	}
	return uuid.New().String()
}

func primaryMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 || len(ifc.HardwareAddr) == 0 {
			continue
		}
		return ifc.HardwareAddr.String()
	}
	return ""
}
