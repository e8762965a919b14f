package remote

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultPort is the SSH port used when none is configured.
const DefaultPort = 22

// DefaultConnectTimeout bounds channel establishment when unset.
const DefaultConnectTimeout = 10 * time.Second

// Identity is the fixed connection identity of a transport.
type Identity struct {
	// User is the remote login name (required).
	User string

	// Host is the remote host name or address (required).
	Host string

	// Port is the SSH port. Zero uses DefaultPort.
	Port int

	// KeyFile is the private key path. A leading "~/" is expanded locally.
	KeyFile string

	// ProxyJump is an optional single bastion hop, "[user@]host[:port]".
	// The hop authenticates with the same key.
	ProxyJump string

	// KnownHostsFile verifies host keys. Ignored when InsecureIgnoreHostKey is set.
	KnownHostsFile string

	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool

	// ConnectTimeout bounds dialing and the SSH handshake.
	ConnectTimeout time.Duration
}

// Hop is one network hop of a connection.
type Hop struct {
	User string
	Host string
	Port int
}

// Address returns host:port.
func (h Hop) Address() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// String returns user@host[:port] for display.
func (h Hop) String() string {
	if h.Port == DefaultPort || h.Port == 0 {
		return h.User + "@" + h.Host
	}
	return fmt.Sprintf("%s@%s:%d", h.User, h.Host, h.Port)
}

// Validate checks that the identity can be used to connect.
func (i Identity) Validate() error {
	var missing []string
	if strings.TrimSpace(i.User) == "" {
		missing = append(missing, "user")
	}
	if strings.TrimSpace(i.Host) == "" {
		missing = append(missing, "host")
	}
	if strings.TrimSpace(i.KeyFile) == "" {
		missing = append(missing, "key_file")
	}
	if len(missing) > 0 {
		return fmt.Errorf("remote identity is incomplete: missing %s", strings.Join(missing, ", "))
	}
	if i.Port < 0 || i.Port > 65535 {
		return fmt.Errorf("remote port out of range: %d", i.Port)
	}
	if i.ProxyJump != "" {
		if _, err := ParseHop(i.ProxyJump, i.User); err != nil {
			return err
		}
	}
	return nil
}

// Target returns the destination hop.
func (i Identity) Target() Hop {
	port := i.Port
	if port == 0 {
		port = DefaultPort
	}
	return Hop{User: i.User, Host: i.Host, Port: port}
}

// Jump returns the proxy hop, if one is configured.
func (i Identity) Jump() (Hop, bool, error) {
	if strings.TrimSpace(i.ProxyJump) == "" {
		return Hop{}, false, nil
	}
	h, err := ParseHop(i.ProxyJump, i.User)
	if err != nil {
		return Hop{}, false, err
	}
	return h, true, nil
}

// String returns user@host for display and error context.
func (i Identity) String() string {
	return i.Target().String()
}

// ParseHop parses "[user@]host[:port]". Missing parts default to
// defaultUser and DefaultPort.
func ParseHop(s, defaultUser string) (Hop, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Hop{}, errors.New("proxy jump is empty")
	}
	h := Hop{User: defaultUser, Port: DefaultPort}
	if at := strings.LastIndex(s, "@"); at >= 0 {
		h.User = s[:at]
		s = s[at+1:]
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		host = s
		portStr = ""
	}
	if portStr != "" {
		p, perr := strconv.Atoi(portStr)
		if perr != nil || p <= 0 || p > 65535 {
			return Hop{}, fmt.Errorf("invalid proxy jump port %q", portStr)
		}
		h.Port = p
	}
	h.Host = host
	if h.Host == "" || strings.ContainsAny(h.Host, " /") {
		return Hop{}, fmt.Errorf("invalid proxy jump host %q", host)
	}
	if h.User == "" {
		return Hop{}, fmt.Errorf("proxy jump %q has no user", s)
	}
	return h, nil
}

// ExpandLocalHome expands a leading "~/" against the local home directory.
func ExpandLocalHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
