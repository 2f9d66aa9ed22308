package ftpfs

import (
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// Scheme is the location scheme. FTPS is explicit TLS (AUTH TLS) on the
// plain FTP port.
type Scheme string

const (
	SchemeFTP  Scheme = "ftp"
	SchemeFTPS Scheme = "ftps"
)

// DefaultPort is used for both schemes when a location has no port.
const DefaultPort = 21

// ConnectionKey identifies a reusable FTP session. It is comparable and
// never holds a password. An empty User means anonymous login.
type ConnectionKey struct {
	Scheme Scheme
	Host   string
	Port   int
	User   string
}

// Addr returns the dial address ("host:port").
func (k ConnectionKey) Addr() string {
	return net.JoinHostPort(k.Host, strconv.Itoa(k.Port))
}

// TLS reports whether sessions for k negotiate explicit TLS.
func (k ConnectionKey) TLS() bool {
	return k.Scheme == SchemeFTPS
}

// String returns "scheme://user@host:port", safe for logs.
func (k ConnectionKey) String() string {
	var b strings.Builder
	b.WriteString(string(k.Scheme))
	b.WriteString("://")
	if k.User != "" {
		b.WriteString(escapeUserinfo(k.User))
		b.WriteString("@")
	}
	b.WriteString(k.Addr())
	return b.String()
}

// LocationRef is a parsed location: where to connect, how to log in, and
// which remote path to address.
type LocationRef struct {
	Key         ConnectionKey
	Credentials Credentials
	// RemotePath always starts with "/". It is kept as written in the
	// location, without cleaning.
	RemotePath string
}

// Parse parses "ftp[s]://[user[:password]@]host[:port][/path]".
//
// The authority ends at the first "/". User information is split from the
// host on the last "@" of the authority and is percent-decoded; the path is
// kept byte-for-byte. Errors are of kind KindMalformedLocation and never
// include the password.
func Parse(raw string) (LocationRef, error) {
	var ref LocationRef

	schemeStr, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return ref, malformed("missing scheme")
	}
	switch scheme := Scheme(strings.ToLower(schemeStr)); scheme {
	case SchemeFTP, SchemeFTPS:
		ref.Key.Scheme = scheme
	default:
		return ref, malformed("unsupported scheme %q", schemeStr)
	}

	authority := rest
	ref.RemotePath = "/"
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		authority = rest[:idx]
		ref.RemotePath = rest[idx:]
	}

	hostport := authority
	if at := strings.LastIndexByte(authority, '@'); at >= 0 {
		creds, err := parseUserinfo(authority[:at])
		if err != nil {
			return LocationRef{}, err
		}
		ref.Credentials = creds
		ref.Key.User = creds.User
		hostport = authority[at+1:]
	}

	host, port, err := parseHostPort(hostport)
	if err != nil {
		return LocationRef{}, err
	}
	ref.Key.Host = host
	ref.Key.Port = port

	return ref, nil
}

// MustParse is like Parse but panics on error. It is meant for constants in
// tests and examples.
func MustParse(raw string) LocationRef {
	ref, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return ref
}

func parseUserinfo(userinfo string) (Credentials, error) {
	rawUser, rawPass, hasPass := strings.Cut(userinfo, ":")

	user, err := url.PathUnescape(rawUser)
	if err != nil {
		return Credentials{}, malformed("invalid escape in user")
	}
	if user == "" {
		if hasPass {
			return Credentials{}, malformed("password without user")
		}
		return Credentials{}, nil
	}

	creds := Credentials{User: user, HasUser: true, Source: SourceURL}
	if hasPass {
		pass, err := url.PathUnescape(rawPass)
		if err != nil {
			return Credentials{}, malformed("invalid escape in password")
		}
		creds.Password = pass
		creds.HasPassword = true
	}
	return creds, nil
}

func parseHostPort(hostport string) (string, int, error) {
	host, portStr := hostport, ""

	if strings.HasPrefix(hostport, "[") {
		end := strings.IndexByte(hostport, ']')
		if end < 0 {
			return "", 0, malformed("unterminated IPv6 literal")
		}
		host = hostport[1:end]
		if ip := net.ParseIP(host); ip == nil || !strings.Contains(host, ":") {
			return "", 0, malformed("invalid IPv6 literal %q", host)
		}
		switch tail := hostport[end+1:]; {
		case tail == "":
		case strings.HasPrefix(tail, ":"):
			portStr = tail[1:]
			if portStr == "" {
				return "", 0, malformed("empty port")
			}
		default:
			return "", 0, malformed("unexpected %q after host", tail)
		}
	} else {
		if idx := strings.LastIndexByte(hostport, ':'); idx >= 0 {
			host, portStr = hostport[:idx], hostport[idx+1:]
			if portStr == "" {
				return "", 0, malformed("empty port")
			}
		}
		if strings.ContainsAny(host, " \t\r\n%?#[]:@") {
			return "", 0, malformed("invalid host %q", host)
		}
	}

	if host == "" {
		return "", 0, malformed("empty host")
	}

	port := DefaultPort
	if portStr != "" {
		for _, ch := range portStr {
			if ch < '0' || ch > '9' {
				return "", 0, malformed("non-numeric port %q", portStr)
			}
		}
		p, err := strconv.Atoi(portStr)
		if err != nil || p < 1 || p > 65535 {
			return "", 0, malformed("port %q out of range", portStr)
		}
		port = p
	}

	return strings.ToLower(host), port, nil
}

func malformed(format string, args ...any) error {
	return errorf(KindMalformedLocation, "parse", "", format, args...)
}

// URL serializes the reference, password included. Credentials are
// percent-encoded and the default port is omitted, so that
// Parse(ref.URL()) == ref for every parsed ref.
func (r LocationRef) URL() string {
	return r.format(true)
}

// String returns the location without the password, safe for logs.
func (r LocationRef) String() string {
	return r.format(false)
}

func (r LocationRef) format(withPassword bool) string {
	var b strings.Builder
	b.WriteString(string(r.Key.Scheme))
	b.WriteString("://")
	if r.Credentials.HasUser {
		b.WriteString(escapeUserinfo(r.Credentials.User))
		if withPassword && r.Credentials.HasPassword {
			b.WriteString(":")
			b.WriteString(escapeUserinfo(r.Credentials.Password))
		}
		b.WriteString("@")
	}
	if strings.Contains(r.Key.Host, ":") {
		b.WriteString("[" + r.Key.Host + "]")
	} else {
		b.WriteString(r.Key.Host)
	}
	if r.Key.Port != DefaultPort {
		b.WriteString(":")
		b.WriteString(strconv.Itoa(r.Key.Port))
	}
	p := r.RemotePath
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	b.WriteString(p)
	return b.String()
}

// WithPath returns a copy of r addressing p. A missing leading "/" is added.
func (r LocationRef) WithPath(p string) LocationRef {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	r.RemotePath = p
	return r
}

// Join returns a copy of r addressing name inside r's path.
func (r LocationRef) Join(name string) LocationRef {
	return r.WithPath(path.Join(r.RemotePath, name))
}

// WithoutPassword returns a copy of r with the password removed.
func (r LocationRef) WithoutPassword() LocationRef {
	r.Credentials.Password = ""
	r.Credentials.HasPassword = false
	return r
}

// Root returns a copy of r addressing "/".
func (r LocationRef) Root() LocationRef {
	return r.WithPath("/")
}

// escapeUserinfo percent-encodes everything except RFC 3986 unreserved
// characters.
func escapeUserinfo(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}

// cleanPath normalizes a remote path for the wire: rooted and cleaned.
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}
