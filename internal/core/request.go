// Package core holds the data model shared by both roles of a
// transfer: the TransferRequest a front-end builds, the FileMetadata
// and ByteSource units the source queue produces, and the connection
// URL that lets a sender find a receiver.
package core

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	wdterrors "github.com/yousafgill/wdt/internal/errors"
)

// ManifestEntry is one pre-enumerated (path, size?) pair, as parsed
// from a manifest file (internal/manifest) or supplied programmatically.
type ManifestEntry struct {
	Path string
	Size int64 // -1 when unknown
}

// TransferRequest is the sole input the front-end hands to Sender or
// Receiver initialization (spec.md §3). It is mutated once by init()
// to fill in negotiated ports/ID, then treated as immutable.
type TransferRequest struct {
	// DestHost is empty when this side is the receiver.
	DestHost string
	StartPort int
	NumPorts  int

	Directory string

	TransferID      string
	ProtocolVersion int // 0 means "use the implementation default"

	FileList []ManifestEntry // optional pre-enumeration; nil means "walk Directory"

	connectionURL string
}

// IsReceiver reports whether this request describes the receiving
// side of a transfer (no destination host was supplied).
func (r *TransferRequest) IsReceiver() bool {
	return r.DestHost == ""
}

// Init fills in any fields the caller left blank: a fresh transfer ID
// when none was given, and normalizes NumPorts to at least 1. It is
// idempotent-once: calling it a second time is a bug in the caller,
// but harmless, since a non-empty TransferID is left untouched.
func (r *TransferRequest) Init() error {
	if r.Directory == "" {
		return wdterrors.NewValidationError("directory", r.Directory, "must not be empty")
	}
	if r.NumPorts <= 0 {
		r.NumPorts = 1
	}
	if r.TransferID == "" {
		r.TransferID = uuid.NewString()
	}
	return nil
}

// ConnectionURL derives the wdt://host?ports=...&id=...&num_ports=...
// token a receiver publishes and a sender parses, per spec.md §6.
func (r *TransferRequest) ConnectionURL(host string, boundPorts []int) string {
	q := url.Values{}
	portStrs := make([]string, len(boundPorts))
	for i, p := range boundPorts {
		portStrs[i] = strconv.Itoa(p)
	}
	q.Set("ports", strings.Join(portStrs, ","))
	q.Set("num_ports", strconv.Itoa(len(boundPorts)))
	q.Set("id", r.TransferID)
	if r.ProtocolVersion != 0 {
		q.Set("protocol_version", strconv.Itoa(r.ProtocolVersion))
	}
	u := url.URL{Scheme: "wdt", Host: host, RawQuery: q.Encode()}
	return u.String()
}

// ParseConnectionURL parses a wdt:// URL into its constituent host,
// ports and transfer ID.
func ParseConnectionURL(raw string) (host string, ports []int, transferID string, protocolVersion int, err error) {
	u, perr := url.Parse(raw)
	if perr != nil {
		return "", nil, "", 0, wdterrors.NewValidationError("connection_url", raw, perr.Error())
	}
	if u.Scheme != "wdt" {
		return "", nil, "", 0, wdterrors.NewValidationError("connection_url", raw, "missing wdt:// scheme")
	}
	host = u.Hostname()

	q := u.Query()
	portsStr := q.Get("ports")
	if portsStr == "" {
		return "", nil, "", 0, wdterrors.NewValidationError("connection_url", raw, "missing ports")
	}
	for _, p := range strings.Split(portsStr, ",") {
		n, perr := strconv.Atoi(p)
		if perr != nil {
			return "", nil, "", 0, wdterrors.NewValidationError("connection_url", raw, fmt.Sprintf("invalid port %q", p))
		}
		ports = append(ports, n)
	}

	transferID = q.Get("id")
	if v := q.Get("protocol_version"); v != "" {
		protocolVersion, _ = strconv.Atoi(v)
	}
	return host, ports, transferID, protocolVersion, nil
}
