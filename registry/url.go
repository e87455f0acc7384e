package registry

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mini-dubbo/service"
)

const (
	Protocol     = "dubbo"
	DubboVersion = "2.0.2"
	Category     = "providers"
)

// ProviderURL is the canonical description of one exported interface.
type ProviderURL struct {
	Host        string
	Port        int
	Interface   string
	Group       string
	Version     string
	Methods     []string
	Application string
	PID         int
	Timestamp   time.Time
}

// NewProviderURL describes d as served at host:port.
func NewProviderURL(host string, port int, d *service.Descriptor) ProviderURL {
	return ProviderURL{
		Host:      host,
		Port:      port,
		Interface: d.Interface,
		Group:     d.Group,
		Version:   d.Version,
		Methods:   d.MethodNames(),
	}
}

// String renders dubbo://host:port/interface?query with the query keys sorted.
func (u ProviderURL) String() string {
	q := url.Values{}
	q.Set("anyhost", "true")
	if u.Application != "" {
		q.Set("application", u.Application)
	}
	q.Set("category", Category)
	q.Set("dubbo", DubboVersion)
	q.Set("dynamic", "true")
	q.Set("generic", "false")
	q.Set("group", u.Group)
	q.Set("interface", u.Interface)
	q.Set("methods", strings.Join(u.Methods, ","))
	q.Set("pid", strconv.Itoa(u.PID))
	q.Set("protocol", Protocol)
	q.Set("side", "provider")
	q.Set("timestamp", strconv.FormatInt(u.Timestamp.UnixMilli(), 10))
	q.Set("version", u.Version)

	return fmt.Sprintf("%s://%s/%s?%s",
		Protocol, net.JoinHostPort(u.Host, strconv.Itoa(u.Port)), u.Interface, q.Encode())
}

// Encoded returns the URL percent-encoded as a single path segment, the form
// stored in the registry.
func (u ProviderURL) Encoded() string {
	return url.QueryEscape(u.String())
}
