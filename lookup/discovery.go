package lookup

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"
)

// Overlay operators advertise their service endpoints in a TXT record at
// _escrow.<domain>, as space-separated key=value pairs:
//
//	"v=escrow1 lookup=https://overlay.example.com headers=https://headers.example.com"
const discoveryLabel = "_escrow."

// Endpoints are the service URLs advertised for an overlay domain.
type Endpoints struct {
	Lookup  string
	Headers string
}

// Discoverer resolves advertised endpoints through one DNS server.
type Discoverer struct {
	server string
	client *dns.Client
}

// NewDiscoverer queries the DNS server at addr (ip:port).
func NewDiscoverer(addr string) (*Discoverer, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return nil, fmt.Errorf("lookup discovery: dns server address is required")
	}
	return &Discoverer{server: trimmed, client: &dns.Client{}}, nil
}

// NewSystemDiscoverer uses the first resolver from /etc/resolv.conf.
func NewSystemDiscoverer() (*Discoverer, error) {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return nil, fmt.Errorf("lookup discovery: read resolv.conf: %w", err)
	}
	if len(conf.Servers) == 0 {
		return nil, fmt.Errorf("lookup discovery: no resolvers configured")
	}
	return NewDiscoverer(net.JoinHostPort(conf.Servers[0], conf.Port))
}

// Discover fetches and parses the TXT advertisement for domain.
func (d *Discoverer) Discover(ctx context.Context, domain string) (Endpoints, error) {
	trimmed := strings.TrimSpace(domain)
	if trimmed == "" {
		return Endpoints{}, fmt.Errorf("lookup discovery: domain is required")
	}
	name := dns.Fqdn(discoveryLabel + trimmed)

	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypeTXT)
	resp, _, err := d.client.ExchangeContext(ctx, msg, d.server)
	if err != nil {
		return Endpoints{}, fmt.Errorf("lookup discovery: query %s: %w", name, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return Endpoints{}, fmt.Errorf("lookup discovery: query %s: %s", name, dns.RcodeToString[resp.Rcode])
	}

	var endpoints Endpoints
	for _, rr := range resp.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		parseAdvertisement(strings.Join(txt.Txt, ""), &endpoints)
	}
	if endpoints.Lookup == "" {
		return Endpoints{}, fmt.Errorf("lookup discovery: %s advertises no lookup endpoint", name)
	}
	return endpoints, nil
}

func parseAdvertisement(record string, endpoints *Endpoints) {
	for _, field := range strings.Fields(record) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "lookup":
			endpoints.Lookup = value
		case "headers":
			endpoints.Headers = value
		}
	}
}
