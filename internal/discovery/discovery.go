// Package discovery finds AV devices on the local network over mDNS.
//
// Samsung MDC displays and Philips TVs announce themselves with DNS-SD
// records. Browse collects every instance answering within a timeout
// window so the CLI and the bridge can suggest entries to configure.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// Defaults used when the caller leaves a field empty.
const (
	DefaultService = "_samsungmdc._tcp"
	DefaultDomain  = "local."
	DefaultTimeout = 5 * time.Second
)

// ErrNoResolver is returned when the mDNS resolver cannot be created.
var ErrNoResolver = errors.New("discovery: mdns resolver unavailable")

// Instance is one announced service.
type Instance struct {
	Name    string            `json:"name"`
	Service string            `json:"service"`
	Host    string            `json:"host"`
	Port    int               `json:"port"`
	IPs     []string          `json:"ips"`
	TXT     map[string]string `json:"txt,omitempty"`
}

// Address returns the best dialable address: the first IPv4, then the
// first IPv6, then the host name.
func (i Instance) Address() string {
	if len(i.IPs) > 0 {
		return i.IPs[0]
	}
	return strings.TrimSuffix(i.Host, ".")
}

// Resolver browses a DNS-SD service. *zeroconf.Resolver satisfies it.
type Resolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// Browse looks for instances of service in domain until timeout elapses
// or ctx is cancelled.
func Browse(ctx context.Context, service, domain string, timeout time.Duration) ([]Instance, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoResolver, err)
	}
	return BrowseWith(ctx, resolver, service, domain, timeout)
}

// BrowseWith is Browse with an explicit resolver.
func BrowseWith(ctx context.Context, r Resolver, service, domain string, timeout time.Duration) ([]Instance, error) {
	if service == "" {
		service = DefaultService
	}
	if domain == "" {
		domain = DefaultDomain
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := r.Browse(ctx, service, domain, entries); err != nil {
		return nil, fmt.Errorf("browsing %s: %w", service, err)
	}

	found := make(map[string]Instance)
	for {
		select {
		case <-ctx.Done():
			return sorted(found), nil
		case entry, ok := <-entries:
			if !ok {
				return sorted(found), nil
			}
			if entry == nil {
				continue
			}
			inst := fromEntry(entry)
			// Repeated answers for one instance may add addresses.
			if prev, seen := found[inst.Name]; seen && len(inst.IPs) == 0 {
				inst.IPs = prev.IPs
			}
			found[inst.Name] = inst
		}
	}
}

func fromEntry(e *zeroconf.ServiceEntry) Instance {
	inst := Instance{
		Name:    e.Instance,
		Service: e.Service,
		Host:    e.HostName,
		Port:    e.Port,
	}
	for _, ip := range e.AddrIPv4 {
		inst.IPs = append(inst.IPs, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		inst.IPs = append(inst.IPs, ip.String())
	}
	for _, txt := range e.Text {
		key, value, _ := strings.Cut(txt, "=")
		if key == "" {
			continue
		}
		if inst.TXT == nil {
			inst.TXT = make(map[string]string)
		}
		inst.TXT[strings.ToLower(key)] = value
	}
	return inst
}

func sorted(found map[string]Instance) []Instance {
	out := make([]Instance, 0, len(found))
	for _, inst := range found {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
