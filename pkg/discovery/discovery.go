// Package discovery publishes and browses the LAN service record
// Consumers advertise themselves under.
package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/brutella/dnssd"

	"github.com/transwacom/transwacomd/pkg/logging"
	"github.com/transwacom/transwacomd/pkg/model"
)

// ServiceType is the DNS-SD service type Consumers publish under.
const ServiceType = "_input-consumer._tcp"

// ServiceDomain is the DNS-SD domain browsed and published to.
const ServiceDomain = "local"

// lookupService is the fully qualified form LookupType browses for.
const lookupService = ServiceType + "." + ServiceDomain + "."

// Publisher advertises this machine as a Consumer on the LAN. It is safe
// to call Publish again (e.g. after a config change) to republish with
// updated TXT records.
type Publisher struct {
	mu        sync.Mutex
	responder dnssd.Responder
	handle    dnssd.ServiceHandle
	cancel    context.CancelFunc
}

// NewPublisher constructs a Publisher. It does not publish anything until
// Publish is called.
func NewPublisher() (*Publisher, error) {
	responder, err := dnssd.NewResponder()
	if err != nil {
		return nil, fmt.Errorf("creating dnssd responder: %w", err)
	}
	return &Publisher{responder: responder}, nil
}

// Publish advertises (or re-advertises) this machine as a Consumer,
// offering kinds and identified by id, under instanceName.
func (p *Publisher) Publish(instanceName, id string, kinds []model.DeviceKind, port int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle != nil {
		p.responder.Remove(p.handle)
		p.handle = nil
	}

	kindStrs := make([]string, len(kinds))
	for i, k := range kinds {
		kindStrs[i] = string(k)
	}

	cfg := dnssd.Config{
		Name:   instanceName,
		Type:   ServiceType,
		Domain: ServiceDomain,
		Port:   port,
		Text: map[string]string{
			"version":      "1.0",
			"name":         instanceName,
			"capabilities": strings.Join(kindStrs, ","),
			"id":           id,
		},
	}

	svc, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("building service record: %w", err)
	}

	handle, err := p.responder.Add(svc)
	if err != nil {
		return fmt.Errorf("adding service record: %w", err)
	}
	p.handle = handle

	if p.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		go func() {
			if err := p.responder.Respond(ctx); err != nil && ctx.Err() == nil {
				logging.Errorf("discovery: responder stopped: %v", err)
			}
		}()
	}

	return nil
}

// Unpublish withdraws this machine's service record and stops responding.
func (p *Publisher) Unpublish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle != nil {
		p.responder.Remove(p.handle)
		p.handle = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// DiscoveredConsumer is a Consumer found on the LAN via browsing.
type DiscoveredConsumer struct {
	Name         string
	Address      string
	Port         int
	ID           string
	Capabilities []model.DeviceKind
}

// Browser watches the LAN for Consumer service records.
type Browser struct {
	cancel context.CancelFunc
}

// Browse starts watching for Consumer records. Discovered consumers are
// sent on added; consumers that disappear are sent on removed. Browse
// returns immediately; call the returned Browser's Stop to end browsing.
func Browse(ctx context.Context, added, removed chan<- DiscoveredConsumer) (*Browser, error) {
	ctx, cancel := context.WithCancel(ctx)

	addFn := func(e dnssd.BrowseEntry) {
		dc := entryToConsumer(e)
		select {
		case added <- dc:
		case <-ctx.Done():
		}
	}
	rmvFn := func(e dnssd.BrowseEntry) {
		dc := entryToConsumer(e)
		select {
		case removed <- dc:
		case <-ctx.Done():
		}
	}

	go func() {
		if err := dnssd.LookupType(ctx, lookupService, addFn, rmvFn); err != nil && ctx.Err() == nil {
			logging.Errorf("discovery: browse stopped: %v", err)
		}
	}()

	return &Browser{cancel: cancel}, nil
}

// Stop ends browsing.
func (b *Browser) Stop() {
	b.cancel()
}

func entryToConsumer(e dnssd.BrowseEntry) DiscoveredConsumer {
	dc := DiscoveredConsumer{
		Name: e.Name,
		Port: e.Port,
	}
	if len(e.IPs) > 0 {
		dc.Address = e.IPs[0].String()
	}
	if v, ok := e.Text["id"]; ok {
		dc.ID = v
	}
	if v, ok := e.Text["capabilities"]; ok && v != "" {
		for _, k := range strings.Split(v, ",") {
			dc.Capabilities = append(dc.Capabilities, model.DeviceKind(strings.TrimSpace(k)))
		}
	}
	return dc
}

// FormatAddress joins host and port the way a user-supplied literal
// address:port is expected to look.
func FormatAddress(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}
