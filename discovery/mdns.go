// Package discovery advertises a relay on the local network over mDNS and
// finds one from the participant side.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/sirupsen/logrus"
)

const (
	ServiceType    = "_whiteboard._tcp"
	DefaultTimeout = 3 * time.Second
)

// ErrNotFound is returned by Browse when no relay answered in time.
var ErrNotFound = errors.New("no whiteboard relay found on the local network")

// Advertiser answers mDNS queries for one relay until Shutdown.
type Advertiser struct {
	server *mdns.Server
	logger logrus.FieldLogger
}

// Advertise announces a relay listening on port under the host's name.
func Advertise(port int, logger logrus.FieldLogger) (*Advertiser, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not get hostname: %w", err)
	}

	service, err := mdns.NewMDNSService(host, ServiceType, "", "", port, nil, []string{"whiteboard relay"})
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}

	logger = logger.WithFields(logrus.Fields{"service": ServiceType, "port": port})
	logger.Info("advertising relay")
	return &Advertiser{server: server, logger: logger}, nil
}

func (a *Advertiser) Shutdown() error {
	a.logger.Debug("stopping mDNS advertisement")
	return a.server.Shutdown()
}

// Browse returns the address of the first relay that answers within timeout.
func Browse(ctx context.Context, timeout time.Duration, logger logrus.FieldLogger) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	entries := make(chan *mdns.ServiceEntry, 8)
	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	queryErr := make(chan error, 1)
	go func() {
		queryErr <- mdns.Query(params)
		close(entries)
	}()
	// let the query run out its timeout without blocking on a full channel
	defer func() {
		go func() {
			for range entries {
			}
		}()
	}()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case e, ok := <-entries:
			if !ok {
				if err := <-queryErr; err != nil {
					return "", fmt.Errorf("mDNS query: %w", err)
				}
				return "", ErrNotFound
			}
			addr, ok := entryAddr(e)
			if !ok {
				continue
			}
			logger.WithFields(logrus.Fields{"name": e.Name, "addr": addr}).Info("found relay")
			return addr, nil
		}
	}
}

// entryAddr turns an answer into a dialable host:port, skipping incomplete ones.
func entryAddr(e *mdns.ServiceEntry) (string, bool) {
	if e == nil || e.Port == 0 {
		return "", false
	}
	var ip net.IP
	switch {
	case e.AddrV4 != nil:
		ip = e.AddrV4
	case e.AddrV6 != nil:
		ip = e.AddrV6
	default:
		return "", false
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(e.Port)), true
}
