// Package discovery advertises a relay on the local network over mDNS and
// lets chat clients find it by its code.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"
	"gopkg.in/op/go-logging.v1"

	"github.com/sumanthd032/relaychat/pkg/errs"
)

const (
	// ServiceName is the mDNS service type of a relaychat relay.
	ServiceName = "_relaychat._tcp"
	// Domain is the network domain, "local" is standard for mDNS.
	Domain = "local"
)

var txtRecords = []string{"txtv=0", "proto=cbor"}

// PublishService advertises the relay under instance (its code) on port.
// Callers Shutdown the returned server.
func PublishService(instance string, port int, log *logging.Logger) (*zeroconf.Server, error) {
	if instance == "" {
		return nil, fmt.Errorf("%w: instance name can't be empty", errs.ErrInvalidArgument)
	}
	server, err := zeroconf.Register(instance, ServiceName, Domain, port, txtRecords, nil)
	if err != nil {
		return nil, fmt.Errorf("could not register mDNS service: %w", err)
	}
	log.Noticef("mDNS service '%s' published on port %d", instance, port)
	return server, nil
}

// DiscoverService browses the network until it finds the relay published
// as instance or ctx is done, and returns its host:port.
func DiscoverService(ctx context.Context, instance string, log *logging.Logger) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("failed to initialize mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err = resolver.Browse(ctx, ServiceName, Domain, entries); err != nil {
		return "", fmt.Errorf("failed to browse for services: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: could not find relay '%s' on the network: %w", errs.ErrTransportFailure, instance, ctx.Err())
		case entry, ok := <-entries:
			if !ok {
				return "", fmt.Errorf("%w: could not find relay '%s' on the network", errs.ErrTransportFailure, instance)
			}
			if entry.Instance != instance {
				log.Debugf("Ignoring relay '%s'", entry.Instance)
				continue
			}
			addr, err := entryAddress(entry)
			if err != nil {
				return "", err
			}
			log.Infof("Found relay '%s' at %s", instance, addr)
			return addr, nil
		}
	}
}

func entryAddress(entry *zeroconf.ServiceEntry) (string, error) {
	var ip net.IP
	for _, addr := range entry.AddrIPv4 {
		// Prefer a non-loopback, global unicast address.
		if addr.IsGlobalUnicast() && !addr.IsLoopback() {
			ip = addr
			break
		}
	}
	if ip == nil && len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0]
	}
	if ip == nil && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0]
	}
	if ip == nil {
		return "", errors.New("found relay but it has no usable address")
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)), nil
}
