// Package stunutil discovers the node's public address so the status page
// can tell whether inbound channel peers are likely to reach it.
package stunutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/stun/v3"
	"golang.org/x/sync/errgroup"

	"nodestatus/internal/model"
)

const (
	NATTypeUnknown          = "unknown"
	NATTypeSymmetric        = "symmetric"
	NATTypeConeOrRestricted = "cone_or_restricted"
)

// ErrNoServers is returned when Probe is called without STUN servers.
var ErrNoServers = errors.New("no STUN servers configured")

// Probe asks every server, concurrently, for the mapped address of a fresh
// UDP socket and classifies the NAT from the answers. The whole probe takes
// at most timeout.
func Probe(ctx context.Context, servers []string, timeout time.Duration) (model.Reachability, error) {
	if len(servers) == 0 {
		return model.Reachability{}, ErrNoServers
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	addrs := make([]string, len(servers))
	errs := make([]error, len(servers))
	var g errgroup.Group
	for i, server := range servers {
		i, server := i, server
		g.Go(func() error {
			addr, err := bindingRequest(ctx, server)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", server, err)
				return nil
			}
			addrs[i] = addr
			return nil
		})
	}
	_ = g.Wait()

	// Server order is kept so PublicAddr comes from the first server that
	// answered.
	mapped := make([]string, 0, len(servers))
	var lastErr error
	for i := range servers {
		if errs[i] != nil {
			lastErr = errs[i]
			continue
		}
		mapped = append(mapped, addrs[i])
	}

	if len(mapped) == 0 {
		if lastErr == nil {
			lastErr = errors.New("STUN probe failed")
		}
		return model.Reachability{NATType: NATTypeUnknown}, lastErr
	}

	return model.Reachability{PublicAddr: mapped[0], NATType: Classify(mapped)}, nil
}

// Classify infers NAT type by comparing mapped addresses from multiple servers.
func Classify(addrs []string) string {
	if len(addrs) < 2 {
		return NATTypeUnknown
	}
	for _, addr := range addrs[1:] {
		if addr != addrs[0] {
			return NATTypeSymmetric
		}
	}
	return NATTypeConeOrRestricted
}

func bindingRequest(ctx context.Context, server string) (string, error) {
	raw := strings.TrimSpace(server)
	if raw == "" {
		return "", errors.New("empty STUN server")
	}
	if !strings.HasPrefix(raw, "stun:") {
		raw = "stun:" + raw
	}
	uri, err := stun.ParseURI(raw)
	if err != nil {
		return "", err
	}

	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	type answer struct {
		addr string
		err  error
	}
	// Buffered so the callback never blocks once we stopped listening.
	done := make(chan answer, 2)
	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	go func() {
		err := client.Do(msg, func(ev stun.Event) {
			if ev.Error != nil {
				done <- answer{err: ev.Error}
				return
			}
			var xor stun.XORMappedAddress
			if err := xor.GetFrom(ev.Message); err != nil {
				done <- answer{err: err}
				return
			}
			done <- answer{addr: xor.String()}
		})
		if err != nil {
			done <- answer{err: err}
		}
	}()

	select {
	case a := <-done:
		return a.addr, a.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
