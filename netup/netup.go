// Package netup brings the network link up before the node talks to the backend.
package netup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// ErrLinkTimeout is returned when no usable link appeared before the deadline.
var ErrLinkTimeout = errors.New("netup: network not available before timeout")

type Config struct {
	SSID      string
	Password  string
	Interface string

	// ProbeHost must resolve before the link counts as up. Empty skips DNS.
	ProbeHost string

	Timeout        time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Bootstrapper struct {
	cfg    Config
	logger *zap.SugaredLogger

	associate func(ctx context.Context) error
	localIP   func() (net.IP, error)
	resolve   func(ctx context.Context, host string) error
}

func New(cfg Config, logger *zap.SugaredLogger) *Bootstrapper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 300 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	b := &Bootstrapper{cfg: cfg, logger: logger}
	b.associate = b.nmcliConnect
	b.localIP = func() (net.IP, error) { return interfaceIP(cfg.Interface) }
	b.resolve = func(ctx context.Context, host string) error {
		_, err := net.DefaultResolver.LookupHost(ctx, host)
		return err
	}
	return b
}

// Connect associates with the configured Wi-Fi network, if any, and waits
// with exponential backoff until the link has an address.
func (b *Bootstrapper) Connect(ctx context.Context) (net.IP, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	if b.cfg.SSID != "" {
		b.logger.Infow("Connecting to Wi-Fi", "ssid", b.cfg.SSID)
		if err := b.associate(ctx); err != nil {
			// the link may already be up through another profile
			b.logger.Warnw("Wi-Fi association failed", "ssid", b.cfg.SSID, "error", err)
		}
	}

	delay := b.cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		ip, err := b.probe(ctx)
		if err == nil {
			b.logger.Infow("Connected", "ip", ip.String(), "attempts", attempt)
			return ip, nil
		}
		b.logger.Debugw("Waiting for network", "attempt", attempt, "retry_in", delay, "error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrLinkTimeout, attempt, err)
		case <-time.After(delay):
		}
		delay *= 2
		if delay > b.cfg.MaxBackoff {
			delay = b.cfg.MaxBackoff
		}
	}
}

func (b *Bootstrapper) probe(ctx context.Context) (net.IP, error) {
	ip, err := b.localIP()
	if err != nil {
		return nil, err
	}
	if b.cfg.ProbeHost != "" {
		if err := b.resolve(ctx, b.cfg.ProbeHost); err != nil {
			return nil, fmt.Errorf("resolve %s: %w", b.cfg.ProbeHost, err)
		}
	}
	return ip, nil
}

func (b *Bootstrapper) nmcliConnect(ctx context.Context) error {
	args := []string{"device", "wifi", "connect", b.cfg.SSID}
	if b.cfg.Password != "" {
		args = append(args, "password", b.cfg.Password)
	}
	if b.cfg.Interface != "" {
		args = append(args, "ifname", b.cfg.Interface)
	}
	out, err := exec.CommandContext(ctx, "nmcli", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("nmcli: %w: %s", err, out)
	}
	return nil
}

// interfaceIP returns the first global IPv4 address of an up, non-loopback
// interface, restricted to name when set.
func interfaceIP(name string) (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		if name != "" && iface.Name != name {
			continue
		}
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil && ip4.IsGlobalUnicast() {
				return ip4, nil
			}
		}
	}
	if name != "" {
		return nil, fmt.Errorf("interface %s has no IPv4 address", name)
	}
	return nil, errors.New("no interface with an IPv4 address")
}
