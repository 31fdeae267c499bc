package probe

import (
	"context"
	"fmt"
	"net"
)

// TCPProber dials a node's published port; a successful connect is healthy.
type TCPProber struct{ Address string }

func (p TCPProber) Probe(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return fmt.Errorf("probe dial %s: %w", p.Address, err)
	}
	_ = conn.Close()
	return nil
}

func (p TCPProber) Describe() string { return "tcp:" + p.Address }
