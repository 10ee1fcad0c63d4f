// Package transport hosts the server-side listeners that front the
// resolver. Different transports (UDP today; DoT/DoH would fit the same
// contract) decode wire queries, hand them to a DNSResponder, and write
// the response back.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/miekg/dns"

	"github.com/haukened/rr-resolved/internal/dns/common/log"
	"github.com/haukened/rr-resolved/internal/dns/services/resolver"
)

const maxUDPPacket = 4096

// UDPTransport listens for DNS queries over UDP (RFC 1035) and delegates
// resolution to the service layer.
type UDPTransport struct {
	addr   string
	conn   *net.UDPConn
	logger log.Logger

	// synchronization for graceful shutdown
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
}

// NewUDPTransport creates a new UDP transport instance.
func NewUDPTransport(addr string, logger log.Logger) *UDPTransport {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &UDPTransport{
		addr:   addr,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start binds the UDP socket and begins the packet handling loop.
func (t *UDPTransport) Start(ctx context.Context, handler resolver.DNSResponder) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("udp transport already running")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to resolve udp address %s: %w", t.addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to bind udp socket on %s: %w", t.addr, err)
	}

	t.conn = conn
	t.running = true

	t.logger.Info(map[string]any{
		"transport": "udp",
		"address":   conn.LocalAddr().String(),
	}, "resolver transport started")

	go t.listenLoop(ctx, handler)

	return nil
}

// Stop gracefully shuts down the transport.
func (t *UDPTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}

	close(t.stopCh)

	var closeErr error
	if t.conn != nil {
		closeErr = t.conn.Close()
	}
	t.running = false

	t.logger.Info(map[string]any{
		"transport": "udp",
		"address":   t.addr,
	}, "resolver transport stopped")

	return closeErr
}

// Address returns the address the transport is bound to. After Start this
// is the concrete listen address, including any kernel-assigned port.
func (t *UDPTransport) Address() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn != nil {
		return t.conn.LocalAddr().String()
	}
	return t.addr
}

func (t *UDPTransport) listenLoop(ctx context.Context, handler resolver.DNSResponder) {
	buffer := make([]byte, maxUDPPacket)

	for {
		select {
		case <-ctx.Done():
			t.logger.Debug(nil, "udp transport stopping due to context cancellation")
			return
		case <-t.stopCh:
			t.logger.Debug(nil, "udp transport stopping due to stop signal")
			return
		default:
			n, clientAddr, err := t.conn.ReadFromUDP(buffer)
			if err != nil {
				t.mu.RLock()
				running := t.running
				t.mu.RUnlock()
				if !running {
					return
				}
				t.logger.Warn(map[string]any{"error": err.Error()}, "failed to read udp packet")
				continue
			}

			packet := make([]byte, n)
			copy(packet, buffer[:n])
			go t.handlePacket(ctx, packet, clientAddr, handler)
		}
	}
}

// handlePacket processes a single UDP DNS packet.
func (t *UDPTransport) handlePacket(ctx context.Context, data []byte, clientAddr *net.UDPAddr, handler resolver.DNSResponder) {
	query := new(dns.Msg)
	if err := query.Unpack(data); err != nil {
		t.logger.Warn(map[string]any{
			"client": clientAddr.String(),
			"error":  err.Error(),
			"size":   len(data),
		}, "failed to decode dns query")
		return
	}

	t.logger.Debug(map[string]any{
		"client":   clientAddr.String(),
		"query_id": query.Id,
	}, "received dns query")

	response := handler.HandleRequest(ctx, query, clientAddr)
	if response == nil {
		return
	}

	responseData, err := response.Pack()
	if err != nil {
		t.logger.Error(map[string]any{
			"client":   clientAddr.String(),
			"query_id": query.Id,
			"error":    err.Error(),
		}, "failed to encode dns response")
		return
	}

	if _, err := t.conn.WriteToUDP(responseData, clientAddr); err != nil {
		t.logger.Error(map[string]any{
			"client":   clientAddr.String(),
			"query_id": query.Id,
			"error":    err.Error(),
		}, "failed to send dns response")
	}
}
