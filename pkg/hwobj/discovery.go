package hwobj

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// DiscoveryResponder answers beamhub discovery probes on the local network
// with the port the API server listens on.
type DiscoveryResponder struct {
	addr     string
	response string
	logger   log.FieldLogger
}

func NewDiscoveryResponder(addr string, port int, logger log.FieldLogger) (*DiscoveryResponder, error) {
	response := fmt.Sprintf(`{"BeamhubPort": %d}`, port)

	dr := DiscoveryResponder{
		addr:     addr,
		response: response,
		logger:   logger,
	}

	return &dr, nil
}

func (d *DiscoveryResponder) Run(ctx context.Context) error {
	buf := make([]byte, 1024)

	// Resolve the discovery address with port 32229
	deviceAddress, err := net.ResolveUDPAddr("udp", net.JoinHostPort(d.addr, "32229"))
	if err != nil {
		return fmt.Errorf("cannot resolve discovery address: %v", err)
	}

	// Create receive socket
	rSock, err := net.ListenUDP("udp", deviceAddress)
	if err != nil {
		return fmt.Errorf("cannot bind receive socket: %v", err)
	}
	defer rSock.Close()

	// Create a send socket bound to addr and an ephemeral port
	localAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(d.addr, "0"))
	if err != nil {
		return err
	}

	tSock, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return fmt.Errorf("cannot bind send socket: %v", err)
	}
	defer tSock.Close()

	d.logger.Debugf("Discovery responder started on %s", deviceAddress.String())
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			// Set a read deadline to periodically check for context cancellation
			rSock.SetReadDeadline(time.Now().Add(1 * time.Second))

			n, addr, err := rSock.ReadFromUDP(buf)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					// Timeout, continue
					continue
				}
				d.logger.Debugf("Error reading from socket: %v", err)
				continue
			}

			data := string(buf[:n])
			d.logger.Debugf("Received %s from %s", data, addr.String())

			if strings.Contains(data, "beamhubdiscovery1") {
				if _, err := tSock.WriteToUDP([]byte(d.response), addr); err != nil {
					d.logger.Errorf("Error writing to socket: %v", err)
				}
			}
		}
	}
}
