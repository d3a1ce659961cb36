package listen

import (
	"net"
	"sync"

	"github.com/pkg/errors"

	"profileserver/internal/wire"
)

// connSender serializes writes to one connection so a handler's
// out-of-band Send (a relay notification, a replication batch) can
// never interleave its frame bytes with the connection loop's own
// response write.
type connSender struct {
	mu   sync.Mutex
	conn net.Conn
}

func (c *connSender) Send(m wire.Message) error {
	payload, err := wire.EncodeMessage(m)
	if err != nil {
		return errors.Wrap(err, "listen: encode message")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return wire.WriteFrame(c.conn, payload)
}
