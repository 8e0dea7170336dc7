package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// Embedded runs an in-process nats-server and connects a NATS bus to it.
// Only this process can reach it unless port is fixed and published.
type Embedded struct {
	*NATS
	port   int
	server *server.Server
}

var _ Bus = (*Embedded)(nil)

// NewEmbedded creates an embedded bus. A port of -1 picks a random one.
func NewEmbedded(port int) *Embedded {
	return &Embedded{
		NATS: NewNATS(""),
		port: port,
	}
}

// Connect starts the server and dials it.
func (b *Embedded) Connect(ctx context.Context) error {
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   b.port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create embedded NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return fmt.Errorf("embedded NATS server not ready")
	}
	b.server = ns
	b.url = ns.ClientURL()
	return b.NATS.Connect(ctx)
}

// URL returns the client URL of the embedded server.
func (b *Embedded) URL() string {
	return b.url
}

// Close closes the connection and shuts the server down.
func (b *Embedded) Close() error {
	err := b.NATS.Close()
	if b.server != nil {
		b.server.Shutdown()
		b.server.WaitForShutdown()
	}
	return err
}
