// Package visualiser streams the published stop index to remote viewers
// over gRPC.
package visualiser

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/stopline/internal/monitoring"
	"github.com/banshee-data/stopline/internal/stopline"
	"github.com/google/uuid"
	"google.golang.org/grpc"
)

// Config holds configuration for the gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50051")
	ListenAddr string

	// MaxClients is the maximum number of concurrent Watch streams
	MaxClients int

	// QueueSize is the number of signals buffered between the loop and the
	// broadcast goroutine
	QueueSize int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "localhost:50051",
		MaxClients: 8,
		QueueSize:  100,
	}
}

// Publisher implements stopline.Publisher and fans every signal out to the
// connected Watch streams. Publish never blocks the caller: when the queue
// or a client is full the signal is dropped for it and counted.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	signalCh  chan stopline.Signal
	clients   map[string]*clientStream
	clientsMu sync.RWMutex

	currentMu sync.RWMutex
	current   stopline.Signal

	signalCount atomic.Uint64
	dropped     atomic.Uint64
	clientCount atomic.Int32
	dropLog     monitoring.Throttle
	dropLogMu   sync.Mutex

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// clientStream represents a connected Watch stream.
type clientStream struct {
	id       string
	signalCh chan stopline.Signal
	doneCh   chan struct{}
}

// NewPublisher creates a Publisher. It accepts signals immediately; the
// gRPC server starts with Start or Serve.
func NewPublisher(cfg Config) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	p := &Publisher{
		config:   cfg,
		signalCh: make(chan stopline.Signal, cfg.QueueSize),
		clients:  make(map[string]*clientStream),
		current:  stopline.Signal{StopIndex: stopline.NoStop},
		dropLog:  monitoring.Throttle{Every: 100},
		stopCh:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.broadcastLoop()
	return p
}

// Start listens on the configured address and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.config.ListenAddr, err)
	}
	monitoring.Logf("[visualiser] gRPC server listening on %s", lis.Addr())
	return p.Serve(lis)
}

// Serve serves SignalService on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("publisher already running")
	}
	p.listener = lis
	p.server = grpc.NewServer()
	RegisterSignalServiceServer(p.server, NewServer(p))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			monitoring.Logf("[visualiser] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop ends every stream and stops the server.
func (p *Publisher) Stop() {
	select {
	case <-p.stopCh:
		return
	default:
	}
	close(p.stopCh)
	p.running.Store(false)

	p.clientsMu.Lock()
	for id, c := range p.clients {
		close(c.doneCh)
		delete(p.clients, id)
		p.clientCount.Add(-1)
	}
	p.clientsMu.Unlock()

	if p.server != nil {
		p.server.GracefulStop()
	}
	p.wg.Wait()
	monitoring.Logf("[visualiser] gRPC server stopped")
}

// Publish records sig as current and queues it for broadcast.
func (p *Publisher) Publish(sig stopline.Signal) {
	p.currentMu.Lock()
	p.current = sig
	p.currentMu.Unlock()

	select {
	case p.signalCh <- sig:
		p.signalCount.Add(1)
	default:
		n := p.dropped.Add(1)
		p.dropLogMu.Lock()
		p.dropLog.Logf("[visualiser] queue full, dropped signal at tick %d (total dropped: %d)", sig.Tick, n)
		p.dropLogMu.Unlock()
	}
}

// Current returns the last published signal.
func (p *Publisher) Current() stopline.Signal {
	p.currentMu.RLock()
	defer p.currentMu.RUnlock()
	return p.current
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case sig := <-p.signalCh:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				select {
				case c.signalCh <- sig:
				default:
					p.dropped.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

var errTooManyClients = errors.New("too many clients")

// addClient registers a new Watch stream.
func (p *Publisher) addClient() (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	select {
	case <-p.stopCh:
		return nil, errors.New("publisher stopped")
	default:
	}
	if p.config.MaxClients > 0 && len(p.clients) >= p.config.MaxClients {
		return nil, errTooManyClients
	}
	c := &clientStream{
		id:       uuid.NewString(),
		signalCh: make(chan stopline.Signal, 16),
		doneCh:   make(chan struct{}),
	}
	p.clients[c.id] = c
	n := p.clientCount.Add(1)
	monitoring.Logf("[visualiser] client connected: %s (total: %d)", c.id, n)
	return c, nil
}

// removeClient unregisters a Watch stream.
func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	c, ok := p.clients[id]
	if !ok {
		return
	}
	close(c.doneCh)
	delete(p.clients, id)
	n := p.clientCount.Add(-1)
	monitoring.Logf("[visualiser] client disconnected: %s (remaining: %d)", id, n)
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		SignalCount: p.signalCount.Load(),
		Dropped:     p.dropped.Load(),
		ClientCount: p.clientCount.Load(),
		Running:     p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	SignalCount uint64 `json:"signal_count"`
	Dropped     uint64 `json:"dropped"`
	ClientCount int32  `json:"client_count"`
	Running     bool   `json:"running"`
}
