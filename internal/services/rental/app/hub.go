package server

import (
	"encoding/json"
	"log"
	"net"
	"sync"
	"time"

	"github.com/JeanKoerich/aluguel-bicicletas-eventos/internal/services/rental/domain"
)

// peerSendBuffer bounds the outbound queue per connection. It must hold a
// full second of rate-limited traffic so a client at the frame cap is not
// mistaken for a stalled one.
const peerSendBuffer = 64

// peerFlushTimeout bounds how long a closing peer may spend writing out its
// remaining queued frames.
const peerFlushTimeout = time.Second

// wsPeer owns one client connection's outbound side. Frames are queued and
// written by a dedicated goroutine, so senders never block on the socket; a
// peer whose queue overflows is dropped as unable to keep up.
type wsPeer struct {
	conn    net.Conn
	send    chan []byte
	done    chan struct{}
	flushed chan struct{}
	stop    sync.Once
}

func newWSPeer(conn net.Conn) *wsPeer {
	p := &wsPeer{
		conn:    conn,
		send:    make(chan []byte, peerSendBuffer),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

func (p *wsPeer) writeLoop() {
	defer func() {
		_ = p.conn.Close()
		close(p.flushed)
	}()
	for {
		select {
		case frame := <-p.send:
			if _, err := p.conn.Write(frame); err != nil {
				p.close()
				return
			}
		case <-p.done:
			for {
				select {
				case frame := <-p.send:
					if _, err := p.conn.Write(frame); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (p *wsPeer) enqueue(frame []byte) {
	select {
	case p.send <- frame:
	case <-p.done:
	default:
		log.Printf("rental: dropping peer with full send queue")
		p.close()
	}
}

// close stops the peer. The write deadline breaks any write currently
// blocked on a stalled socket and bounds the final queue flush; the writer
// goroutine closes the connection once it exits.
func (p *wsPeer) close() {
	p.stop.Do(func() {
		_ = p.conn.SetWriteDeadline(time.Now().Add(peerFlushTimeout))
		close(p.done)
	})
}

// wait blocks until the writer goroutine has flushed and released the
// connection. Bounded by peerFlushTimeout once close has been called.
func (p *wsPeer) wait() {
	<-p.flushed
}

func (p *wsPeer) writeFrame(frame wsFrame) {
	b, err := json.Marshal(frame)
	if err != nil {
		log.Printf("rental: failed to marshal websocket frame: %v", err)
		return
	}
	p.enqueue(b)
}

// hub tracks every connected peer and fans frames out to all of them. It is
// the engine's Broadcaster: each successful mutation becomes one
// state.changed frame for everyone, and capacity transitions become
// station.full frames. Connection lifecycle is independent of mutation
// serialization, so the hub carries its own lock; enqueueing never blocks,
// so holding it across the fan-out is safe.
type hub struct {
	mu    sync.Mutex
	peers map[*wsPeer]struct{}
}

func newHub() *hub {
	return &hub{peers: make(map[*wsPeer]struct{})}
}

// bind queues the initial snapshot and registers the peer in one step, so no
// broadcast can slip in between and arrive before the init frame.
func (h *hub) bind(peer *wsPeer, state domain.State) {
	b, err := json.Marshal(wsFrame{
		Type:    frameStateInit,
		Payload: mustJSON(statePayload{State: state}),
	})
	if err != nil {
		log.Printf("rental: failed to marshal init frame: %v", err)
		return
	}
	h.mu.Lock()
	peer.enqueue(b)
	h.peers[peer] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(peer *wsPeer) {
	h.mu.Lock()
	delete(h.peers, peer)
	h.mu.Unlock()
}

func (h *hub) broadcast(frame wsFrame) {
	b, err := json.Marshal(frame)
	if err != nil {
		log.Printf("rental: failed to marshal broadcast frame: %v", err)
		return
	}
	h.mu.Lock()
	for peer := range h.peers {
		peer.enqueue(b)
	}
	h.mu.Unlock()
}

// StateChanged ships the full post-mutation snapshot to every client.
func (h *hub) StateChanged(state domain.State) {
	h.broadcast(wsFrame{
		Type:    frameStateChanged,
		Payload: mustJSON(statePayload{State: state}),
	})
}

// CapacityExceeded raises the informational full-station signal to every
// client. It is not part of the snapshot.
func (h *hub) CapacityExceeded(stationID string, at time.Time) {
	h.broadcast(wsFrame{
		Type: frameStationFull,
		Payload: mustJSON(stationFullPayload{
			StationID:  stationID,
			OccurredAt: at.UTC().Format(time.RFC3339),
		}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("rental: failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
