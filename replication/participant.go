package replication

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lborres/acartia/core"
	"github.com/lborres/acartia/pkg/crypto"
	"github.com/lborres/acartia/pkg/logging"
	"github.com/lborres/acartia/pkg/metrics"
)

const (
	DefaultSyncInterval = 30 * time.Second
	DefaultMaxPulls     = 4

	eventBuffer = 64
	pullBuffer  = 16
	maxPeers    = 64 // peer table size; urls past it are ignored
)

// SnapshotSink receives the merged document set after every replication
type SnapshotSink interface {
	ApplySnapshot(ctx context.Context, docs []json.RawMessage) error
	ReportReplication(status core.ReplicationStatus)
}

type Config struct {
	Collection string
	Bootstrap  []string // peer base urls dialled on Connect

	Transport core.PeerTransport
	Storage   core.ReplicaStorage

	// Optional config
	Node         core.PeerNode // without a node the participant only pulls
	Sink         SnapshotSink
	PeerID       string
	SyncInterval time.Duration
	MaxPulls     int // concurrent peer requests
	Logger       *slog.Logger
	Now          func() time.Time
}

// Participant replicates one collection with a set of peers.
//
// Lifecycle: Disconnected -> Connecting -> Loading -> Synced. A failed
// Connect or Load moves it to Error, which is terminal: build a new
// Participant to retry.
type Participant struct {
	cfg     Config
	id      string
	address Address
	log     *Log
	logger  *slog.Logger

	mu          sync.Mutex
	status      core.ReplicationStatus
	peers       map[string]string // url -> peer id
	closed      bool
	nodeStarted bool

	events  chan Event
	pulls   chan string
	loopCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ core.ReplicaHost = (*Participant)(nil)

func New(cfg Config) (*Participant, error) {
	address, err := NewAddress(cfg.Collection)
	if err != nil {
		return nil, err
	}
	if cfg.Transport == nil {
		return nil, core.ErrTransportRequired
	}
	if cfg.Storage == nil {
		return nil, core.ErrReplicaStoreRequired
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.MaxPulls <= 0 {
		cfg.MaxPulls = DefaultMaxPulls
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PeerID == "" {
		if cfg.PeerID, err = crypto.NewPeerID(); err != nil {
			return nil, fmt.Errorf("generate peer id: %w", err)
		}
	}

	return &Participant{
		cfg:     cfg,
		id:      cfg.PeerID,
		address: address,
		log:     NewLog(address.String(), cfg.PeerID),
		logger:  cfg.Logger.With("component", "replication", "address", address.String()),
		status:  core.ReplicationStatus{State: core.StateDisconnected, Address: address.String()},
		peers:   make(map[string]string),
		events:  make(chan Event, eventBuffer),
		pulls:   make(chan string, pullBuffer),
	}, nil
}

// ============================================
// LIFECYCLE
// ============================================

var transitions = map[core.ReplicationState][]core.ReplicationState{
	core.StateDisconnected: {core.StateConnecting},
	core.StateConnecting:   {core.StateLoading, core.StateError},
	core.StateLoading:      {core.StateSynced, core.StateError},
	core.StateSynced:       {core.StateError},
}

func (p *Participant) transition(to core.ReplicationState) error {
	p.mu.Lock()
	from := p.status.State
	if p.closed || !slices.Contains(transitions[from], to) {
		p.mu.Unlock()
		return fmt.Errorf("%w: cannot move from %s to %s", core.ErrReplicationFailure, from, to)
	}
	p.status.State = to
	status := p.status
	p.mu.Unlock()

	p.logger.Debug("replication state changed", "from", from, "to", to)
	p.report(status)
	return nil
}

// fail moves to the terminal Error state and stops the local node
func (p *Participant) fail(step string, err error) error {
	p.mu.Lock()
	p.status.State = core.StateError
	p.status.LastError = err.Error()
	status := p.status
	started := p.nodeStarted
	p.nodeStarted = false
	p.mu.Unlock()

	p.logger.Error("replication failed", "step", step, "error", err)
	if started {
		if cerr := p.cfg.Node.Close(context.Background()); cerr != nil {
			p.logger.Warn("stop peer node", "error", cerr)
		}
	}
	p.report(status)
	return fmt.Errorf("%w: %s: %v", core.ErrReplicationFailure, step, err)
}

// Connect starts the local node, opens the collection and dials every
// bootstrap peer. The steps run in order and the first failure aborts.
func (p *Participant) Connect(ctx context.Context) error {
	if err := p.transition(core.StateConnecting); err != nil {
		return err
	}

	// Step 1: local peer node
	if p.cfg.Node != nil {
		if err := p.cfg.Node.Start(p); err != nil {
			return p.fail("start peer node", err)
		}
		p.mu.Lock()
		p.nodeStarted = true
		p.mu.Unlock()
		p.logger.Info("peer node listening", "url", p.cfg.Node.URL(), "peer_id", p.id)
	}

	// Step 2: open the collection
	p.logger.Info("collection opened", "name", p.address.Name)

	// Step 3: bootstrap peers
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxPulls)
	for _, url := range p.cfg.Bootstrap {
		g.Go(func() error {
			info, err := p.cfg.Transport.Hello(gctx, url)
			if err != nil {
				return fmt.Errorf("%s: %w", url, err)
			}
			if !p.addPeer(url, info.ID) {
				p.logger.Warn("bootstrap peer skipped", "url", url, "peer_id", info.ID)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return p.fail("dial bootstrap peers", err)
	}
	return nil
}

// Load hydrates the log from local storage, then starts syncing with peers
func (p *Participant) Load(ctx context.Context) error {
	if err := p.transition(core.StateLoading); err != nil {
		return err
	}

	stored, err := p.cfg.Storage.LoadEntries(ctx, p.address.String())
	if err != nil {
		return p.fail("load replica", err)
	}
	if _, err := p.log.Join(stored); err != nil {
		return p.fail("verify stored entries", err)
	}
	p.logger.Info("replica loaded", "entries", p.log.Len(), "heads", len(p.log.Heads()), "clock", p.log.Clock())

	loopCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.loopCtx, p.cancel = loopCtx, cancel
	p.status.Documents = len(p.log.Documents())
	p.mu.Unlock()

	p.wg.Add(2)
	go p.reconcileLoop(loopCtx)
	go p.syncLoop(loopCtx)

	if err := p.transition(core.StateSynced); err != nil {
		return err
	}
	p.requestPull("")
	return nil
}

// Close stops syncing and the local node. A closed participant cannot be
// reconnected.
func (p *Participant) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancel := p.cancel
	started := p.nodeStarted
	p.nodeStarted = false
	if p.status.State != core.StateError {
		p.status.State = core.StateDisconnected
	}
	status := p.status
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		p.wg.Wait()
	}

	var err error
	if started {
		err = p.cfg.Node.Close(ctx)
	}
	p.report(status)
	p.logger.Info("replication closed")
	return err
}

func (p *Participant) State() core.ReplicationState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.State
}

func (p *Participant) Status() core.ReplicationStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Peers lists the known peers sorted by url
func (p *Participant) Peers() []core.PeerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.PeerInfo, 0, len(p.peers))
	for url, id := range p.peers {
		out = append(out, core.PeerInfo{ID: id, URL: url})
	}
	slices.SortFunc(out, func(a, b core.PeerInfo) int {
		return cmp.Compare(a.URL, b.URL)
	})
	return out
}

// Documents is the current merged view of the collection
func (p *Participant) Documents() []core.Document {
	return p.log.Documents()
}

// addPeer records a peer that answered the handshake. It reports whether
// url is in the table afterwards.
func (p *Participant) addPeer(url, id string) bool {
	if url == "" || id == "" || id == p.id {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.peers[url]; !ok && len(p.peers) >= maxPeers {
		p.logger.Warn("peer table full, ignoring peer", "url", url, "peer_id", id)
		return false
	}
	p.peers[url] = id
	return true
}

func (p *Participant) knownPeer(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.peers[url]
	return ok
}

func (p *Participant) peerURLs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.peers))
	for url := range p.peers {
		out = append(out, url)
	}
	slices.Sort(out)
	return out
}

func (p *Participant) report(status core.ReplicationStatus) {
	if p.cfg.Sink != nil {
		p.cfg.Sink.ReportReplication(status)
	}
}

// ============================================
// LOCAL WRITES
// ============================================

// Put writes one document
func (p *Participant) Put(ctx context.Context, key string, doc json.RawMessage) (*core.Entry, error) {
	entries, err := p.PutBatch(ctx, []core.Document{{Key: key, Value: doc}})
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

// PutBatch writes documents whose value differs from the current view,
// persists them in one call and announces the new heads once.
func (p *Participant) PutBatch(ctx context.Context, docs []core.Document) ([]*core.Entry, error) {
	if p.State() != core.StateSynced {
		return nil, fmt.Errorf("%w: participant is %s", core.ErrReplicationFailure, p.State())
	}

	current := make(map[string]json.RawMessage)
	for _, d := range p.log.Documents() {
		current[d.Key] = d.Value
	}

	var written []*core.Entry
	for _, d := range docs {
		if cur, ok := current[d.Key]; ok && sameJSON(cur, d.Value) {
			continue
		}
		e, err := p.log.Append(core.OpPut, d.Key, d.Value)
		if err != nil {
			return written, err
		}
		written = append(written, e)
	}
	return written, p.commitLocal(ctx, written)
}

// Delete removes a document from the merged view
func (p *Participant) Delete(ctx context.Context, key string) (*core.Entry, error) {
	if p.State() != core.StateSynced {
		return nil, fmt.Errorf("%w: participant is %s", core.ErrReplicationFailure, p.State())
	}
	e, err := p.log.Append(core.OpDel, key, nil)
	if err != nil {
		return nil, err
	}
	return e, p.commitLocal(ctx, []*core.Entry{e})
}

func (p *Participant) commitLocal(ctx context.Context, entries []*core.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := p.cfg.Storage.PutEntries(ctx, p.address.String(), entries); err != nil {
		return fmt.Errorf("persist entries: %w", err)
	}

	p.mu.Lock()
	p.status.Documents = len(p.log.Documents())
	p.mu.Unlock()

	for _, e := range entries {
		p.emit(Event{Kind: EventWrite, Peer: p.id, Entry: e})
	}
	p.announce(ctx)
	return nil
}

// announce tells every known peer about the new heads. Failures are
// diagnostics; peers catch up on their next sync tick.
func (p *Participant) announce(ctx context.Context) {
	if p.cfg.Node == nil {
		return
	}
	a := core.Announcement{From: p.cfg.Node.URL(), Heads: p.log.Heads()}

	var g errgroup.Group
	g.SetLimit(p.cfg.MaxPulls)
	for _, url := range p.peerURLs() {
		g.Go(func() error {
			if err := p.cfg.Transport.Announce(ctx, url, p.address.String(), a); err != nil {
				p.emit(Event{Kind: EventError, Peer: url, Err: fmt.Errorf("announce to %s: %w", url, err)})
			}
			return nil
		})
	}
	_ = g.Wait()
}

// ============================================
// REPLICA HOST
// ============================================

func (p *Participant) PeerID() string  { return p.id }
func (p *Participant) Address() string { return p.address.String() }
func (p *Participant) Heads() []string { return p.log.Heads() }

func (p *Participant) Entry(hash string) (*core.Entry, bool) {
	return p.log.Get(hash)
}

// Announce schedules a pull from the announcing peer when it has heads we
// have not seen. An unknown announcer is only added to the peer table once
// it answers the handshake at pull time.
func (p *Participant) Announce(_ context.Context, a core.Announcement) {
	if a.From == "" || p.State() != core.StateSynced {
		return
	}
	if p.cfg.Node != nil && a.From == p.cfg.Node.URL() {
		return
	}
	if slices.ContainsFunc(a.Heads, func(h string) bool { return !p.log.Has(h) }) {
		p.requestPull(a.From)
	}
}

// ============================================
// SYNC
// ============================================

// requestPull queues a pull; "" means every known peer. A full queue drops
// the request since the next tick pulls from everyone anyway.
func (p *Participant) requestPull(peer string) {
	select {
	case p.pulls <- peer:
	default:
		p.logger.Debug("pull queue full, waiting for next tick", "peer", peer)
	}
}

func (p *Participant) syncLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case peer := <-p.pulls:
			if peer == "" {
				p.pullAll(ctx)
			} else {
				p.pull(ctx, peer)
			}
		case <-ticker.C:
			p.pullAll(ctx)
		}
	}
}

func (p *Participant) pullAll(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(p.cfg.MaxPulls)
	for _, url := range p.peerURLs() {
		g.Go(func() error {
			p.pull(ctx, url)
			return nil
		})
	}
	_ = g.Wait()
}

// pull fetches whatever peer has that we lack, joins and persists it
func (p *Participant) pull(ctx context.Context, peer string) {
	address := p.address.String()

	if !p.knownPeer(peer) {
		info, err := p.cfg.Transport.Hello(ctx, peer)
		if err != nil {
			p.emit(Event{Kind: EventError, Peer: peer, Err: fmt.Errorf("handshake with %s: %w", peer, err)})
			return
		}
		if !p.addPeer(peer, info.ID) {
			return
		}
		p.logger.Info("peer joined", "url", peer, "peer_id", info.ID)
	}

	heads, err := p.cfg.Transport.Heads(ctx, peer, address)
	if err != nil {
		p.emit(Event{Kind: EventError, Peer: peer, Err: fmt.Errorf("heads from %s: %w", peer, err)})
		return
	}

	fetched, err := p.fetchMissing(ctx, peer, heads)
	if err != nil {
		p.emit(Event{Kind: EventError, Peer: peer, Err: fmt.Errorf("entries from %s: %w", peer, err)})
		return
	}
	if len(fetched) == 0 {
		return
	}

	added, err := p.log.Join(fetched)
	if err != nil {
		p.emit(Event{Kind: EventError, Peer: peer, Err: fmt.Errorf("join entries from %s: %w", peer, err)})
		return
	}
	if len(added) == 0 {
		return
	}
	if err := p.cfg.Storage.PutEntries(ctx, address, added); err != nil {
		p.emit(Event{Kind: EventError, Peer: peer, Err: fmt.Errorf("persist replicated entries: %w", err)})
	}
	metrics.EntriesJoined(len(added))

	for _, e := range added {
		p.emit(Event{Kind: EventWrite, Peer: peer, Entry: e})
	}
	p.emit(Event{Kind: EventReplicated, Peer: peer})
}

// fetchMissing walks back from heads through Next until it reaches
// entries already in the log.
func (p *Participant) fetchMissing(ctx context.Context, peer string, heads []string) ([]*core.Entry, error) {
	address := p.address.String()
	queue := slices.Clone(heads)
	seen := make(map[string]struct{})
	var out []*core.Entry

	for len(queue) > 0 {
		hash := queue[0]
		queue = queue[1:]
		if _, ok := seen[hash]; ok || p.log.Has(hash) {
			continue
		}
		seen[hash] = struct{}{}

		e, err := p.cfg.Transport.Entry(ctx, peer, address, hash)
		if err != nil {
			return nil, err
		}
		if err := VerifyEntry(e); err != nil {
			return nil, err
		}
		if e.Hash != hash {
			return nil, fmt.Errorf("%w: asked for %s, got %s", core.ErrHashMismatch, hash, e.Hash)
		}
		out = append(out, e)
		queue = append(queue, e.Next...)
	}
	return out, nil
}

// ============================================
// RECONCILIATION
// ============================================

// emit hands an event to the reconciliation loop
func (p *Participant) emit(ev Event) {
	p.mu.Lock()
	ctx := p.loopCtx
	p.mu.Unlock()
	if ctx == nil {
		return
	}
	select {
	case p.events <- ev:
	case <-ctx.Done():
	}
}

// reconcileLoop is the only consumer of events. Replicated events already
// queued are coalesced so only the latest merged view is pushed.
func (p *Participant) reconcileLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.events:
			var (
				replicated bool
				lastPeer   string
			)
			if p.handle(ev) {
				replicated, lastPeer = true, ev.Peer
			}
		drain:
			for {
				select {
				case ev := <-p.events:
					if p.handle(ev) {
						replicated, lastPeer = true, ev.Peer
					}
				default:
					break drain
				}
			}
			if replicated {
				p.applySnapshot(ctx, lastPeer)
			}
		}
	}
}

// handle processes one event and reports whether it asks for a snapshot
func (p *Participant) handle(ev Event) bool {
	metrics.ReplicationEvent(string(ev.Kind))

	switch ev.Kind {
	case EventReplicated:
		p.logger.Info("replicated", "peer", ev.Peer)
		return true
	case EventWrite:
		p.logger.Debug("write", "peer", ev.Peer, "hash", ev.Entry.Hash, "op", ev.Entry.Op, "key", ev.Entry.Key)
	case EventError:
		p.logger.Warn("replication error", "peer", ev.Peer, "error", ev.Err)
		p.mu.Lock()
		p.status.LastError = ev.Err.Error()
		status := p.status
		p.mu.Unlock()
		p.report(status)
	}
	return false
}

// applySnapshot pushes the full merged document set to the sink,
// replacing whatever it held.
func (p *Participant) applySnapshot(ctx context.Context, peer string) {
	docs := p.log.Documents()
	raw := make([]json.RawMessage, len(docs))
	for i, d := range docs {
		raw[i] = d.Value
	}

	p.mu.Lock()
	p.status.LastPeer = peer
	p.status.LastReplicatedAt = p.cfg.Now()
	p.status.Documents = len(docs)
	p.mu.Unlock()

	if p.cfg.Sink != nil {
		if err := p.cfg.Sink.ApplySnapshot(ctx, raw); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("apply snapshot", "error", err)
			p.mu.Lock()
			p.status.LastError = err.Error()
			p.mu.Unlock()
		}
	}
	p.report(p.Status())
}

func sameJSON(a, b json.RawMessage) bool {
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return false
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
