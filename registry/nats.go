package registry

import (
	"context"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// keyEncoding maps agent IDs onto the restricted NATS KV key alphabet.
var keyEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// NATSStore implements Store on a NATS JetStream key-value bucket so that
// several protocol processes can share one registry.
type NATSStore struct {
	conn    *nats.Conn
	kv      jetstream.KeyValue
	config  NATSStoreConfig
	timeout time.Duration

	mu       sync.RWMutex
	watchers []chan Event
	closed   bool
	cancel   context.CancelFunc
}

// NATSStoreConfig configures the NATS store.
type NATSStoreConfig struct {
	// BucketName is the KV bucket name. Default: "oneagent-registry"
	BucketName string

	// Replicas for the KV bucket (1-5). Default: 1
	Replicas int

	// OpTimeout bounds each KV round trip. Default: 5s
	OpTimeout time.Duration
}

// DefaultNATSStoreConfig returns configuration with sensible defaults.
// Entries never expire: registrations leave only through Delete or Reset.
func DefaultNATSStoreConfig() NATSStoreConfig {
	return NATSStoreConfig{
		BucketName: "oneagent-registry",
		Replicas:   1,
		OpTimeout:  5 * time.Second,
	}
}

// NewNATSStore creates a store on an existing connection.
func NewNATSStore(conn *nats.Conn, cfg NATSStoreConfig) (*NATSStore, error) {
	if conn == nil {
		return nil, fmt.Errorf("nil connection")
	}
	if cfg.BucketName == "" {
		cfg.BucketName = "oneagent-registry"
	}
	if cfg.Replicas < 1 {
		cfg.Replicas = 1
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	ctx, cancelInit := context.WithTimeout(context.Background(), cfg.OpTimeout)
	defer cancelInit()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   cfg.BucketName,
		Replicas: cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s := &NATSStore{
		conn:     conn,
		kv:       kv,
		config:   cfg,
		timeout:  cfg.OpTimeout,
		watchers: make([]chan Event, 0),
		cancel:   cancel,
	}

	go s.watchKV(watchCtx)

	return s, nil
}

func encodeKey(id string) string {
	return keyEncoding.EncodeToString([]byte(id))
}

func decodeKey(key string) string {
	b, err := keyEncoding.DecodeString(key)
	if err != nil {
		return key
	}
	return string(b)
}

func (s *NATSStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *NATSStore) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *NATSStore) Put(reg AgentRegistration) (bool, error) {
	if reg.AgentID == "" {
		return false, ErrInvalidID
	}
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	data, err := json.Marshal(reg)
	if err != nil {
		return false, fmt.Errorf("marshal registration: %w", err)
	}

	ctx, cancel := s.opContext()
	defer cancel()

	key := encodeKey(reg.AgentID)
	if _, err := s.kv.Create(ctx, key, data); err == nil {
		return true, nil
	} else if !errors.Is(err, jetstream.ErrKeyExists) {
		return false, fmt.Errorf("create in kv: %w", err)
	}

	if _, err := s.kv.Put(ctx, key, data); err != nil {
		return false, fmt.Errorf("put to kv: %w", err)
	}
	return false, nil
}

func (s *NATSStore) Get(id string) (*AgentRegistration, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	ctx, cancel := s.opContext()
	defer cancel()

	entry, err := s.kv.Get(ctx, encodeKey(id))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get from kv: %w", err)
	}

	var reg AgentRegistration
	if err := json.Unmarshal(entry.Value(), &reg); err != nil {
		return nil, fmt.Errorf("unmarshal registration: %w", err)
	}
	return &reg, nil
}

func (s *NATSStore) Delete(id string) (bool, error) {
	if id == "" {
		return false, ErrInvalidID
	}
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	ctx, cancel := s.opContext()
	defer cancel()

	key := encodeKey(id)
	if _, err := s.kv.Get(ctx, key); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get from kv: %w", err)
	}

	if err := s.kv.Delete(ctx, key); err != nil {
		return false, fmt.Errorf("delete from kv: %w", err)
	}
	return true, nil
}

func (s *NATSStore) List() ([]AgentRegistration, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	ctx, cancel := s.opContext()
	defer cancel()

	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []AgentRegistration{}, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}

	result := make([]AgentRegistration, 0, len(keys))
	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			continue // deleted between Keys and Get
		}
		var reg AgentRegistration
		if err := json.Unmarshal(entry.Value(), &reg); err != nil {
			continue
		}
		result = append(result, reg)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].AgentID < result[j].AgentID
	})
	return result, nil
}

func (s *NATSStore) Reset() (int, error) {
	regs, err := s.List()
	if err != nil {
		return 0, err
	}

	ctx, cancel := s.opContext()
	defer cancel()

	n := 0
	for _, reg := range regs {
		if err := s.kv.Delete(ctx, encodeKey(reg.AgentID)); err != nil {
			return n, fmt.Errorf("delete from kv: %w", err)
		}
		n++
	}
	return n, nil
}

func (s *NATSStore) Watch() (<-chan Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	ch := make(chan Event, 64)
	s.watchers = append(s.watchers, ch)
	return ch, nil
}

func (s *NATSStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()

	for _, ch := range s.watchers {
		close(ch)
	}
	s.watchers = nil
	return nil
}

// Conn returns the underlying NATS connection.
func (s *NATSStore) Conn() *nats.Conn {
	return s.conn
}

// watchKV translates KV updates into registry events.
func (s *NATSStore) watchKV(ctx context.Context) {
	watcher, err := s.kv.WatchAll(ctx)
	if err != nil {
		return
	}
	defer watcher.Stop()

	known := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				continue
			}

			event, ok := eventFromEntry(entry, known[entry.Key()])
			if !ok {
				continue
			}
			if event.Type == EventRemoved {
				delete(known, entry.Key())
			} else {
				known[entry.Key()] = true
			}

			s.mu.RLock()
			if s.closed {
				s.mu.RUnlock()
				return
			}
			for _, ch := range s.watchers {
				select {
				case ch <- event:
				default:
				}
			}
			s.mu.RUnlock()
		}
	}
}

// eventFromEntry converts one KV update. seen reports whether the key was
// already observed by this watcher.
func eventFromEntry(entry jetstream.KeyValueEntry, seen bool) (Event, bool) {
	switch entry.Operation() {
	case jetstream.KeyValuePut:
		var reg AgentRegistration
		if err := json.Unmarshal(entry.Value(), &reg); err != nil {
			return Event{}, false
		}
		if !seen {
			return Event{Type: EventAdded, Agent: reg}, true
		}
		return Event{Type: EventUpdated, Agent: reg}, true
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		return Event{Type: EventRemoved, Agent: AgentRegistration{AgentID: decodeKey(entry.Key())}}, true
	}
	return Event{}, false
}
