package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/schema"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/errors"
	"github.com/hashicorp/go-multierror"
	farmhash "github.com/leemcloughlin/gofarmhash"
)

const registryStripes = 16

var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]{0,254}$`)

type collection struct {
	engine *Engine
	store  *store.Store
	dir    string
}

type stripe struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// Registry manages the named collections of one node. Names are spread over
// farmhash-selected stripes so lifecycle calls on different collections do
// not contend.
type Registry struct {
	storage config.StorageConfig
	cfg     config.IndexConfig
	opts    []Option
	stripes []stripe
	logger  *slog.Logger

	loopMu  sync.Mutex
	loopCtx context.Context
}

func NewRegistry(storage config.StorageConfig, cfg config.IndexConfig, opts ...Option) *Registry {
	stripes := make([]stripe, registryStripes)
	for i := range stripes {
		stripes[i].collections = make(map[string]*collection)
	}
	return &Registry{
		storage: storage,
		cfg:     cfg,
		opts:    opts,
		stripes: stripes,
		logger:  slog.Default().With("component", "registry"),
	}
}

func (r *Registry) stripeFor(name string) *stripe {
	return &r.stripes[farmhash.Hash32WithSeed([]byte(name), 0)%registryStripes]
}

// Load reopens every collection previously created under the data directory.
func (r *Registry) Load() error {
	if !r.durable() {
		return nil
	}
	entries, err := os.ReadDir(r.storage.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading data directory: %w", err)
	}
	var errs *multierror.Error
	for _, entry := range entries {
		if !entry.IsDir() || !validName.MatchString(entry.Name()) {
			continue
		}
		if err := r.reopen(entry.Name()); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("index %s: %w", entry.Name(), err))
		}
	}
	return errs.ErrorOrNil()
}

func (r *Registry) reopen(name string) error {
	dir := filepath.Join(r.storage.DataDir, name)
	st, err := store.Open(r.storage.Engine, dir)
	if err != nil {
		return err
	}
	raw, err := st.GetMeta(metaSchema)
	if err != nil {
		st.Close()
		if errors.Is(err, apperrors.ErrNotFound) {
			r.logger.Warn("skipping directory without schema", "dir", dir)
			return nil
		}
		return err
	}
	sch := &schema.Schema{}
	if err := sch.UnmarshalJSON(raw); err != nil {
		st.Close()
		return err
	}
	engine, err := Open(name, sch, st, dir, r.cfg, r.opts...)
	if err != nil {
		st.Close()
		return err
	}
	s := r.stripeFor(name)
	s.mu.Lock()
	s.collections[name] = &collection{engine: engine, store: st, dir: dir}
	s.mu.Unlock()
	r.logger.Info("index loaded", "index", name, "generation", engine.Snapshot().Generation())
	return nil
}

// CreateIndex creates an empty collection. It returns ErrAlreadyExists when
// name is taken.
func (r *Registry) CreateIndex(name string, sch *schema.Schema) (*Engine, error) {
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("%w: invalid index name %q", apperrors.ErrInvalidInput, name)
	}
	if sch == nil || len(sch.Fields()) == 0 {
		return nil, fmt.Errorf("%w: index %s needs at least one field", apperrors.ErrInvalidInput, name)
	}
	s := r.stripeFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return nil, fmt.Errorf("index %s: %w", name, apperrors.ErrAlreadyExists)
	}

	var dir string
	if r.durable() {
		dir = filepath.Join(r.storage.DataDir, name)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}
	st, err := store.Open(r.storage.Engine, dir)
	if err != nil {
		return nil, err
	}
	engine, err := Open(name, sch, st, dir, r.cfg, r.opts...)
	if err != nil {
		st.Close()
		return nil, err
	}
	s.collections[name] = &collection{engine: engine, store: st, dir: dir}
	r.logger.Info("index created", "index", name, "fields", len(sch.Fields()))
	r.loopMu.Lock()
	if r.loopCtx != nil {
		engine.StartRefreshLoop(r.loopCtx)
	}
	r.loopMu.Unlock()
	return engine, nil
}

// DeleteIndex drops a collection and its data. Deleting an unknown index
// returns ErrIndexNotFound, which callers usually ignore.
func (r *Registry) DeleteIndex(name string) error {
	s := r.stripeFor(name)
	s.mu.Lock()
	c, ok := s.collections[name]
	if ok {
		delete(s.collections, name)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("index %s: %w", name, apperrors.ErrIndexNotFound)
	}

	c.engine.Drop()
	var errs *multierror.Error
	if err := c.store.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if c.dir != "" {
		if err := os.RemoveAll(c.dir); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("removing index data: %w", err))
		}
	}
	r.logger.Info("index deleted", "index", name)
	return errs.ErrorOrNil()
}

func (r *Registry) IndexExists(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

// RefreshIndex publishes pending writes of name and returns the new
// generation.
func (r *Registry) RefreshIndex(name string) (uint64, error) {
	engine, err := r.Get(name)
	if err != nil {
		return 0, err
	}
	return engine.Refresh()
}

func (r *Registry) Get(name string) (*Engine, error) {
	s := r.stripeFor(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("index %s: %w", name, apperrors.ErrIndexNotFound)
	}
	return c.engine, nil
}

// Names lists every collection in lexical order.
func (r *Registry) Names() []string {
	var names []string
	for i := range r.stripes {
		s := &r.stripes[i]
		s.mu.RLock()
		for name := range s.collections {
			names = append(names, name)
		}
		s.mu.RUnlock()
	}
	sort.Strings(names)
	return names
}

// StartRefreshLoops starts the periodic refresh of every loaded collection.
// Collections created afterwards start theirs on creation.
func (r *Registry) StartRefreshLoops(ctx context.Context) {
	r.loopMu.Lock()
	r.loopCtx = ctx
	r.loopMu.Unlock()
	for _, name := range r.Names() {
		if engine, err := r.Get(name); err == nil {
			engine.StartRefreshLoop(ctx)
		}
	}
}

// Close flushes every collection and closes its store.
func (r *Registry) Close() error {
	var errs *multierror.Error
	for i := range r.stripes {
		s := &r.stripes[i]
		s.mu.Lock()
		for name, c := range s.collections {
			if err := c.engine.Close(); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("closing index %s: %w", name, err))
			}
			if err := c.store.Close(); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("closing store of %s: %w", name, err))
			}
		}
		s.collections = make(map[string]*collection)
		s.mu.Unlock()
	}
	return errs.ErrorOrNil()
}

func (r *Registry) durable() bool {
	return r.storage.Engine != store.EngineMemory && r.storage.Engine != "" && r.storage.DataDir != ""
}
