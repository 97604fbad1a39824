package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tshare/publicroom/internal/domain"
	"github.com/tshare/publicroom/internal/infrastructure/clock"
)

// roomRepository keeps rooms in memory, indexed by code. When full it
// first drops rooms idle for longer than idleRoomExpiry, then the least
// recently accessed ones. Pinned rooms are never dropped.
type roomRepository struct {
	rooms          map[string]*domain.Room // code -> Room
	lastAccess     map[string]time.Time    // code -> last access time
	pins           map[string]int          // code -> pin count
	capacity       uint
	idleRoomExpiry time.Duration
	clock          clock.Clock
	onEvict        func(code string)
	mu             *sync.RWMutex
}

type RoomOption func(*roomRepository)

// WithEvictHook registers f to run, outside the repository lock, for
// every room dropped to make space.
func WithEvictHook(f func(code string)) RoomOption {
	return func(r *roomRepository) {
		r.onEvict = f
	}
}

func NewRoomRepository(capacity uint, idleRoomExpiry time.Duration, clk clock.Clock, opts ...RoomOption) domain.RoomRepository {
	if capacity == 0 {
		capacity = 100
	}
	if idleRoomExpiry == 0 {
		idleRoomExpiry = 30 * time.Minute
	}
	if clk == nil {
		clk = clock.Real()
	}

	r := &roomRepository{
		rooms:          make(map[string]*domain.Room),
		lastAccess:     make(map[string]time.Time),
		pins:           make(map[string]int),
		capacity:       capacity,
		idleRoomExpiry: idleRoomExpiry,
		clock:          clk,
		mu:             &sync.RWMutex{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *roomRepository) touch(code string) {
	r.lastAccess[code] = r.clock.Now()
}

func (r *roomRepository) drop(code string) {
	delete(r.rooms, code)
	delete(r.lastAccess, code)
}

func (r *roomRepository) evictIdle() []string {
	var evicted []string
	cutoff := r.clock.Now().Add(-r.idleRoomExpiry)
	for code, last := range r.lastAccess {
		if last.Before(cutoff) && r.pins[code] == 0 {
			r.drop(code)
			evicted = append(evicted, code)
		}
	}
	return evicted
}

// makeRoom frees one slot if the repository is at capacity and returns
// the dropped codes. It fails when every stored room is pinned.
func (r *roomRepository) makeRoom() ([]string, error) {
	if uint(len(r.rooms)) < r.capacity {
		return nil, nil
	}

	evicted := r.evictIdle()
	if uint(len(r.rooms)) < r.capacity {
		return evicted, nil
	}

	type entry struct {
		code string
		at   time.Time
	}
	entries := make([]entry, 0, len(r.lastAccess))
	for code, at := range r.lastAccess {
		if r.pins[code] == 0 {
			entries = append(entries, entry{code, at})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })

	for i := 0; uint(len(r.rooms)) >= r.capacity && i < len(entries); i++ {
		r.drop(entries[i].code)
		evicted = append(evicted, entries[i].code)
	}
	if uint(len(r.rooms)) >= r.capacity {
		return evicted, domain.ErrRoomStoreFull
	}
	return evicted, nil
}

func (r *roomRepository) notifyEvicted(codes []string) {
	if r.onEvict == nil {
		return
	}
	for _, code := range codes {
		r.onEvict(code)
	}
}

func (r *roomRepository) Create(ctx context.Context, room *domain.Room) error {
	if room == nil || room.Code == "" {
		return domain.ErrInvalidInput
	}

	r.mu.Lock()
	if _, exists := r.rooms[room.Code]; exists {
		r.mu.Unlock()
		return domain.ErrRoomAlreadyExists
	}

	evicted, err := r.makeRoom()
	if err == nil {
		stored := *room
		r.rooms[room.Code] = &stored
		r.touch(room.Code)
	}
	r.mu.Unlock()

	r.notifyEvicted(evicted)
	return err
}

// GetByCode returns a copy of the room and updates its access time.
func (r *roomRepository) GetByCode(ctx context.Context, code string) (*domain.Room, error) {
	code = domain.NormalizeCode(code)
	if code == "" {
		return nil, domain.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[code]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}
	r.touch(code)

	cpy := *room
	return &cpy, nil
}

func (r *roomRepository) Update(ctx context.Context, room *domain.Room) error {
	if room == nil || room.Code == "" {
		return domain.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[room.Code]; !exists {
		return domain.ErrRoomNotFound
	}

	stored := *room
	r.rooms[room.Code] = &stored
	r.touch(room.Code)

	return nil
}

// Pin keeps the room from being evicted until a matching Unpin.
func (r *roomRepository) Pin(ctx context.Context, code string) error {
	code = domain.NormalizeCode(code)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[code]; !exists {
		return domain.ErrRoomNotFound
	}
	r.pins[code]++
	r.touch(code)

	return nil
}

func (r *roomRepository) Unpin(ctx context.Context, code string) {
	code = domain.NormalizeCode(code)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pins[code] <= 1 {
		delete(r.pins, code)
	} else {
		r.pins[code]--
	}
	if _, exists := r.rooms[code]; exists {
		r.touch(code)
	}
}

func (r *roomRepository) List(ctx context.Context) ([]domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, *room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Code < rooms[j].Code })

	return rooms, nil
}
