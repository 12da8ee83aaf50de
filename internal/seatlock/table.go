package seatlock

import "sort"

// Table stores, per room, the lock held on each seat. It enforces nothing:
// ownership and expiry rules live in Manager, which is the only writer.
// Implementations need not be safe for concurrent use; Manager serializes
// access.
type Table interface {
	Get(room, seatID string) (Lock, bool)
	Set(room, seatID string, lock Lock)
	Delete(room, seatID string)
	RoomSeatIDs(room string) []string
	IsRoomEmpty(room string) bool
	DeleteRoomIfEmpty(room string) bool
	Rooms() []string
}

// MemoryTable is the process-wide in-memory Table. Rooms are created on the
// first Set and removed by DeleteRoomIfEmpty.
type MemoryTable struct {
	rooms map[string]map[string]Lock
}

// NewMemoryTable returns an empty table.
func NewMemoryTable() *MemoryTable {
	return &MemoryTable{rooms: make(map[string]map[string]Lock)}
}

func (t *MemoryTable) Get(room, seatID string) (Lock, bool) {
	seats, ok := t.rooms[room]
	if !ok {
		return Lock{}, false
	}
	l, ok := seats[seatID]
	return l, ok
}

func (t *MemoryTable) Set(room, seatID string, lock Lock) {
	seats, ok := t.rooms[room]
	if !ok {
		seats = make(map[string]Lock)
		t.rooms[room] = seats
	}
	seats[seatID] = lock
}

func (t *MemoryTable) Delete(room, seatID string) {
	if seats, ok := t.rooms[room]; ok {
		delete(seats, seatID)
	}
}

// RoomSeatIDs returns the locked seat ids of room in lexical order.
func (t *MemoryTable) RoomSeatIDs(room string) []string {
	seats := t.rooms[room]
	ids := make([]string, 0, len(seats))
	for id := range seats {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *MemoryTable) IsRoomEmpty(room string) bool {
	return len(t.rooms[room]) == 0
}

// DeleteRoomIfEmpty drops the room entry when it holds no locks and reports
// whether it did.
func (t *MemoryTable) DeleteRoomIfEmpty(room string) bool {
	seats, ok := t.rooms[room]
	if !ok || len(seats) > 0 {
		return false
	}
	delete(t.rooms, room)
	return true
}

func (t *MemoryTable) Rooms() []string {
	rooms := make([]string, 0, len(t.rooms))
	for r := range t.rooms {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	return rooms
}
