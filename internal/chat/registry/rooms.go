package registry

// Subscribe adds sub to the room of orderID. Subscribing twice is a no-op.
func (r *Registry) Subscribe(sub Subscriber, orderID int64) {
	s := r.shardOf(orderID)
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.rooms[orderID]
	if set == nil {
		set = make(map[string]Subscriber, 4)
		s.rooms[orderID] = set
	}
	set[sub.ID()] = sub
}

// Unsubscribe removes a subscriber by id. Unknown ids are ignored.
func (r *Registry) Unsubscribe(subID string, orderID int64) {
	s := r.shardOf(orderID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if set := s.rooms[orderID]; set != nil {
		delete(set, subID)
		if len(set) == 0 {
			delete(s.rooms, orderID)
		}
	}
}

// Subscribers returns a snapshot safe to iterate without locks.
func (r *Registry) Subscribers(orderID int64) []Subscriber {
	s := r.shardOf(orderID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.rooms[orderID]
	if len(set) == 0 {
		return nil
	}
	out := make([]Subscriber, 0, len(set))
	for _, sub := range set {
		out = append(out, sub)
	}
	return out
}

func (r *Registry) IsSubscribed(subID string, orderID int64) bool {
	s := r.shardOf(orderID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[orderID][subID]
	return ok
}
