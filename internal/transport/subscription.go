package transport

// Subscription is the handle returned by Register. The same logical listener
// (event + id) always maps to the same registration, so re-registering after
// a reconnect or a screen focus change never produces duplicate deliveries.
type Subscription struct {
	client *Client
	event  string
	id     string
}

// Register attaches a handler for an inbound event under a logical listener
// id. Registering an id that is already present is a no-op; the existing
// handler stays in place.
func (c *Client) Register(event, id string, h Handler) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	byID, ok := c.subs[event]
	if !ok {
		byID = make(map[string]Handler)
		c.subs[event] = byID
	}
	if _, exists := byID[id]; !exists {
		byID[id] = h
	}
	return &Subscription{client: c, event: event, id: id}
}

// Unregister detaches the listener. Unregistering an absent id is a no-op.
func (s *Subscription) Unregister() {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()

	if byID, ok := s.client.subs[s.event]; ok {
		delete(byID, s.id)
		if len(byID) == 0 {
			delete(s.client.subs, s.event)
		}
	}
}

// Registered reports whether the logical listener is currently attached.
func (c *Client) Registered(event, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[event][id]
	return ok
}
