package chat

import "time"

// Turn is one message in a conversation.
type Turn struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// History is a bounded FIFO of turns. Adding past the bound evicts the
// oldest turns first. It is not safe for concurrent use.
type History struct {
	turns   []Turn
	maxSize int
}

func NewHistory(maxSize int) *History {
	return &History{
		turns:   make([]Turn, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add appends t and reports how many turns were evicted.
func (h *History) Add(t Turn) int {
	h.turns = append(h.turns, t)

	evicted := 0
	for len(h.turns) > h.maxSize {
		h.turns[0] = Turn{}
		h.turns = h.turns[1:]
		evicted++
	}
	return evicted
}

// GetAll returns a copy of the turns, oldest first.
func (h *History) GetAll() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

func (h *History) Clear() {
	h.turns = make([]Turn, 0, h.maxSize)
}

func (h *History) Size() int {
	return len(h.turns)
}

func (h *History) IsEmpty() bool {
	return len(h.turns) == 0
}
