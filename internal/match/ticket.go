package match

import (
	"fmt"
	"time"

	"github.com/quietbit/arena/pkg/wire"
)

// DefaultMode is used when a queue join names no mode.
const DefaultMode = "casual"

// Ticket is one player waiting in a queue. Tickets are stored as JSON
// in a Redis list so cancellation can remove the exact entry.
type Ticket struct {
	PlayerID    string           `json:"player_id"`
	Name        string           `json:"name"`
	TimeControl wire.TimeControl `json:"time_control"`
	Mode        string           `json:"mode"`
	EnqueuedAt  time.Time        `json:"enqueued_at"`
}

// QueueKey identifies the FIFO a ticket belongs to. Players only ever
// pair within the same time control and mode.
func QueueKey(tc wire.TimeControl, mode string) string {
	if mode == "" {
		mode = DefaultMode
	}
	return fmt.Sprintf("%d+%d:%s", tc.BaseSeconds, tc.IncrementSeconds, mode)
}
