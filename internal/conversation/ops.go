package conversation

import "github.com/p-blackswan/checkin-agent/internal/models"

// Op is a task ledger mutation requested by Dispatch. The caller applies
// ops in order inside the dispatch transaction.
type Op interface {
	isOp()
}

// Replace swaps the list for Day wholesale.
type Replace struct {
	Day          models.Day
	Descriptions []string
}

// Append adds one task to the list for Day.
type Append struct {
	Day         models.Day
	Description string
}

// SetStatus changes one task's status. Generation 0 matches any list.
type SetStatus struct {
	Day        models.Day
	Index      int
	Generation int
	Status     models.TaskStatus
}

func (Replace) isOp()   {}
func (Append) isOp()    {}
func (SetStatus) isOp() {}
