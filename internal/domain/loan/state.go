package loan

var transitions = map[Status][]Status{
	StatusRequested:   {StatusRejected, StatusMarketplace, StatusCancelled, StatusFunded},
	StatusMarketplace: {StatusFunded, StatusCancelled},
	StatusFunded:      {StatusActive},
	StatusActive:      {StatusRepaid, StatusDefaulted},
}

func (s Status) Terminal() bool {
	switch s {
	case StatusRepaid, StatusDefaulted, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// OpenStatuses are the states in which a loan can still be funded.
var OpenStatuses = []Status{StatusRequested, StatusMarketplace}

func (s Status) Open() bool { return s == StatusRequested || s == StatusMarketplace }

func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusMarketplace, StatusFunded, StatusActive,
		StatusRepaid, StatusDefaulted, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Stage orders statuses along the funding path so local and ledger views can be compared.
// Requested and Marketplace share a stage because the ledger does not distinguish them.
func (s Status) Stage() int {
	switch s {
	case StatusRequested, StatusMarketplace:
		return 0
	case StatusFunded:
		return 1
	case StatusActive:
		return 2
	case StatusRepaid, StatusDefaulted:
		return 3
	case StatusCancelled, StatusRejected:
		return 1
	}
	return -1
}

// Transition moves l to the next status, rejecting edges outside the state machine.
func (l *Loan) Transition(op string, to Status) error {
	if l.Status.Terminal() {
		return StateConflict(op, "loan %s is %s", l.LoanID, l.Status)
	}
	if !CanTransition(l.Status, to) {
		return StateConflict(op, "cannot move loan %s from %s to %s", l.LoanID, l.Status, to)
	}
	l.Status = to
	return nil
}
