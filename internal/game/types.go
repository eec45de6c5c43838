// Package game holds the hitman-game domain model and the random hit
// assignment algorithm.
package game

// PlayerStatus tracks a player through the game lifecycle.
type PlayerStatus int

const (
	StatusNew PlayerStatus = iota
	StatusFree
	StatusWaiting
	StatusInGame
	StatusDead
	StatusStandby
	StatusRetired
)

var playerStatusNames = [...]string{"NEW", "FREE", "WAITING", "INGAME", "DEAD", "STANDBY", "RETIRED"}

func (s PlayerStatus) String() string {
	if s < 0 || int(s) >= len(playerStatusNames) {
		return "UNKNOWN"
	}
	return playerStatusNames[s]
}

// HitStatus tracks a hit contract.
//
//   - Active: assigned to a hitman and in play
//   - Open: hitman eliminated, waiting for reassignment
//   - Pending: a kill report awaits the target's confirmation
//   - Confirmed: the target confirmed the kill
type HitStatus int

const (
	HitActive HitStatus = iota
	HitOpen
	HitPending
	HitConfirmed
)

var hitStatusNames = [...]string{"ACTIVE", "OPEN", "PENDING", "CONFIRMED"}

func (s HitStatus) String() string {
	if s < 0 || int(s) >= len(hitStatusNames) {
		return "UNKNOWN"
	}
	return hitStatusNames[s]
}

// Player is a registered participant. SlackID is the chat identity; UID is
// the external account linked through auth validation.
type Player struct {
	SlackID  string
	UID      string
	Weapon   string
	Location string
	Status   PlayerStatus
	Locked   bool
	Complete bool
}

// Hit is a contract on Target, to be carried out with the given weapon at
// the given location. Hitman is empty while the hit is unassigned.
type Hit struct {
	ID       int64
	GameID   string
	Target   string
	Weapon   string
	Location string
	Hitman   string
	Status   HitStatus
}

// Game is one round of hitman with its players and hit contracts.
type Game struct {
	ID      string
	Players []string
	Hits    []Hit
}
