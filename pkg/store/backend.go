package store

// Snapshot is the full persisted state: five named collections written as
// one unit per flush. Message lists are keyed by group id; read cursors by
// the "agentID:groupID" composite key.
type Snapshot struct {
	Workspaces []*Workspace          `json:"workspaces"`
	Agents     []*Agent              `json:"agents"`
	Groups     []*Group              `json:"groups"`
	Messages   map[string][]*Message `json:"messages"`
	LastReads  map[string]string     `json:"lastReads"`
}

// Backend persists snapshots durably. Implementations must write the
// snapshot atomically: a crashed flush leaves the previous snapshot intact.
type Backend interface {
	// Save writes the snapshot, replacing any previous one.
	Save(snap *Snapshot) error

	// Load reads the last saved snapshot. A backend with no prior state
	// returns an empty snapshot and no error.
	Load() (*Snapshot, error)

	// Close releases backend resources.
	Close() error
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Messages:  make(map[string][]*Message),
		LastReads: make(map[string]string),
	}
}
