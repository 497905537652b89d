package bus

// Task mutation topics. Each is published once the mutation's transaction
// has committed.
const (
	TopicTaskInserted = "task.inserted"
	TopicTaskUpdated  = "task.updated"
	TopicTaskDeleted  = "task.deleted"
	TopicTaskMoved    = "task.moved"
)

// Maintenance topics.
const (
	TopicListCreated         = "list.created"
	TopicInstancesRecomputed = "instances.recomputed"
	TopicSearchStale         = "search.stale"
	TopicSearchReindexed     = "search.reindexed"
	TopicConfigReloaded      = "config.reloaded"
	TopicTimezoneChanged     = "timezone.changed"
)

// TaskEvent describes a committed task mutation.
type TaskEvent struct {
	TaskID      int64
	ListID      int64
	SyncAdapter bool
	// Purged is set when the row was removed rather than flagged deleted.
	Purged bool
}

// TaskMovedEvent reports a tombstone left behind by a list move.
type TaskMovedEvent struct {
	TaskID      int64
	TombstoneID int64
}

// SearchStaleEvent reports a task whose index refresh was rolled back.
type SearchStaleEvent struct {
	TaskID int64
	Reason string
}

// CountEvent carries the size of a batch operation.
type CountEvent struct {
	Count int
}

// TimezoneChangedEvent reports a change of the local zone.
type TimezoneChangedEvent struct {
	Old string
	New string
}
