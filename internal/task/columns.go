package task

// Table and view names.
const (
	TableTasks     = "tasks"
	TableLists     = "lists"
	TableInstances = "instances"
	TableRelations = "relations"
	ViewTasks      = "task_view"
)

// Task columns.
const (
	ColID                     = "_id"
	ColListID                 = "list_id"
	ColUID                    = "_uid"
	ColSyncID                 = "_sync_id"
	ColSyncVersion            = "sync_version"
	ColDirty                  = "_dirty"
	ColDeleted                = "_deleted"
	ColTitle                  = "title"
	ColDescription            = "description"
	ColLocation               = "location"
	ColURL                    = "url"
	ColDTStart                = "dtstart"
	ColTZ                     = "tz"
	ColAllDay                 = "is_allday"
	ColDue                    = "due"
	ColDuration               = "duration"
	ColRRule                  = "rrule"
	ColStatus                 = "status"
	ColPercentComplete        = "percent_complete"
	ColPriority               = "priority"
	ColClassification         = "classification"
	ColCompleted              = "completed"
	ColCreated                = "created"
	ColLastModified           = "last_modified"
	ColOriginalInstanceID     = "original_instance_id"
	ColOriginalInstanceSyncID = "original_instance_sync_id"
	ColOriginalInstanceTime   = "original_instance_time"
	ColParentID               = "parent_id"
	ColIsNew                  = "is_new"
	ColIsClosed               = "is_closed"
	ColPinned                 = "pinned"
	ColHasProperties          = "has_properties"
	ColHasAlarms              = "has_alarms"
)

// List-derived columns exposed by the task view.
const (
	ColAccountName = "account_name"
	ColAccountType = "account_type"
	ColListColor   = "list_color"
	ColListName    = "list_name"
	ColListOwner   = "list_owner"
	ColVisible     = "visible"
)

// SyncSlots lists the eight opaque columns owned by sync adapters.
var SyncSlots = []string{"sync1", "sync2", "sync3", "sync4", "sync5", "sync6", "sync7", "sync8"}

// ListColumns are joined in from the owning list and never written to the
// tasks table.
var ListColumns = []string{
	ColAccountName,
	ColAccountType,
	ColListColor,
	ColListName,
	ColListOwner,
	ColVisible,
}

// Status values.
const (
	StatusNeedsAction = 0
	StatusInProcess   = 1
	StatusCompleted   = 2
	StatusCancelled   = 3
)

// StatusDefault is applied when the status is absent.
const StatusDefault = StatusNeedsAction

// Relation types.
const (
	RelParent  = 0
	RelChild   = 1
	RelSibling = 2
)

// Relation columns.
const (
	RelColID          = "_id"
	RelColTaskID      = "task_id"
	RelColRelatedID   = "related_id"
	RelColRelatedUID  = "related_uid"
	RelColRelatedType = "related_type"
)

// Instance columns.
const (
	InstColID           = "_id"
	InstColTaskID       = "task_id"
	InstColStart        = "instance_start"
	InstColStartSorting = "instance_start_sorting"
	InstColDue          = "instance_due"
	InstColDueSorting   = "instance_due_sorting"
	InstColDuration     = "instance_duration"
)

// PseudoUpdateRequested asks for instance recomputation without changing
// any stored column. It is consumed before commit.
const PseudoUpdateRequested = "gotasks.update_requested"

// IsClosedStatus reports whether status counts as closed.
func IsClosedStatus(status int) bool {
	return status == StatusCompleted || status == StatusCancelled
}
