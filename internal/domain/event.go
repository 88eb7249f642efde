package domain

// ActivityEvent is a webhook delivery pushed by the provider. It is ephemeral:
// events are processed once and never persisted.
type ActivityEvent struct {
	ObjectType     string            `json:"object_type"`
	ObjectID       int64             `json:"object_id"`
	AspectType     string            `json:"aspect_type"`
	OwnerID        int64             `json:"owner_id"`
	SubscriptionID int64             `json:"subscription_id"`
	EventTime      int64             `json:"event_time"`
	Updates        map[string]string `json:"updates,omitempty"`
}

const (
	AspectCreate       = "create"
	ObjectTypeActivity = "activity"
)

// IsActivityCreate reports whether the event should trigger action dispatch.
// Everything else is acknowledged and discarded.
func (e ActivityEvent) IsActivityCreate() bool {
	return e.AspectType == AspectCreate && e.ObjectType == ObjectTypeActivity
}
