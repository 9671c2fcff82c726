package domain

import "time"

type OperationType string

const (
	OpInsert  OperationType = "insert"
	OpUpdate  OperationType = "update"
	OpDelete  OperationType = "delete"
	OpReplace OperationType = "replace"
)

func (o OperationType) Valid() bool {
	switch o {
	case OpInsert, OpUpdate, OpDelete, OpReplace:
		return true
	}
	return false
}

// Collections observed on the change feed.
const (
	CollectionInventory = "inventory"
	CollectionRooms     = "rooms"
	CollectionRatePlans = "rate_plans"
	CollectionProperty  = "properties"
)

type SyncEvent struct {
	Collection    string        `json:"collection"`
	DocumentID    string        `json:"documentId"`
	OperationType OperationType `json:"operationType"`
	ResumeToken   string        `json:"resumeToken"`
	ObservedAt    time.Time     `json:"observedAt"`
}

type TriggerKind string

const (
	TriggerEvent    TriggerKind = "event"
	TriggerFullScan TriggerKind = "full_scan"
)

type Trigger struct {
	Kind   TriggerKind
	Event  *SyncEvent
	Reason string
}

func EventTrigger(ev SyncEvent) Trigger { return Trigger{Kind: TriggerEvent, Event: &ev} }

func FullScan(reason string) Trigger { return Trigger{Kind: TriggerFullScan, Reason: reason} }
