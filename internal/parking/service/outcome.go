package service

import (
	"github.com/BrandonDHaskell/parkedge/internal/parking/store"
)

type Kind string

const (
	KindEntry  Kind = "ENTRY"
	KindExit   Kind = "EXIT"
	KindReject Kind = "REJECT"
)

// Reason codes carried by an Outcome.
const (
	ReasonEntry              = "entry_accepted"
	ReasonExit               = "exit_accepted"
	ReasonNoPlate            = "no_plate_detected"
	ReasonPlateAlreadyInside = "plate_already_inside"
	ReasonExitPlateMismatch  = "exit_plate_mismatch"
)

// Event is one badge presentation after capture and recognition.
type Event struct {
	Token           string
	RecognizedPlate string
	// Image is saved as evidence when ImageRef is empty.
	Image    []byte
	ImageRef string
}

// Outcome is the result of one decision. Every outcome, accepted or not,
// corresponds to a durable record.
type Outcome struct {
	Kind     Kind
	Accepted bool
	Reason   string
	RecordID int64
	Plate    string
	Token    string
	Status   store.Status
	ImageRef string
}

// OutcomeListener is told about every committed decision.
type OutcomeListener interface {
	OutcomeRecorded(Outcome)
}

// SyncEvent describes one sync worker step that touched a record.
type SyncEvent struct {
	RecordID  int64
	EventType string
	Result    SyncStep
}

type SyncListener interface {
	SyncRecorded(SyncEvent)
}

// details is the human text sent upstream for each status.
func details(st store.Status) string {
	switch st {
	case store.StatusInside:
		return "Vehicle entry"
	case store.StatusCompleted:
		return "Vehicle exit"
	case store.StatusFailNoPlate:
		return "No plate detected"
	case store.StatusFailPlateAlreadyInside:
		return "Plate already inside under different credential"
	case store.StatusFailPlateMismatch:
		return "Exit plate mismatch"
	default:
		return st.String()
	}
}
