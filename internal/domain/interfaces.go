package domain

import "context"

// Charger is the metering interface consumed by every host operation.
type Charger interface {
	// Charge bills one unit of ct with the given input before the work runs.
	Charge(ct CostType, input Input) error

	// BulkCharge bills iterations units of ct with a combined input of inputSum.
	BulkCharge(ct CostType, iterations uint64, inputSum Input) error
}

// ParamsStore persists calibrated cost tables.
type ParamsStore interface {
	// Save stores a snapshot.
	Save(ctx context.Context, snap *ParamsSnapshot) error

	// Latest returns the most recently saved snapshot.
	Latest(ctx context.Context) (*ParamsSnapshot, error)

	// Get returns the snapshot of one calibration run.
	Get(ctx context.Context, runID string) (*ParamsSnapshot, error)

	// List returns the run ids of all saved snapshots, oldest first.
	List(ctx context.Context) ([]string, error)
}
