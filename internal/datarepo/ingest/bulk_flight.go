package ingest

import (
	"time"

	"github.com/dinvlad/jade-data-repo/internal/common/util"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/flight"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/load"
)

// NewBulkFlightFactory builds the flight that loads an array of files:
//  1. lock the load tag
//  2. validate the request and seed the ledger
//  3. drive the per-file flights
//  4. collect the results
//  5. unlock the load tag
func NewBulkFlightFactory(
	ledger load.Ledger,
	driver *Driver,
	filesMax int,
	defaultDriverWait time.Duration,
	ledgerRetry util.RetryPolicy,
	driverRetry util.RetryPolicy,
) flight.Factory {
	return func(*flight.Map) (*flight.Flight, error) {
		f := flight.NewFlight(BulkFlightClass)
		f.AddStep("LoadLockStep", &LoadLockStep{ledger: ledger}, ledgerRetry)
		f.AddStep("IngestPopulateFileStateStep", &PopulateFileStateStep{ledger: ledger, filesMax: filesMax}, ledgerRetry)
		f.AddStep("IngestDriverStep", &DriverStep{driver: driver, defaultDriverWait: defaultDriverWait}, driverRetry)
		f.AddStep("IngestBulkResultStep", &BulkResultStep{ledger: ledger}, ledgerRetry)
		f.AddStep("LoadUnlockStep", &LoadUnlockStep{ledger: ledger}, ledgerRetry)
		return f, nil
	}
}
