// Package telemetry holds the electrolyser domain model: canonical
// fields, the tag catalog that maps WinCC tag names onto them, the
// normaliser that turns one raw MQTT payload into a Reading, and the
// per-device composite Record the ingest pipeline assembles.
//
// Everything in this package is free of I/O. The Catalog and Normalizer
// are immutable after construction and safe for concurrent use; a Record
// is not and must be guarded by its owner.
//
// Device inference:
//
//	CELL3      -> device 1, cell_3
//	CELL3_2    -> device 3, cell_3   (suffix _k means device k+1)
//	7_Type     -> device 7, machine_model
//	Type       -> device 1, machine_model
package telemetry
