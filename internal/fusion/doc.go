// Package fusion implements the LiDAR/radar extended Kalman filter.
//
// Responsibilities: state and covariance propagation (Estimator), the
// radar observation Jacobian (Linearizer), and per-observation lifecycle
// and dispatch (Controller, Bank).
// Key types: Measurement, State, Estimate, Result.
//
// Dependency rule: this package must not import ingestion, storage or
// presentation packages. Callers feed it one Measurement at a time in
// timestamp order and read the estimate back.
package fusion
