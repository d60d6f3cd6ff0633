package fusion

import "errors"

var (
	// ErrMalformedMeasurement is returned when a measurement does not carry
	// the value count its sensor kind requires, or carries non-finite values.
	ErrMalformedMeasurement = errors.New("malformed measurement")

	// ErrDegenerateLinearization is returned by the Linearizer when the
	// state is too close to the sensor origin for the radar Jacobian to be
	// defined.
	ErrDegenerateLinearization = errors.New("degenerate linearization: state at sensor origin")

	// ErrSingularInnovation is returned when the innovation covariance S is
	// not positive definite or too ill-conditioned to invert.
	ErrSingularInnovation = errors.New("innovation covariance is singular")

	// ErrNonFinite is returned when an update would have produced NaN or Inf
	// in the state or covariance. The update is rolled back.
	ErrNonFinite = errors.New("update produced non-finite state")

	// ErrInvalidCovariance is returned when a supplied covariance matrix is
	// not symmetric positive semidefinite.
	ErrInvalidCovariance = errors.New("covariance is not symmetric positive semidefinite")

	// ErrDimension is returned when a matrix argument has the wrong shape.
	ErrDimension = errors.New("matrix dimension mismatch")
)
