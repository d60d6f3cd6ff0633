// Package testutil provides shared test helpers for HTTP handlers and the
// matrix invariants checked across the filter packages.
package testutil

import (
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/sensorfusion/internal/linalg"
	"gonum.org/v1/gonum/mat"
)

// CovarianceTolerance is the eigenvalue/symmetry tolerance used by
// AssertCovariance.
const CovarianceTolerance = 1e-9

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertCovariance fails the test unless p is finite, symmetric and positive
// semidefinite within CovarianceTolerance.
func AssertCovariance(t testing.TB, p mat.Symmetric) {
	t.Helper()
	if !linalg.AllFinite(p) {
		t.Fatalf("covariance has non-finite entries:\n%v", mat.Formatted(p))
	}
	if !linalg.IsSymmetric(p, CovarianceTolerance) {
		t.Errorf("covariance is not symmetric:\n%v", mat.Formatted(p))
	}
	min, ok := linalg.MinEigenvalue(p)
	if !ok {
		t.Fatalf("eigen decomposition failed:\n%v", mat.Formatted(p))
	}
	if min < -CovarianceTolerance {
		t.Errorf("covariance min eigenvalue = %g, want >= %g", min, -CovarianceTolerance)
	}
}

// AssertMatrixNear fails the test if any entry of got differs from want by
// more than tol.
func AssertMatrixNear(t testing.TB, want, got mat.Matrix, tol float64) {
	t.Helper()
	if !mat.EqualApprox(want, got, tol) {
		t.Errorf("matrix mismatch (tol %g)\nwant:\n%v\ngot:\n%v", tol, mat.Formatted(want), mat.Formatted(got))
	}
}

// AssertSliceNear fails the test if got and want differ in length or any
// element differs by more than tol.
func AssertSliceNear(t testing.TB, want, got []float64, tol float64) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(want[i]-got[i]) > tol {
			t.Errorf("[%d] = %v, want %v (tol %g)", i, got[i], want[i], tol)
		}
	}
}

// WriteTempFile writes content to name inside a per-test temp dir and
// returns its path.
func WriteTempFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}
