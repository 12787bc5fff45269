package validation

import "fmt"

const (
	MinIntensity     = 1
	MaxIntensity     = 5
	DefaultIntensity = 3
)

// NormalizeIntensity returns the default for zero and rejects values outside the allowed band.
func NormalizeIntensity(v int) (int, error) {
	if v == 0 {
		return DefaultIntensity, nil
	}
	if v < MinIntensity || v > MaxIntensity {
		return 0, &FieldError{Field: "intensity", Reason: fmt.Sprintf("must be between %d and %d", MinIntensity, MaxIntensity)}
	}
	return v, nil
}
