package build

import "errors"

var (
	// ErrConfiguration marks settings that are inconsistent or describe no
	// buildable content.
	ErrConfiguration = errors.New("invalid image configuration")

	// ErrResolution marks a requirement source that could not be read.
	ErrResolution = errors.New("requirement resolution failed")

	// ErrInfrastructure marks a stack missing a component the build needs.
	ErrInfrastructure = errors.New("missing build infrastructure")

	// ErrValidation marks a stack that failed its own validation.
	ErrValidation = errors.New("stack validation failed")
)
