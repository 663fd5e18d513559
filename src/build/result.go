package build

// Result is the outcome of a pipeline image build.
type Result struct {
	// Image is the pushed repo digest or the local image name.
	Image string

	// Dockerfile is the generated Dockerfile, empty when none was generated.
	Dockerfile string

	// Requirements holds every requirement manifest joined by newlines,
	// empty when no manifest was produced.
	Requirements string
}

// HasDockerfile reports whether a Dockerfile was generated.
func (r *Result) HasDockerfile() bool { return r.Dockerfile != "" }

// HasRequirements reports whether any requirements were gathered.
func (r *Result) HasRequirements() bool { return r.Requirements != "" }
