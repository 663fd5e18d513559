package build

import (
	"context"

	"github.com/sofmeright/stowage/src/log"
)

// PullDecision is the input to PullParentImage.
type PullDecision struct {
	ParentImage        string
	DefaultParentImage string

	// CustomDockerfile is set when ParentImage was built from a user
	// Dockerfile in the same run.
	CustomDockerfile bool
	HasRegistry      bool
	BuildingLocally  bool

	// Daemon answers whether the parent image is already present. nil
	// means presence cannot be verified.
	Daemon Daemon
}

// PullParentImage decides whether the builder should pull the parent image.
// The first matching rule wins:
//
//   - the default parent image is never pulled
//   - an image just built from a user Dockerfile without a registry to
//     push it to only exists locally
//   - remote builders always pull
//   - local builders pull unless the image is already present
func PullParentImage(ctx context.Context, d PullDecision) bool {
	switch {
	case d.ParentImage == d.DefaultParentImage:
		return false
	case d.CustomDockerfile && !d.HasRegistry:
		return false
	case !d.BuildingLocally:
		return true
	}

	if d.Daemon != nil && d.Daemon.ImageExists(ctx, d.ParentImage) {
		log.Entry(ctx).Debugf("Parent image `%s` exists locally, not pulling it.", d.ParentImage)
		return false
	}
	return true
}
