// Package rollout verifies that a merged image tag update
// actually reached the cluster, by polling the target
// Deployment until it runs the new tag and reports a
// completed rollout.
package rollout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// ErrNotRolledOut is returned when the deployment never
// reached the expected tag within the configured attempts.
var ErrNotRolledOut = errors.New(
	"deployment did not roll out",
)

// Verifier polls a Deployment until it runs the expected
// image tag.
type Verifier struct {
	// Client talks to the cluster.
	Client kubernetes.Interface
	// Namespace holds the deployment.
	Namespace string
	// Name is the deployment name.
	Name string
	// Attempts bounds the polling loop.
	Attempts int
	// Delay is the fixed wait between attempts.
	Delay time.Duration
}

// Verify polls until the deployment's pod template carries
// an image ending in ":tag" and the rollout is complete.
// Poll errors consume an attempt; exhausting all attempts
// returns ErrNotRolledOut.
func (v *Verifier) Verify(
	ctx context.Context,
	tag string,
) error {
	const errCtx = "verifying rollout"

	attempts := v.Attempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		dep, err := v.Client.AppsV1().
			Deployments(v.Namespace).
			Get(ctx, v.Name, metav1.GetOptions{})

		switch {
		case err != nil:
			slog.Warn(
				"deployment lookup failed",
				"deployment", v.Name,
				"attempt", attempt,
				"error", err,
			)
		case rolledOut(dep, tag):
			slog.Info(
				"rollout complete",
				"deployment", v.Name,
				"tag", tag,
				"attempt", attempt,
			)

			return nil
		default:
			slog.Info(
				"rollout not complete yet",
				"deployment", v.Name,
				"attempt", attempt,
			)
		}

		if attempt == attempts {
			break
		}

		if err := sleep(ctx, v.Delay); err != nil {
			return fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}
	}

	return fmt.Errorf(
		"%s: %s after %d attempts: %w",
		errCtx, v.Name, attempts, ErrNotRolledOut,
	)
}

// rolledOut reports whether dep runs the expected tag and
// has finished rolling out: the observed generation is
// current and updated and ready replica counts both match
// the desired count.
func rolledOut(dep *appsv1.Deployment, tag string) bool {
	if !hasTag(dep, tag) {
		return false
	}

	if dep.Status.ObservedGeneration < dep.Generation {
		return false
	}

	desired := int32(1)
	if dep.Spec.Replicas != nil {
		desired = *dep.Spec.Replicas
	}

	return dep.Status.UpdatedReplicas == desired &&
		dep.Status.ReadyReplicas == desired
}

// hasTag reports whether any container in the pod template
// runs an image with the expected tag.
func hasTag(dep *appsv1.Deployment, tag string) bool {
	suffix := ":" + tag

	for _, c := range dep.Spec.Template.Spec.Containers {
		if strings.HasSuffix(c.Image, suffix) {
			return true
		}
	}

	return false
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
