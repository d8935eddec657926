package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rakunlabs/statemanager/internal/service"
)

// WaitForValid blocks until the named graph template reaches VALID, the
// context is cancelled, or timeout elapses — whichever comes first. It
// returns an error at once if the template is missing or INVALID.
// Successor creation (createSuccessors in commit.go) polls this before
// building successor states, mirroring the original's
// `while True: ... asyncio.sleep(1)` loop.
func WaitForValid(ctx context.Context, graphs service.GraphTemplateStorer, namespace, name string, timeout time.Duration) (*service.GraphTemplate, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		g, err := graphs.GetGraphTemplate(deadlineCtx, namespace, name)
		if err != nil {
			return nil, fmt.Errorf("lookup graph template %s/%s: %w", namespace, name, err)
		}
		if g == nil {
			return nil, fmt.Errorf("graph template %s/%s does not exist", namespace, name)
		}

		switch g.ValidationStatus {
		case service.ValidationValid:
			return g, nil
		case service.ValidationInvalid:
			return nil, fmt.Errorf("graph template %s/%s is invalid: %v", namespace, name, g.ValidationErrors)
		}

		select {
		case <-deadlineCtx.Done():
			return nil, fmt.Errorf("timed out waiting for graph template %s/%s to become valid", namespace, name)
		case <-ticker.C:
		}
	}
}
