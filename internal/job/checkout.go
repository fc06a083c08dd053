package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/buildkite/roko"
	"github.com/gantryci/gantry/internal/osutil"
	"github.com/gantryci/gantry/internal/shell"
)

// Git output that indicates the checkout itself is broken, rather than the
// remote or the network. Retrying in the same directory would fail the same
// way, so the directory is removed and the next attempt clones from scratch.
var corruptCheckoutMarkers = []string{
	"fatal: bad object",
	"fatal: not a git repository",
	"fatal: index file corrupt",
	"error: object file",
}

var errCheckoutCorrupt = errors.New("working directory is corrupt")

// checkoutPhase clones or updates the configured repository into e.Dir and
// leaves the shell's working directory there.
func (e *Executor) checkoutPhase(ctx context.Context) error {
	e.shell.Headerf("Preparing working directory")

	if e.Dir == "" {
		return errors.New("checkout requires a working directory")
	}

	if e.CleanCheckout {
		e.shell.Commentf("Removing %s", e.Dir)
		if err := os.RemoveAll(e.Dir); err != nil {
			return fmt.Errorf("cleaning working directory: %w", err)
		}
	}

	return roko.NewRetrier(
		roko.WithMaxAttempts(3),
		roko.WithStrategy(roko.Constant(2*time.Second)),
	).DoWithContext(ctx, func(r *roko.Retrier) error {
		err := e.updateCheckout(ctx)
		if err == nil {
			return nil
		}

		switch {
		case shell.IsExitError(err) && shell.ExitCode(err) == -1:
			e.shell.Warningf("Checkout was interrupted by a signal")
			r.Break()

		case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
			e.shell.Warningf("Checkout was cancelled")
			r.Break()

		default:
			e.shell.Warningf("Checkout failed! %s (%s)", err, r)

			// A corrupted working directory makes every retry fail the
			// same way. Removing it means the next attempt clones from
			// scratch, which is slower but lets the job self-heal.
			if errors.Is(err, errCheckoutCorrupt) {
				if removeErr := e.removeCheckoutDir(); removeErr != nil {
					e.shell.Errorf("%v", removeErr)
					r.Break()
				}
			}
		}

		return err
	})
}

func (e *Executor) removeCheckoutDir() error {
	// On Windows, removing large directories can fail transiently for
	// various reasons, for instance having files open.
	// See https://github.com/golang/go/issues/20841
	for range 10 {
		e.shell.Commentf("Removing %s", e.Dir)
		if err := os.RemoveAll(e.Dir); err != nil {
			e.shell.Errorf("Failed to remove %q (%v)", e.Dir, err)
		} else if !osutil.FileExists(e.Dir) {
			return nil
		}
		e.shell.Commentf("Waiting 10 seconds")
		<-time.After(10 * time.Second)
	}

	return fmt.Errorf("failed to remove %s", e.Dir)
}

// updateCheckout brings e.Dir up to date with the repository, cloning it
// first if there's no checkout there yet.
func (e *Executor) updateCheckout(ctx context.Context) error {
	if !osutil.FileExists(filepath.Join(e.Dir, ".git")) {
		if err := os.MkdirAll(filepath.Dir(e.Dir), 0o777); err != nil {
			return err
		}
		// A previous attempt may have removed the shell's working directory
		// along with the checkout, so move somewhere that exists first.
		if err := e.shell.Chdir(filepath.Dir(e.Dir)); err != nil {
			return err
		}
		if err := e.shell.Command("git", "clone", "-v", "--", e.Repository, e.Dir).Run(ctx); err != nil {
			return err
		}
	}

	if err := e.shell.Chdir(e.Dir); err != nil {
		return err
	}

	if e.Branch == "" {
		return e.gitFetch(ctx)
	}

	if err := e.gitFetch(ctx, e.Branch); err != nil {
		return err
	}

	// Force the local branch to the fetched tip, discarding local edits.
	if err := e.shell.Command("git", "checkout", "-f", "-B", e.Branch, "FETCH_HEAD").Run(ctx); err != nil {
		return err
	}

	return e.shell.Command("git", "clean", "-ffxdq").Run(ctx)
}

// gitFetch fetches from origin, sniffing the output for signs that the
// local repository is beyond saving.
func (e *Executor) gitFetch(ctx context.Context, refSpec ...string) error {
	smelt := make(map[string]bool, len(corruptCheckoutMarkers))
	for _, marker := range corruptCheckoutMarkers {
		smelt[marker] = false
	}

	args := append([]string{"fetch", "-v", "--prune", "--", "origin"}, refSpec...)
	err := e.shell.Command("git", args...).Run(ctx, shell.WithStringSearch(smelt))
	if err == nil {
		return nil
	}

	for _, hit := range smelt {
		if hit {
			return fmt.Errorf("%w: %w", errCheckoutCorrupt, err)
		}
	}
	return err
}
