package executor

import (
	"context"
	"io"
	"os"

	"github.com/proview/fileops/pkg/fserrors"
	"github.com/proview/fileops/pkg/plan"
	"github.com/proview/fileops/pkg/progress"
	"gitlab.com/tozd/go/errors"
)

// perform executes one step against the live filesystem. It returns the
// number of bytes actually copied (zero for non-copy steps and for steps
// that turn out to be already applied).
//
// Every branch re-validates the paths involved before mutating: the plan
// was built against snapshots, and the filesystem may have moved on since.
// A step whose effect is already present (resume after a crash) commits as
// a no-op.
func (r *planRun) perform(ctx context.Context, index int, step plan.Step) (int64, error) {
	switch step.Kind {
	case plan.StepCreateDirectory:
		return 0, r.createDirectory(step)
	case plan.StepCopyFile:
		return r.copyFile(ctx, index, step)
	case plan.StepDeleteFile:
		return 0, r.deleteFile(step)
	case plan.StepDeleteDirectory:
		return 0, r.deleteDirectory(step)
	case plan.StepRenameEntry:
		return 0, r.renameEntry(step)
	default:
		return 0, errors.Errorf("%w: unknown step kind", fserrors.ErrInvalidPath)
	}
}

func (r *planRun) createDirectory(step plan.Step) error {
	info, err := os.Lstat(step.Dest)
	if err == nil {
		if info.IsDir() {
			// Merging into an existing directory, or resuming: done.
			return nil
		}
		return errors.Errorf("%w: %s exists and is not a directory", fserrors.ErrPathChanged, step.Dest)
	}
	if !os.IsNotExist(err) {
		return fserrors.Classify(errors.Errorf("statting %s: %w", step.Dest, err))
	}
	if err := os.MkdirAll(step.Dest, 0755); err != nil {
		return fserrors.Classify(errors.Errorf("creating directory %s: %w", step.Dest, err))
	}
	return nil
}

func (r *planRun) deleteFile(step plan.Step) error {
	info, err := os.Lstat(step.Source)
	if err != nil {
		if os.IsNotExist(err) {
			// Already gone; deletion is idempotent.
			return nil
		}
		return fserrors.Classify(errors.Errorf("statting %s: %w", step.Source, err))
	}
	if info.IsDir() {
		return errors.Errorf("%w: %s became a directory", fserrors.ErrPathChanged, step.Source)
	}
	if err := os.Remove(step.Source); err != nil {
		return fserrors.Classify(errors.Errorf("deleting %s: %w", step.Source, err))
	}
	return nil
}

func (r *planRun) deleteDirectory(step plan.Step) error {
	info, err := os.Lstat(step.Source)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fserrors.Classify(errors.Errorf("statting %s: %w", step.Source, err))
	}
	if !info.IsDir() {
		return errors.Errorf("%w: %s is no longer a directory", fserrors.ErrPathChanged, step.Source)
	}

	if step.Recursive {
		if err := os.RemoveAll(step.Source); err != nil {
			return fserrors.Classify(errors.Errorf("removing %s: %w", step.Source, err))
		}
		return nil
	}
	// Bottom-up plans delete children first, so this directory is
	// expected to be empty by now; anything left means the filesystem
	// changed under us.
	if err := os.Remove(step.Source); err != nil {
		return fserrors.Classify(errors.Errorf("removing %s: %w", step.Source, err))
	}
	return nil
}

func (r *planRun) renameEntry(step plan.Step) error {
	_, srcErr := os.Lstat(step.Source)
	_, dstErr := os.Lstat(step.Dest)

	if os.IsNotExist(srcErr) {
		if dstErr == nil {
			// Source gone, destination present: already applied.
			return nil
		}
		return errors.Errorf("%w: %s", fserrors.ErrNotFound, step.Source)
	}
	if srcErr != nil {
		return fserrors.Classify(errors.Errorf("statting %s: %w", step.Source, srcErr))
	}
	if dstErr == nil {
		return errors.Errorf("%w: %s appeared at the destination", fserrors.ErrPathChanged, step.Dest)
	}

	if err := os.Rename(step.Source, step.Dest); err != nil {
		return fserrors.Classify(errors.Errorf("renaming %s: %w", step.Source, err))
	}
	return nil
}

// copyFile copies one file with cancellation serviced once per chunk, so
// even a multi-gigabyte copy stops promptly. A partially written
// destination is removed before the cancellation is reported.
func (r *planRun) copyFile(ctx context.Context, index int, step plan.Step) (int64, error) {
	srcInfo, err := os.Lstat(step.Source)
	if err != nil {
		return 0, fserrors.Classify(errors.Errorf("statting %s: %w", step.Source, err))
	}
	if srcInfo.IsDir() {
		return 0, errors.Errorf("%w: %s became a directory", fserrors.ErrPathChanged, step.Source)
	}

	if dstInfo, err := os.Lstat(step.Dest); err == nil {
		// The plan resolved all conflicts, so nothing should be here.
		// An identical file means the step already ran (resume); anything
		// else means another writer got here first.
		if !dstInfo.IsDir() && dstInfo.Size() == srcInfo.Size() && dstInfo.ModTime().Equal(srcInfo.ModTime()) {
			return 0, nil
		}
		return 0, errors.Errorf("%w: %s already exists at the destination", fserrors.ErrPathChanged, step.Dest)
	} else if !os.IsNotExist(err) {
		return 0, fserrors.Classify(errors.Errorf("statting %s: %w", step.Dest, err))
	}

	src, err := os.Open(step.Source)
	if err != nil {
		return 0, fserrors.Classify(errors.Errorf("opening %s: %w", step.Source, err))
	}
	defer src.Close()

	dst, err := os.OpenFile(step.Dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, srcInfo.Mode().Perm())
	if err != nil {
		return 0, fserrors.Classify(errors.Errorf("creating %s: %w", step.Dest, err))
	}

	written, err := r.copyLoop(ctx, index, step, src, dst)
	if err != nil {
		dst.Close()
		os.Remove(step.Dest)
		return 0, err
	}

	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(step.Dest)
		return 0, fserrors.Classify(errors.Errorf("syncing %s: %w", step.Dest, err))
	}
	if err := dst.Close(); err != nil {
		os.Remove(step.Dest)
		return 0, fserrors.Classify(errors.Errorf("closing %s: %w", step.Dest, err))
	}

	// Carry the source timestamp so copies are recognizable as applied on
	// a later resume. Best effort.
	_ = os.Chtimes(step.Dest, srcInfo.ModTime(), srcInfo.ModTime())

	return written, nil
}

func (r *planRun) copyLoop(ctx context.Context, index int, step plan.Step, src io.Reader, dst io.Writer) (int64, error) {
	buf := make([]byte, r.exec.chunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, errors.Errorf("copying %s: %w", step.Source, err)
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, fserrors.Classify(errors.Errorf("writing %s: %w", step.Dest, err))
			}
			written += int64(n)
			r.emitter.Emit(r.eventAt(index, step, written))
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, fserrors.Classify(errors.Errorf("reading %s: %w", step.Source, readErr))
		}
	}
}

// eventAt reports mid-copy progress without bumping the run's cumulative
// counter; the counter advances once when the step finishes.
func (r *planRun) eventAt(index int, step plan.Step, written int64) progress.Event {
	return progress.Event{
		PlanID:     r.plan.ID,
		StepIndex:  index,
		StepLabel:  step.Kind.String() + " " + step.Path(),
		BytesDone:  r.bytesDone + written,
		BytesTotal: r.totalBytes,
	}
}
