package edge

import (
	"context"
	"fmt"
	"os"
)

// EdgeReloader points nginx's sites-enabled symlink at either a site's own
// available config or the shared hibernating placeholder, then reloads
// nginx if the link actually changed.
//
// Removing the old link and creating the new one as two separate syscalls
// would leave a window where the link is briefly absent if the process dies
// in between. SwapSymlink instead builds the new link at a temporary path
// and renames it onto the target, which is atomic on the same filesystem:
// readers of link always see either the old or the new target, never
// neither.
type EdgeReloader struct{}

func NewEdgeReloader() *EdgeReloader {
	return &EdgeReloader{}
}

// SwapSymlink points link at target, reloading nginx only if the link
// didn't already point there.
func (r *EdgeReloader) SwapSymlink(ctx context.Context, target, link string) error {
	changed, err := swapSymlinkAtomic(target, link)
	if err != nil {
		return fmt.Errorf("swapping symlink %s -> %s: %w", link, target, err)
	}
	if !changed {
		return nil
	}
	return runShell(ctx, "nginx -s reload")
}

func swapSymlinkAtomic(target, link string) (changed bool, err error) {
	current, err := os.Readlink(link)
	if err == nil && current == target {
		return false, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("reading existing symlink: %w", err)
	}

	tmp := link + ".hibernator-tmp"
	_ = os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return false, fmt.Errorf("creating replacement symlink: %w", err)
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return false, fmt.Errorf("renaming replacement symlink into place: %w", err)
	}
	return true, nil
}
