//go:build linux || darwin

package deploy

import "golang.org/x/sys/unix"

// diskUsage returns free bytes available to unprivileged users and total
// bytes of the filesystem holding path.
func diskUsage(path string) (free, total uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize)
	return uint64(st.Bavail) * bsize, uint64(st.Blocks) * bsize, nil
}
