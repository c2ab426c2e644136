package native

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/prometheus/procfs"
)

// ThreadIDs returns the ids of the threads of process pid, in ascending
// order. The result is a snapshot of /proc/<pid>/task at the time of the
// call.
func ThreadIDs(pid int) ([]int, error) {
	return threadIDs(procfs.DefaultMountPoint, pid)
}

func threadIDs(mountPoint string, pid int) ([]int, error) {
	taskPath := fmt.Sprintf("%s/%d/task", mountPoint, pid)
	fsys, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, &IOError{Path: mountPoint, Err: err}
	}
	threads, err := fsys.AllThreads(pid)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ProcessNotFoundError{Pid: pid}
		}
		return nil, &IOError{Path: taskPath, Err: err}
	}
	tids := make([]int, 0, len(threads))
	for _, t := range threads {
		tids = append(tids, t.PID)
	}
	sort.Ints(tids)
	return tids, nil
}
