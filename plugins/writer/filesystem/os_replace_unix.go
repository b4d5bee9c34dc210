//go:build !windows

package filesystem

import "os"

// osReplace: POSIX 下同目录 rename 即原子替换。
func osReplace(tmpPath, dest string) error {
	return os.Rename(tmpPath, dest)
}

// syncDir 对目录做 fsync，使 rename/新建条目落盘（最佳努力）。
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
