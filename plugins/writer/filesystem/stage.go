package filesystem

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Stage 为工件目录的暂存区：在目标旁的临时目录中写完全部文件，
// Commit 时整体替换目标目录；任何失败路径都不会在目标位置留下半成品。
type Stage struct {
	dest   string
	tmp    string
	direct bool
	done   bool
}

// NewStage 在 dest 的父目录下创建临时目录。
func NewStage(dest string, perm os.FileMode) (*Stage, error) {
	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, perm); err != nil {
		return nil, err
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(dest)+".tmp-")
	if err != nil {
		return nil, err
	}
	_ = os.Chmod(tmp, perm)
	return &Stage{dest: dest, tmp: tmp}, nil
}

// NewDirectStage 直接在 dest 内写入（非原子，先清空已有内容）。
func NewDirectStage(dest string, perm os.FileMode) (*Stage, error) {
	if err := os.RemoveAll(dest); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dest, perm); err != nil {
		return nil, err
	}
	return &Stage{dest: dest, tmp: dest, direct: true}, nil
}

// Dir 返回写入目录。
func (s *Stage) Dir() string { return s.tmp }

// Commit 用暂存目录替换目标目录。
// 目标已存在时先移到旁路，替换成功后再删除；替换失败则回滚旧目录。
func (s *Stage) Commit() error {
	if s.done {
		return errors.New("stage already finished")
	}
	s.done = true
	if s.direct {
		return syncDir(s.dest)
	}
	_ = syncDir(s.tmp)
	var old string
	if _, err := os.Stat(s.dest); err == nil {
		old = s.tmp + ".old"
		if err := os.Rename(s.dest, old); err != nil {
			_ = os.RemoveAll(s.tmp)
			return errors.Wrap(err, "move previous artifact aside")
		}
	} else if !os.IsNotExist(err) {
		_ = os.RemoveAll(s.tmp)
		return err
	}
	if err := os.Rename(s.tmp, s.dest); err != nil {
		if old != "" {
			_ = os.Rename(old, s.dest)
		}
		_ = os.RemoveAll(s.tmp)
		return errors.Wrap(err, "publish artifact")
	}
	if old != "" {
		_ = os.RemoveAll(old)
	}
	_ = syncDir(filepath.Dir(s.dest))
	return nil
}

// Abort 清理暂存目录；Commit 之后调用为空操作。
func (s *Stage) Abort() {
	if s.done {
		return
	}
	s.done = true
	_ = os.RemoveAll(s.tmp)
}
