//go:build linux

package build

import "syscall"

func chrootAttr(root string) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Chroot: root}
}
