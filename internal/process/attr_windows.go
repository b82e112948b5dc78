//go:build windows

package process

import "syscall"

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}
