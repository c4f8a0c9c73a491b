//go:build !windows

package ocr

import "os/exec"

// hideWindow 在非 Windows 平台上不做任何操作
func hideWindow(cmd *exec.Cmd) {}
