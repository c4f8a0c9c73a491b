//go:build windows

package ocr

import (
	"os/exec"
	"syscall"
)

// hideWindow keeps tesseract from flashing a console window on Windows
func hideWindow(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: 0x08000000, // CREATE_NO_WINDOW
	}
}
