//go:build linux || darwin || freebsd || netbsd || openbsd

package files

import (
	"os"
	"syscall"
)

func changeTime(st os.FileInfo) float64 {
	sys, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return unixSeconds(st.ModTime().UnixNano())
	}
	sec, nsec := ctimespec(sys)
	return float64(sec) + float64(nsec)/1e9
}
