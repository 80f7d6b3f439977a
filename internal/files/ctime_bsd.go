//go:build darwin || freebsd || netbsd || openbsd

package files

import "syscall"

func ctimespec(st *syscall.Stat_t) (int64, int64) {
	return int64(st.Ctimespec.Sec), int64(st.Ctimespec.Nsec)
}
