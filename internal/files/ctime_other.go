//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package files

import "os"

func changeTime(st os.FileInfo) float64 {
	return unixSeconds(st.ModTime().UnixNano())
}
