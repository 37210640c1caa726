//go:build darwin

package storage

import (
	"syscall"
)

func probe(path string) (volume, error) {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(path, &fs); err != nil {
		return volume{}, err
	}
	var st syscall.Stat_t
	if err := syscall.Stat(path, &st); err != nil {
		return volume{}, err
	}

	name := make([]byte, 0, len(fs.Fstypename))
	for _, c := range fs.Fstypename {
		if c == 0 {
			break
		}
		name = append(name, byte(c))
	}
	return volume{Kind: string(name), Device: uint64(st.Dev)}, nil
}
