//go:build linux

package storage

import (
	"fmt"
	"syscall"
)

// statfs f_type magic numbers for network filesystems.
var linuxRemoteMagic = map[int64]string{
	0x6969:     "nfs",
	0xFF534D42: "cifs",
	0x517B:     "smbfs",
	0xFE534D42: "smb2",
}

func probe(path string) (volume, error) {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(path, &fs); err != nil {
		return volume{}, err
	}
	var st syscall.Stat_t
	if err := syscall.Stat(path, &st); err != nil {
		return volume{}, err
	}

	kind, ok := linuxRemoteMagic[int64(fs.Type)]
	if !ok {
		kind = fmt.Sprintf("0x%x", uint64(fs.Type))
	}
	return volume{Kind: kind, Device: uint64(st.Dev)}, nil
}
