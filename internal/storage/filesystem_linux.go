//go:build linux

package storage

import (
	"strconv"
	"syscall"
)

// statfs f_type magic numbers, see statfs(2).
var linuxFSTypes = map[uint32]string{
	0x6969:     "nfs",
	0xFF534D42: "cifs",
	0x517B:     "smbfs",
	0xFE534D42: "smb2",
	0xEF53:     "ext4",
	0x58465342: "xfs",
	0x9123683E: "btrfs",
	0x01021994: "tmpfs",
	0x794C7630: "overlay",
}

func probeFSType(path string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", err
	}
	if name, ok := linuxFSTypes[uint32(st.Type)]; ok {
		return name, nil
	}
	return "0x" + strconv.FormatUint(uint64(uint32(st.Type)), 16), nil
}
