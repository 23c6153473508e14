package diskmgr

import "fmt"

// sgdiskCommand pairs a human step description with the literal shell
// command it runs.
type sgdiskCommand struct{ step, cmd string }

// SgdiskPartitionCommands returns, in order, the sgdisk invocations
// that create the fixed four-partition GPT layout on disk: ESP (EF00,
// 512MiB), RESET (8300, 4GiB), BPOOL (BE00, 2GiB), LUKS (8309,
// remainder). Each partition number has a fixed role, so the type
// codes are assigned directly rather than inferred from a requested
// filesystem.
func SgdiskPartitionCommands(disk string) []sgdiskCommand {
	return []sgdiskCommand{
		{"create new GPT label", fmt.Sprintf("sgdisk -o %s", disk)},
		{"create ESP (p1)", fmt.Sprintf("sgdisk -n 1:2048:+512M -t 1:EF00 -c 1:'EFI System Partition' %s", disk)},
		{"create RESET (p2)", fmt.Sprintf("sgdisk -n 2:0:+4G -t 2:8300 -c 2:'RESET' %s", disk)},
		{"create BPOOL (p3)", fmt.Sprintf("sgdisk -n 3:0:+2G -t 3:BE00 -c 3:'BPOOL' %s", disk)},
		{"create LUKS (p4)", fmt.Sprintf("sgdisk -n 4:0:0 -t 4:8309 -c 4:'LUKS' %s", disk)},
	}
}

// BuildMkfsESP returns the mkfs.vfat invocation for the ESP partition.
func BuildMkfsESP(disk string) string {
	return fmt.Sprintf("mkfs.vfat -F32 -n ESP %s", ESPPartition(disk))
}

// BuildMkfsReset returns the mkfs.ext4 invocation for the RESET partition.
func BuildMkfsReset(disk string) string {
	return fmt.Sprintf("mkfs.ext4 -F -L RESET %s", ResetPartition(disk))
}
