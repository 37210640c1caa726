//go:build !darwin && !linux

package storage

// probe cannot inspect volumes here. SameFilesystem then reports an error,
// and publishing relies on its cross-device copy fallback.
func probe(string) (volume, error) {
	return volume{}, errProbeUnsupported
}
