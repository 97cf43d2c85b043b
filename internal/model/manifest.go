package model

// ManifestHashLimit is the largest file that gets a content hash in a
// manifest entry. Bigger files are compared by size and mtime only.
const ManifestHashLimit = 1 << 20 // 1 MiB

// ManifestEntry describes one file inside a snapshot of an upstream location.
type ManifestEntry struct {
	RelativePath string `json:"relative_path"`
	SizeBytes    int64  `json:"size_bytes"`
	MtimeSeconds int64  `json:"mtime_seconds"`
	SHA256       string `json:"sha256,omitempty"` // only for files <= ManifestHashLimit
}

// Manifest is a point-in-time snapshot of one upstream location. Two
// manifests being equal is the consistency oracle for the archive copy
// protocol: a copy taken between two identical scans is known-consistent.
type Manifest struct {
	Entries []ManifestEntry `json:"entries"`
}

// Equal reports whether every entry matches in path, size, mtime and hash.
// Entries are expected in relative-path order, which is how manifests are
// built.
func (m Manifest) Equal(other Manifest) bool {
	if len(m.Entries) != len(other.Entries) {
		return false
	}
	for i, e := range m.Entries {
		o := other.Entries[i]
		if e.RelativePath != o.RelativePath ||
			e.SizeBytes != o.SizeBytes ||
			e.MtimeSeconds != o.MtimeSeconds ||
			e.SHA256 != o.SHA256 {
			return false
		}
	}
	return true
}

// TotalBytes sums the sizes of all entries.
func (m Manifest) TotalBytes() int64 {
	var total int64
	for _, e := range m.Entries {
		total += e.SizeBytes
	}
	return total
}
