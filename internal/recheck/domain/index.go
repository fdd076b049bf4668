package domain

// IndexVersion is a single version record of an index entry.
type IndexVersion struct {
	Version string
}

// Index maps entry keys ("vendorName-chartName") to their version records
// in document order.
type Index struct {
	Entries map[string][]IndexVersion
}

// Has reports whether entry exists and whether it lists version.
func (i Index) Has(entry, version string) (entryFound, versionFound bool) {
	versions, ok := i.Entries[entry]
	if !ok {
		return false, false
	}
	for _, v := range versions {
		if v.Version == version {
			return true, true
		}
	}
	return true, false
}
