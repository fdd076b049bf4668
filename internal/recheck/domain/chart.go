package domain

import "strings"

// ChartRecord identifies a single submittable chart version.
type ChartRecord struct {
	VendorType   string
	VendorName   string
	ChartName    string
	ChartVersion string
}

// String returns "vendorType/vendorName/chartName/chartVersion".
func (c ChartRecord) String() string {
	return strings.Join([]string{c.VendorType, c.VendorName, c.ChartName, c.ChartVersion}, "/")
}

// DirKey identifies the chart directory shared by all versions of a chart.
type DirKey struct {
	VendorType string
	VendorName string
	ChartName  string
}

// Dir returns the key of the chart directory this record belongs to.
func (c ChartRecord) Dir() DirKey {
	return DirKey{VendorType: c.VendorType, VendorName: c.VendorName, ChartName: c.ChartName}
}

// Path returns the directory path relative to chartsDir.
// E.g., "charts/partner/acme/vault"
func (k DirKey) Path(chartsDir string) string {
	return chartsDir + "/" + k.VendorType + "/" + k.VendorName + "/" + k.ChartName
}

// VersionPath returns the chart version directory relative to the repo root.
func (c ChartRecord) VersionPath(chartsDir string) string {
	return c.Dir().Path(chartsDir) + "/" + c.ChartVersion
}

// ForkBranch derives the per-version branch pushed to the fork.
// Example: "test-charts-partner-acme-vault-0.13.0"
func (c ChartRecord) ForkBranch(stagingBranch string) string {
	return strings.Join([]string{stagingBranch, c.VendorType, c.VendorName, c.ChartName, c.ChartVersion}, "-")
}

// IndexEntry is the key under which the chart is listed in the index document.
func (c ChartRecord) IndexEntry() string {
	return c.VendorName + "-" + c.ChartName
}

// ReleaseTag is the tag the release workflow publishes for this chart version.
func (c ChartRecord) ReleaseTag() string {
	return c.VendorName + "-" + c.ChartName + "-" + c.ChartVersion
}

// ReleaseAsset is the packaged chart expected among the release assets.
func (c ChartRecord) ReleaseAsset() string {
	return c.VendorName + "-" + c.ChartName + "-" + c.ChartVersion + ".tgz"
}
