package core

import (
	packageurl "github.com/package-url/packageurl-go"
)

// purlType is the PURL "type" segment for every package this module
// resolves: Wally's registry has no competing ecosystem within one
// project, so unlike a multi-registry client this is a constant, not a
// per-call parameter.
const purlType = "wally"

// PURL renders a canonical Package URL for diagnostics, SBOM export, and
// log correlation (spec §3 "Additions"). It is never written to the
// manifest or lockfile — those keep the scope/name canonical form.
// When version is the zero Version, the PURL omits the @version segment.
func (id PackageId) PURL(version Version) string {
	qualifiers := packageurl.Qualifiers{}
	p := packageurl.NewPackageURL(purlType, id.Scope, id.Name, versionString(version), qualifiers, "")
	return p.ToString()
}

func versionString(v Version) string {
	if v.IsZero() {
		return ""
	}
	return v.String()
}
