package bom

import (
	"strings"

	"github.com/DevJayantaGhosh/sherlock/internal/report"

	cdx "github.com/CycloneDX/cyclonedx-go"
)

// VulnComponents converts a trivy report into library components and
// vulnerabilities which affect them.
func VulnComponents(r report.TrivyReport) ([]cdx.Component, []cdx.Vulnerability) {
	var compos []cdx.Component
	var vulns []cdx.Vulnerability
	seen := make(map[string]struct{})
	for _, res := range r.Results {
		for _, v := range res.Vulnerabilities {
			ref := "pkg/" + res.Type + "/" + v.PkgName + "@" + v.InstalledVersion
			if _, ok := seen[ref]; !ok {
				seen[ref] = struct{}{}
				compo := cdx.Component{
					BOMRef:  ref,
					Type:    cdx.ComponentTypeLibrary,
					Name:    v.PkgName,
					Version: v.InstalledVersion,
				}
				AddEvidenceLocation(&compo, res.Target)
				compos = append(compos, compo)
			}

			vuln := cdx.Vulnerability{
				BOMRef:      v.VulnerabilityID + "/" + ref,
				ID:          v.VulnerabilityID,
				Description: v.Title,
				Detail:      v.Description,
				Ratings: &[]cdx.VulnerabilityRating{
					{Severity: severity(v.Severity)},
				},
				Affects: &[]cdx.Affects{{Ref: ref}},
			}
			if v.PrimaryURL != "" {
				vuln.Source = &cdx.Source{URL: v.PrimaryURL}
			}
			if v.FixedVersion != "" {
				vuln.Recommendation = "upgrade " + v.PkgName + " to " + v.FixedVersion
			}
			vulns = append(vulns, vuln)
		}
	}
	return compos, vulns
}

func severity(s string) cdx.Severity {
	switch strings.ToUpper(s) {
	case "CRITICAL":
		return cdx.SeverityCritical
	case "HIGH":
		return cdx.SeverityHigh
	case "MEDIUM":
		return cdx.SeverityMedium
	case "LOW":
		return cdx.SeverityLow
	default:
		return cdx.SeverityUnknown
	}
}

// AddEvidenceLocation appends an evidence.occurrence location if non-empty.
func AddEvidenceLocation(c *cdx.Component, loc string) {
	if loc == "" {
		return
	}
	occ := cdx.EvidenceOccurrence{Location: loc}
	if c.Evidence == nil {
		c.Evidence = &cdx.Evidence{Occurrences: &[]cdx.EvidenceOccurrence{occ}}
		return
	}
	if c.Evidence.Occurrences == nil {
		c.Evidence.Occurrences = &[]cdx.EvidenceOccurrence{occ}
		return
	}
	occs := append(*c.Evidence.Occurrences, occ)
	c.Evidence.Occurrences = &occs
}
