package bom

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/zricethezav/gitleaks/v8/report"
)

const (
	PropRuleID      = "sherlock:secret:rule_id"
	PropCommit      = "sherlock:secret:commit"
	PropFingerprint = "sherlock:secret:fingerprint"
)

// SecretComponents converts secret scan findings into related crypto
// material components. Findings of the same rule and secret are merged into
// one component with several occurrences.
func SecretComponents(findings []report.Finding) []cdx.Component {
	var ret []cdx.Component
	index := make(map[string]int)
	for _, f := range findings {
		compo := findingToComponent(f)
		if i, ok := index[compo.BOMRef]; ok {
			addOccurrence(&ret[i], f)
			continue
		}
		index[compo.BOMRef] = len(ret)
		ret = append(ret, compo)
	}
	return ret
}

func findingToComponent(f report.Finding) cdx.Component {
	cryptoType := materialType(f.RuleID)
	bomRef := fmt.Sprintf("crypto/%s/%s", string(cryptoType), hash(f.RuleID, f.Secret))

	compo := cdx.Component{
		BOMRef:      bomRef,
		Name:        f.RuleID,
		Description: f.Description,
		Type:        cdx.ComponentTypeCryptographicAsset,
		CryptoProperties: &cdx.CryptoProperties{
			AssetType: cdx.CryptoAssetTypeRelatedCryptoMaterial,
			RelatedCryptoMaterialProperties: &cdx.RelatedCryptoMaterialProperties{
				Type: cryptoType,
			},
		},
	}
	SetComponentProp(&compo, PropRuleID, f.RuleID)
	SetComponentProp(&compo, PropCommit, f.Commit)
	SetComponentProp(&compo, PropFingerprint, f.Fingerprint)
	addOccurrence(&compo, f)
	return compo
}

func materialType(ruleID string) cdx.RelatedCryptoMaterialType {
	switch {
	case strings.Contains(ruleID, "private-key"):
		return cdx.RelatedCryptoMaterialTypePrivateKey
	case strings.Contains(ruleID, "jwt"):
		return cdx.RelatedCryptoMaterialTypeToken
	case strings.Contains(ruleID, "token"):
		return cdx.RelatedCryptoMaterialTypeToken
	case strings.Contains(ruleID, "key"):
		return cdx.RelatedCryptoMaterialTypeKey
	case strings.Contains(ruleID, "password"):
		return cdx.RelatedCryptoMaterialTypePassword
	default:
		return cdx.RelatedCryptoMaterialTypeUnknown
	}
}

func addOccurrence(c *cdx.Component, f report.Finding) {
	line := f.StartLine
	occ := cdx.EvidenceOccurrence{Location: f.File, Line: &line}
	if c.Evidence == nil {
		c.Evidence = &cdx.Evidence{}
	}
	if c.Evidence.Occurrences == nil {
		c.Evidence.Occurrences = &[]cdx.EvidenceOccurrence{occ}
		return
	}
	occs := append(*c.Evidence.Occurrences, occ)
	c.Evidence.Occurrences = &occs
}

// SetComponentProp sets (or upserts) a CycloneDX component property.
func SetComponentProp(c *cdx.Component, name, value string) {
	if value == "" {
		return
	}
	if c.Properties == nil {
		c.Properties = &[]cdx.Property{{Name: name, Value: value}}
		return
	}
	props := *c.Properties
	for i := range props {
		if props[i].Name == name {
			props[i].Value = value
			*c.Properties = props
			return
		}
	}
	props = append(props, cdx.Property{Name: name, Value: value})
	*c.Properties = props
}

func hash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
