// Package bom exports session results as a CycloneDX BOM.
package bom

import (
	"io"
	"runtime/debug"
	"time"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/google/uuid"
)

var version string

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		version = "unknown"
	} else {
		version = info.Main.Version
	}
}

// Builder is a builder pattern for a CycloneDX BOM structure
type Builder struct {
	authors         []cdx.OrganizationalContact
	components      []cdx.Component
	dependencies    []cdx.Dependency
	properties      []cdx.Property
	vulnerabilities []cdx.Vulnerability
	subject         *cdx.Component
}

func NewBuilder() *Builder {
	return &Builder{
		// those MUST be initialized as cyclone-dx JSON schema do not allow items to be null
		authors:         []cdx.OrganizationalContact{},
		components:      []cdx.Component{},
		dependencies:    []cdx.Dependency{},
		properties:      []cdx.Property{},
		vulnerabilities: []cdx.Vulnerability{},
	}
}

func (b *Builder) AppendAuthors(authors ...cdx.OrganizationalContact) *Builder {
	b.authors = append(b.authors, authors...)
	return b
}

func (b *Builder) AppendComponents(components ...cdx.Component) *Builder {
	b.components = append(b.components, components...)
	return b
}

func (b *Builder) AppendProperties(properties ...cdx.Property) *Builder {
	b.properties = append(b.properties, properties...)
	return b
}

func (b *Builder) AppendDependencies(dependencies ...cdx.Dependency) *Builder {
	b.dependencies = append(b.dependencies, dependencies...)
	return b
}

func (b *Builder) AppendVulnerabilities(vulns ...cdx.Vulnerability) *Builder {
	b.vulnerabilities = append(b.vulnerabilities, vulns...)
	return b
}

// WithSubject sets the scanned repository as the BOM metadata component.
func (b *Builder) WithSubject(name, revision, url string) *Builder {
	c := &cdx.Component{
		BOMRef:  "repository/" + name,
		Type:    cdx.ComponentTypeApplication,
		Name:    name,
		Version: revision,
	}
	if url != "" {
		c.ExternalReferences = &[]cdx.ExternalReference{{URL: url, Type: cdx.ERTypeVCS}}
	}
	b.subject = c
	return b
}

// BOM returns a cdx.BOM based on a data inside the Builder
func (b *Builder) BOM() cdx.BOM {
	bom := cdx.BOM{
		JSONSchema:   "https://cyclonedx.org/schema/bom-1.6.schema.json",
		BOMFormat:    "CycloneDX",
		SpecVersion:  cdx.SpecVersion1_6,
		SerialNumber: "urn:uuid:" + uuid.New().String(),
		Version:      1,
		Metadata: &cdx.Metadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Lifecycles: &[]cdx.Lifecycle{
				{
					Phase: cdx.LifecyclePhaseOperations,
				},
			},
			Authors: &b.authors,
			Tools: &cdx.ToolsChoice{
				Components: &[]cdx.Component{
					{
						Type:    cdx.ComponentTypeApplication,
						Name:    "sherlock",
						Version: version,
					},
				},
			},
			Component: b.subject,
		},
		Components:      &b.components,
		Dependencies:    &b.dependencies,
		Properties:      &b.properties,
		Vulnerabilities: &b.vulnerabilities,
	}
	return bom
}

// AsJSON encode the BOM into JSON format
func (b *Builder) AsJSON(w io.Writer) error {
	bom := b.BOM()
	return cdx.NewBOMEncoder(w, cdx.BOMFileFormatJSON).SetPretty(true).Encode(&bom)
}
