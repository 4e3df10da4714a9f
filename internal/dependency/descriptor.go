// Package dependency provisions third-party artifacts declared in configuration.
//
// Each Descriptor names an artifact by group, artifact and version inside a
// Maven-layout repository. The Fetcher downloads it together with the published
// .sha512 reference digest and stores it at a deterministic path. The
// Provisioner fans fetches out in parallel and returns whatever resolved:
// provisioning is best-effort and never all-or-nothing.
package dependency

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/dshills/scripthost/internal/checksum"
	"github.com/dshills/scripthost/internal/config"
)

// DefaultExtension is the artifact file extension when none is declared.
const DefaultExtension = "jar"

// DefaultRepository is used when a declaration names no repository.
const DefaultRepository = "https://repo1.maven.org/maven2/"

// Record attribute names.
const (
	AttrGroupID    = "groupId"
	AttrArtifactID = "artifactId"
	AttrVersion    = "version"
	AttrRepository = "repository"
	AttrExtension  = "extension"
)

// ErrInvalidDescriptor is wrapped by every descriptor validation failure.
var ErrInvalidDescriptor = errors.New("invalid dependency descriptor")

// Descriptor identifies one external artifact. It is a value type and never
// changes after parsing.
type Descriptor struct {
	GroupID    string
	ArtifactID string
	Version    string
	Repository string
	Extension  string
}

// FromRecord builds a descriptor from a dependency document record.
//
// Missing coordinates fall back to a "group:artifact:version" record key, and a
// missing repository falls back to DefaultRepository.
func FromRecord(r config.Record) (Descriptor, error) {
	d := Descriptor{
		GroupID:    r.Get(AttrGroupID),
		ArtifactID: r.Get(AttrArtifactID),
		Version:    r.Get(AttrVersion),
		Repository: r.GetOr(AttrRepository, DefaultRepository),
		Extension:  r.Get(AttrExtension),
	}

	if parts := strings.Split(r.Key, ":"); len(parts) == 3 {
		if d.GroupID == "" {
			d.GroupID = parts[0]
		}
		if d.ArtifactID == "" {
			d.ArtifactID = parts[1]
		}
		if d.Version == "" {
			d.Version = parts[2]
		}
	}

	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Validate rejects descriptors that cannot produce a safe path and URL.
func (d Descriptor) Validate() error {
	for name, v := range map[string]string{
		AttrGroupID:    d.GroupID,
		AttrArtifactID: d.ArtifactID,
		AttrVersion:    d.Version,
	} {
		if v == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidDescriptor, name)
		}
		if strings.ContainsAny(v, `/\`) || strings.Contains(v, "..") {
			return fmt.Errorf("%w: %s %q contains a path separator", ErrInvalidDescriptor, name, v)
		}
	}
	if strings.ContainsAny(d.Extension, `/\.`) {
		return fmt.Errorf("%w: extension %q", ErrInvalidDescriptor, d.Extension)
	}

	u, err := url.Parse(d.Repository)
	if err != nil {
		return fmt.Errorf("%w: repository: %v", ErrInvalidDescriptor, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: repository %q must be an http(s) URL", ErrInvalidDescriptor, d.Repository)
	}
	return nil
}

// Coordinates returns "group:artifact:version".
func (d Descriptor) Coordinates() string {
	return d.GroupID + ":" + d.ArtifactID + ":" + d.Version
}

// String implements fmt.Stringer.
func (d Descriptor) String() string {
	return d.Coordinates()
}

// Ext returns the artifact file extension.
func (d Descriptor) Ext() string {
	if d.Extension == "" {
		return DefaultExtension
	}
	return d.Extension
}

// FileName returns "artifact-version.ext".
func (d Descriptor) FileName() string {
	return d.ArtifactID + "-" + d.Version + "." + d.Ext()
}

// RelPath returns the slash-separated storage path
// "group/with/slashes/artifact/version/artifact-version.ext".
func (d Descriptor) RelPath() string {
	return path.Join(strings.ReplaceAll(d.GroupID, ".", "/"), d.ArtifactID, d.Version, d.FileName())
}

// URL returns the artifact download URL.
func (d Descriptor) URL() string {
	return strings.TrimRight(d.Repository, "/") + "/" + d.RelPath()
}

// ChecksumURL returns the URL of the published reference digest.
func (d Descriptor) ChecksumURL() string {
	return d.URL() + checksum.Extension
}

// Resolved is a descriptor plus the local artifact file. An empty Path means
// the dependency is unavailable.
type Resolved struct {
	Descriptor
	Path string
}

// Available reports whether the dependency has a local file.
func (r Resolved) Available() bool {
	return r.Path != ""
}
